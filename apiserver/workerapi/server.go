// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package workerapi serves the per-unit HTTP surface under /unit_api.
// Every mutating endpoint answers with a task envelope so callers poll
// the same way regardless of how fast the work finished.
package workerapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/pioreactor/pioreactor/apiserver/apierrors"
	"github.com/pioreactor/pioreactor/apiserver/common"
	"github.com/pioreactor/pioreactor/internal/bus"
	"github.com/pioreactor/pioreactor/internal/calibrations"
	"github.com/pioreactor/pioreactor/internal/jobs"
	"github.com/pioreactor/pioreactor/internal/plugins"
	"github.com/pioreactor/pioreactor/internal/taskqueue"
)

var logger = loggo.GetLogger("pioreactor.apiserver.workerapi")

// maxBodyBytes bounds JSON request bodies. Archives have their own
// limit.
const maxBodyBytes = 1 << 20

// maxArchiveBytes bounds an uploaded dot-pioreactor archive.
const maxArchiveBytes = 512 << 20

// Config holds the worker API server's dependencies.
type Config struct {
	// Unit is this worker's name.
	Unit string
	// LeaderHostname is recorded in exported archives.
	LeaderHostname string
	// IsLeader marks a leader that also runs the worker surface.
	IsLeader bool
	// AppVersion is reported by the version endpoints and archives.
	AppVersion string
	// DataDir is the unit's dot-pioreactor directory.
	DataDir string

	Clock        clock.Clock
	Jobs         *jobs.Manager
	Settings     *jobs.SettingsStore
	Queue        *taskqueue.Queue
	Calibrations *calibrations.Store
	Estimators   *calibrations.Store
	Plugins      *plugins.Registry
	Hub          bus.Hub
	// Run executes system commands (reboot, update and friends).
	Run plugins.CommandRunner
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Unit == "" {
		return errors.NotValidf("missing Unit")
	}
	if c.DataDir == "" {
		return errors.NotValidf("missing DataDir")
	}
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if c.Jobs == nil {
		return errors.NotValidf("missing Jobs")
	}
	if c.Queue == nil {
		return errors.NotValidf("missing Queue")
	}
	if c.Settings == nil {
		return errors.NotValidf("missing Settings")
	}
	if c.Calibrations == nil || c.Estimators == nil {
		return errors.NotValidf("missing calibration stores")
	}
	if c.Plugins == nil {
		return errors.NotValidf("missing Plugins")
	}
	if c.Hub == nil {
		return errors.NotValidf("missing Hub")
	}
	if c.Run == nil {
		return errors.NotValidf("missing Run")
	}
	return nil
}

// Server is the worker HTTP API.
type Server struct {
	cfg    Config
	router *mux.Router
}

// NewServer returns a worker API server with its routes registered.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &Server{cfg: cfg}
	s.router = s.newRouter()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		apierrors.ServeError(w, errors.NotFoundf("path %q", req.URL.Path))
	})

	api := r.PathPrefix("/unit_api").Subrouter()
	handle := func(method, path string, f apierrors.FailableHandlerFunc) {
		api.Handle(path, apierrors.Handler(f)).Methods(method)
	}

	handle("POST", "/jobs/run/job_name/{job}", s.runJob)
	handle("POST", "/jobs/stop", s.stopJobs)
	handle("POST", "/jobs/stop/all", s.stopAllJobs)
	handle("GET", "/jobs/running", s.runningJobs)
	handle("GET", "/jobs/running/{job}", s.runningJobs)
	handle("GET", "/jobs/running/experiments/{experiment}", s.runningJobs)
	handle("GET", "/jobs/settings/job_name/{job}", s.jobSettings)
	handle("GET", "/jobs/settings/job_name/{job}/setting/{setting}", s.jobSetting)
	handle("PATCH", "/jobs/settings/job_name/{job}", s.patchJobSettings)
	handle("PATCH", "/jobs/settings/job_name/{job}/setting/{setting}", s.patchJobSettings)

	for _, d := range []docRoutes{
		{store: s.cfg.Calibrations, prefix: "/calibrations", activePrefix: "/active_calibrations"},
		{store: s.cfg.Estimators, prefix: "/estimators", activePrefix: "/active_estimators"},
	} {
		d := d
		handle("GET", d.prefix, d.list)
		handle("GET", d.prefix+"/{device}", d.listDevice)
		handle("GET", d.prefix+"/{device}/{name}", d.get)
		handle("POST", d.prefix+"/{device}", d.save)
		handle("DELETE", d.prefix+"/{device}/{name}", d.delete)
		handle("GET", d.activePrefix, d.allActive)
		handle("PATCH", d.activePrefix+"/{device}/{name}", d.setActive)
		handle("DELETE", d.activePrefix+"/{device}", d.clearActive)
	}
	handle("GET", "/zipped_calibrations", s.zippedCalibrations)

	handle("GET", "/zipped_dot_pioreactor", s.exportDotPioreactor)
	handle("POST", "/import_zipped_dot_pioreactor", s.importDotPioreactor)
	handle("GET", "/system/path", s.browsePath)
	handle("GET", "/system/path/{rest:.*}", s.browsePath)
	handle("POST", "/system/remove_file", s.removeFile)
	handle("POST", "/system/reboot", s.reboot)
	handle("POST", "/system/shutdown", s.shutdown)
	handle("POST", "/system/update", s.update)
	handle("POST", "/system/update/{target}", s.update)
	handle("GET", "/system/utc_clock", s.readClock)
	handle("POST", "/system/utc_clock", s.setClock)

	handle("GET", "/plugins/installed", s.installedPlugins)
	handle("POST", "/plugins/installed", s.installedPlugins)
	handle("POST", "/plugins/install", s.installPlugin)
	handle("POST", "/plugins/uninstall", s.uninstallPlugin)

	handle("GET", "/health", s.health)
	handle("GET", "/versions/app", s.appVersion)
	handle("GET", "/capabilities", s.capabilities)
	handle("POST", "/blink", s.blink)
	handle("GET", "/task_results/{id}", s.taskResult)
	return r
}

// decodeJSON reads the request body into v. An empty body leaves v at
// its zero value.
func decodeJSON(r *http.Request, v interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Trace(err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewBadRequest(err, "invalid JSON body")
	}
	return nil
}

// submit queues a task and writes its envelope.
func (s *Server) submit(w http.ResponseWriter, name, lock string, fn taskqueue.Func) error {
	task, err := s.cfg.Queue.Submit(name, lock, fn)
	if err != nil {
		return errors.Trace(err)
	}
	status, resp := common.TaskEnvelope(task)
	return errors.Trace(apierrors.SendJSON(w, status, resp))
}

func (s *Server) taskResult(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["id"]
	task, ok := s.cfg.Queue.Get(id)
	if !ok {
		status, resp := common.UnknownTaskEnvelope(id)
		return errors.Trace(apierrors.SendJSON(w, status, resp))
	}
	status, resp := common.TaskEnvelope(task)
	return errors.Trace(apierrors.SendJSON(w, status, resp))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) error {
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, map[string]string{"status": "healthy"}))
}
