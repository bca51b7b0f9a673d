// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package leaderapi serves the cluster HTTP surface under /api. Every
// worker-touching endpoint resolves its targets through the targeter,
// then reaches the workers over the bus or the worker API; all local
// state changes go through the domain services.
package leaderapi

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
	clusterconfigservice "github.com/pioreactor/pioreactor/domain/clusterconfig/service"
	experimentservice "github.com/pioreactor/pioreactor/domain/experiment/service"
	inventoryservice "github.com/pioreactor/pioreactor/domain/inventory/service"
	logservice "github.com/pioreactor/pioreactor/domain/logs/service"
	timeseriesservice "github.com/pioreactor/pioreactor/domain/timeseries/service"
	"github.com/pioreactor/pioreactor/internal/bus"
	"github.com/pioreactor/pioreactor/internal/multicast"
	"github.com/pioreactor/pioreactor/internal/plugins"
	"github.com/pioreactor/pioreactor/internal/profiles"
	"github.com/pioreactor/pioreactor/internal/taskqueue"
)

var logger = loggo.GetLogger("pioreactor.apiserver.leaderapi")

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Config holds the leader API server's dependencies.
type Config struct {
	// LeaderUnit is the leader's own unit name.
	LeaderUnit string
	// AppVersion is the leader's software version.
	AppVersion string
	// ContribDir holds plugin-contributed UI manifests.
	ContribDir string

	Clock       clock.Clock
	Experiments *experimentservice.Service
	Inventory   *inventoryservice.Service
	Logs        *logservice.Service
	TimeSeries  *timeseriesservice.Service
	Configs     *clusterconfigservice.Service
	Profiles    *profiles.Store
	Queue       *taskqueue.Queue
	Hub         bus.Hub
	Caster      *multicast.Multicaster
	// Run executes leader-side system commands (config sync, clock).
	Run plugins.CommandRunner
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.LeaderUnit == "" {
		return errors.NotValidf("missing LeaderUnit")
	}
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if c.Experiments == nil || c.Inventory == nil || c.Logs == nil ||
		c.TimeSeries == nil || c.Configs == nil || c.Profiles == nil {
		return errors.NotValidf("missing domain services")
	}
	if c.Queue == nil {
		return errors.NotValidf("missing Queue")
	}
	if c.Hub == nil {
		return errors.NotValidf("missing Hub")
	}
	if c.Caster == nil {
		return errors.NotValidf("missing Caster")
	}
	if c.Run == nil {
		return errors.NotValidf("missing Run")
	}
	return nil
}

// Server is the leader HTTP API.
type Server struct {
	cfg    Config
	router *mux.Router
}

// NewServer returns a leader API server with its routes registered.
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
		apierrors.ServeError(w, errors.NotFoundf(
			"path %q; worker endpoints are served under /unit_api on each unit", req.URL.Path))
	})

	api := r.PathPrefix("/api").Subrouter()
	handle := func(method, path string, f apierrors.FailableHandlerFunc) {
		api.Handle(path, apierrors.Handler(f)).Methods(method)
	}

	handle("GET", "/experiments", s.listExperiments)
	handle("POST", "/experiments", s.createExperiment)
	handle("GET", "/experiments/latest", s.latestExperiment)
	handle("GET", "/experiments/{experiment}", s.getExperiment)
	handle("PATCH", "/experiments/{experiment}", s.patchExperiment)
	handle("DELETE", "/experiments/{experiment}", s.deleteExperiment)

	handle("GET", "/workers", s.listWorkers)
	handle("PUT", "/workers", s.addWorker)
	handle("GET", "/workers/assignments", s.listAssignments)
	handle("GET", "/workers/{unit}", s.getWorker)
	handle("DELETE", "/workers/{unit}", s.removeWorker)
	handle("PATCH", "/workers/{unit}/is_active", s.setWorkerActive)
	handle("GET", "/experiments/{experiment}/workers", s.experimentWorkers)
	handle("PUT", "/experiments/{experiment}/workers", s.assignWorker)
	handle("DELETE", "/experiments/{experiment}/workers/{unit}", s.unassignWorker)

	handle("POST", "/workers/{unit}/jobs/run/job_name/{job}/experiments/{experiment}", s.runJobs)
	handle("POST", "/workers/{unit}/jobs/stop/job_name/{job}/experiments/{experiment}", s.stopJob)
	handle("POST", "/workers/{unit}/jobs/stop/experiments/{experiment}", s.stopExperimentJobs)
	handle("PATCH", "/workers/{unit}/jobs/update/job_name/{job}/experiments/{experiment}", s.updateJobSettings)
	handle("POST", "/workers/{unit}/system/reboot", s.systemFanout("reboot"))
	handle("POST", "/workers/{unit}/system/shutdown", s.systemFanout("shutdown"))
	handle("POST", "/workers/{unit}/system/update", s.systemFanout("update"))
	handle("POST", "/workers/{unit}/system/update/{target}", s.systemFanout("update"))
	handle("POST", "/units/{unit}/plugins/install", s.pluginFanout("install"))
	handle("POST", "/units/{unit}/plugins/uninstall", s.pluginFanout("uninstall"))
	handle("GET", "/units/{unit}/jobs/running", s.unitRunningJobs)
	handle("GET", "/versions", s.versions)

	handle("GET", "/experiments/{experiment}/recent_logs", s.recentLogs)
	handle("GET", "/experiments/{experiment}/logs", s.pagedLogs)
	handle("GET", "/experiments/{experiment}/time_series/{metric}", s.timeSeries)

	handle("GET", "/configs", s.listConfigs)
	handle("GET", "/configs/{filename}", s.getConfig)
	handle("PATCH", "/configs/{filename}", s.patchConfig)

	handle("GET", "/contrib/experiment_profiles", s.listProfiles)
	handle("POST", "/contrib/experiment_profiles", s.saveProfile)
	handle("PATCH", "/contrib/experiment_profiles/{filename}", s.saveProfile)
	handle("GET", "/contrib/experiment_profiles/{filename}", s.getProfile)
	handle("DELETE", "/contrib/experiment_profiles/{filename}", s.deleteProfile)
	handle("GET", "/contrib/jobs", s.contribManifests)
	handle("GET", "/contrib/charts", s.contribManifests)

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
