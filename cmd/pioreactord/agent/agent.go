// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package agent wires and runs the leader daemon: the cluster store,
// the control bus, the task queue, the log sink and both HTTP surfaces.
// The leader is also a worker, so /unit_api is served next to /api.
package agent

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pioreactor/pioreactor/apiserver/leaderapi"
	"github.com/pioreactor/pioreactor/apiserver/workerapi"
	pioversion "github.com/pioreactor/pioreactor/core/version"
	clusterconfigservice "github.com/pioreactor/pioreactor/domain/clusterconfig/service"
	clusterconfigstate "github.com/pioreactor/pioreactor/domain/clusterconfig/state"
	experimentservice "github.com/pioreactor/pioreactor/domain/experiment/service"
	experimentstate "github.com/pioreactor/pioreactor/domain/experiment/state"
	inventoryservice "github.com/pioreactor/pioreactor/domain/inventory/service"
	inventorystate "github.com/pioreactor/pioreactor/domain/inventory/state"
	logservice "github.com/pioreactor/pioreactor/domain/logs/service"
	logstate "github.com/pioreactor/pioreactor/domain/logs/state"
	timeseriesservice "github.com/pioreactor/pioreactor/domain/timeseries/service"
	timeseriesstate "github.com/pioreactor/pioreactor/domain/timeseries/state"
	"github.com/pioreactor/pioreactor/internal/bus"
	"github.com/pioreactor/pioreactor/internal/calibrations"
	"github.com/pioreactor/pioreactor/internal/database"
	"github.com/pioreactor/pioreactor/internal/jobs"
	"github.com/pioreactor/pioreactor/internal/logsink"
	"github.com/pioreactor/pioreactor/internal/multicast"
	"github.com/pioreactor/pioreactor/internal/plugins"
	"github.com/pioreactor/pioreactor/internal/profiles"
	"github.com/pioreactor/pioreactor/internal/taskqueue"
	"github.com/pioreactor/pioreactor/internal/unitclient"
)

var logger = loggo.GetLogger("pioreactor.cmd.pioreactord")

const (
	leaderStoreFile = "pioreactor.sqlite"
	unitStoreFile   = "unit.sqlite"

	shutdownGrace = 10 * time.Second
)

// AgentCommand runs the leader daemon.
type AgentCommand struct {
	cmd.CommandBase

	DataDir    string
	Addr       string
	Unit       string
	BusURL     string
	ContribDir string
	WorkerPort int
}

// New returns the leader daemon command.
func New() cmd.Command {
	return &AgentCommand{}
}

// Info is part of the cmd.Command interface.
func (c *AgentCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "pioreactord",
		Purpose: "Run the cluster leader daemon.",
		Doc: `
pioreactord serves the cluster API under /api and, because the leader
is itself a worker, the unit API under /unit_api. It owns the cluster
store, ingests logs published on the control bus and fans commands out
to the workers.
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *AgentCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.DataDir, "data-dir", "/home/pioreactor/.pioreactor", "unit data directory")
	f.StringVar(&c.Addr, "addr", ":80", "address the HTTP API listens on")
	f.StringVar(&c.Unit, "unit", "", "this unit's name (default: hostname)")
	f.StringVar(&c.BusURL, "bus", "", "NATS broker URL; empty runs an in-process bus")
	f.StringVar(&c.ContribDir, "contrib-dir", "", "plugin UI manifest directory (default <data-dir>/plugins/ui/contrib)")
	f.IntVar(&c.WorkerPort, "worker-port", 80, "port the worker unit APIs listen on")
}

// Init is part of the cmd.Command interface.
func (c *AgentCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *AgentCommand) Run(ctx *cmd.Context) error {
	unit := c.Unit
	if unit == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return errors.Annotate(err, "resolving unit name")
		}
		unit = hostname
	}
	contribDir := c.ContribDir
	if contribDir == "" {
		contribDir = filepath.Join(c.DataDir, "plugins", "ui", "contrib")
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return errors.Trace(err)
	}

	leaderDB, err := database.Open(filepath.Join(c.DataDir, leaderStoreFile))
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = leaderDB.Close() }()
	leaderRunner := database.NewTxnRunner(leaderDB)
	if err := database.EnsureLeaderSchema(ctx, leaderRunner); err != nil {
		return errors.Trace(err)
	}
	leaderFactory := database.Factory(leaderRunner)

	unitDB, err := database.Open(filepath.Join(c.DataDir, unitStoreFile))
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = unitDB.Close() }()
	unitRunner := database.NewTxnRunner(unitDB)
	if err := database.EnsureWorkerSchema(ctx, unitRunner); err != nil {
		return errors.Trace(err)
	}
	unitFactory := database.Factory(unitRunner)

	hub, closeHub, err := openHub(c.BusURL)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeHub()

	metrics := taskqueue.NewMetricsCollector()
	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics); err != nil {
		return errors.Trace(err)
	}
	queue, err := taskqueue.NewQueue(taskqueue.Config{
		Clock:   clock.WallClock,
		Metrics: metrics,
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		queue.Kill()
		_ = queue.Wait()
	}()

	logs := logservice.NewService(logstate.NewState(leaderFactory), clock.WallClock)
	sink, err := logsink.NewSink(logsink.Config{Hub: hub, Recorder: logs})
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		sink.Kill()
		_ = sink.Wait()
	}()

	settings := jobs.NewSettingsStore(unitFactory)
	manager, err := jobs.NewManager(jobs.Config{
		Clock:    clock.WallClock,
		Unit:     unit,
		Settings: settings,
	})
	if err != nil {
		return errors.Trace(err)
	}
	unsubJobs, err := manager.AttachBus(hub)
	if err != nil {
		return errors.Trace(err)
	}
	defer unsubJobs()

	caller := unitclient.New(unitclient.MDNSResolver(c.WorkerPort), nil, 0)
	run := plugins.ArgvRunner()

	leaderSrv, err := leaderapi.NewServer(leaderapi.Config{
		LeaderUnit:  unit,
		AppVersion:  pioversion.App,
		ContribDir:  contribDir,
		Clock:       clock.WallClock,
		Experiments: experimentservice.NewService(experimentstate.NewState(leaderFactory), clock.WallClock, dbVacuumer{leaderDB}),
		Inventory:   inventoryservice.NewService(inventorystate.NewState(leaderFactory), clock.WallClock),
		Logs:        logs,
		TimeSeries:  timeseriesservice.NewService(timeseriesstate.NewState(leaderFactory), clock.WallClock),
		Configs:     clusterconfigservice.NewService(clusterconfigstate.NewState(leaderFactory), clock.WallClock),
		Profiles:    profiles.NewStore(filepath.Join(c.DataDir, "experiment_profiles")),
		Queue:       queue,
		Hub:         hub,
		Caster:      multicast.New(caller),
		Run:         run,
	})
	if err != nil {
		return errors.Trace(err)
	}

	workerSrv, err := workerapi.NewServer(workerapi.Config{
		Unit:           unit,
		LeaderHostname: unit,
		IsLeader:       true,
		AppVersion:     pioversion.App,
		DataDir:        c.DataDir,
		Clock:          clock.WallClock,
		Jobs:           manager,
		Settings:       settings,
		Queue:          queue,
		Calibrations:   calibrations.NewStore(filepath.Join(c.DataDir, "storage"), calibrations.Calibrations, unitFactory),
		Estimators:     calibrations.NewStore(filepath.Join(c.DataDir, "storage"), calibrations.Estimators, unitFactory),
		Plugins:        plugins.NewRegistry(c.DataDir, plugins.ExecRunner(jobs.DefaultExecutable)),
		Hub:            hub,
		Run:            run,
	})
	if err != nil {
		return errors.Trace(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/unit_api/", workerSrv)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", leaderSrv)

	logger.Infof("leader %q serving on %s", unit, c.Addr)
	return errors.Trace(serve(ctx, &http.Server{Addr: c.Addr, Handler: mux}))
}

type dbVacuumer struct {
	db *sql.DB
}

// Vacuum implements experimentservice.Vacuumer.
func (v dbVacuumer) Vacuum(ctx context.Context) error {
	return errors.Trace(database.Vacuum(ctx, v.db))
}

func openHub(busURL string) (bus.Hub, func(), error) {
	if busURL == "" {
		return bus.NewLocalHub(clock.WallClock, 0), func() {}, nil
	}
	hub, err := bus.NewNATSHub(busURL, 0)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return hub, func() { _ = hub.Close() }, nil
}

// serve runs the HTTP server until the context is done or a signal
// arrives, then drains with a bounded grace period.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return errors.Trace(err)
	case sig := <-sigCh:
		logger.Infof("shutting down on %s", sig)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return errors.Trace(srv.Shutdown(shutdownCtx))
}
