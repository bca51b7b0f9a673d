// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package agent wires and runs the worker daemon: the unit-local store,
// the job manager listening on the control bus, and the /unit_api HTTP
// surface.
package agent

import (
	"context"
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

	"github.com/pioreactor/pioreactor/apiserver/workerapi"
	pioversion "github.com/pioreactor/pioreactor/core/version"
	"github.com/pioreactor/pioreactor/internal/bus"
	"github.com/pioreactor/pioreactor/internal/calibrations"
	"github.com/pioreactor/pioreactor/internal/database"
	"github.com/pioreactor/pioreactor/internal/jobs"
	"github.com/pioreactor/pioreactor/internal/plugins"
	"github.com/pioreactor/pioreactor/internal/taskqueue"
)

var logger = loggo.GetLogger("pioreactor.cmd.pioworkerd")

const (
	unitStoreFile = "unit.sqlite"

	shutdownGrace = 10 * time.Second
)

// AgentCommand runs the worker daemon.
type AgentCommand struct {
	cmd.CommandBase

	DataDir        string
	Addr           string
	Unit           string
	BusURL         string
	LeaderHostname string
}

// New returns the worker daemon command.
func New() cmd.Command {
	return &AgentCommand{}
}

// Info is part of the cmd.Command interface.
func (c *AgentCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "pioworkerd",
		Purpose: "Run the worker daemon.",
		Doc: `
pioworkerd serves this unit's API under /unit_api, runs the unit's jobs
and listens for commands published on the control bus. The leader
addresses it over HTTP and over the bus; it never reaches out on its
own.
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *AgentCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.DataDir, "data-dir", "/home/pioreactor/.pioreactor", "unit data directory")
	f.StringVar(&c.Addr, "addr", ":80", "address the unit API listens on")
	f.StringVar(&c.Unit, "unit", "", "this unit's name (default: hostname)")
	f.StringVar(&c.BusURL, "bus", "", "NATS broker URL; empty runs an in-process bus")
	f.StringVar(&c.LeaderHostname, "leader", "leader", "the leader unit's hostname")
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
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return errors.Trace(err)
	}

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

	server, err := workerapi.NewServer(workerapi.Config{
		Unit:           unit,
		LeaderHostname: c.LeaderHostname,
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
		Run:            plugins.ArgvRunner(),
	})
	if err != nil {
		return errors.Trace(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", server)

	logger.Infof("worker %q serving on %s", unit, c.Addr)
	return errors.Trace(serve(ctx, &http.Server{Addr: c.Addr, Handler: mux}))
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
