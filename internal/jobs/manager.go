// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package jobs runs and tracks the long-lived jobs on a worker: the
// running-job registry, process spawning with the resolved environment,
// the run debounce, bus-commanded lifecycle transitions and the local
// cache of bus-published settings.
package jobs

import (
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/ratelimit"
	"github.com/rs/xid"

	"github.com/pioreactor/pioreactor/core/cluster"
	"github.com/pioreactor/pioreactor/internal/bus"
)

var logger = loggo.GetLogger("pioreactor.jobs")

// DefaultExecutable is the job runner binary on a unit.
const DefaultExecutable = "pio"

// debounce: one token, refilled at one per second, per job name.
const (
	debounceRate     = 1.0
	debounceCapacity = 1
)

// Process is a spawned job process.
type Process interface {
	PID() int
	Signal(sig os.Signal) error
	Wait() error
}

// SpawnFunc starts a job process. Tests substitute their own.
type SpawnFunc func(executable string, args, env []string) (Process, error)

// ExecSpawn starts a real process with os/exec.
func ExecSpawn(executable string, args, env []string) (Process, error) {
	cmd := exec.Command(executable, args...)
	cmd.Env = append(os.Environ(), env...)
	if err := cmd.Start(); err != nil {
		return nil, errors.Trace(err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Wait() error { return p.cmd.Wait() }

// RunRequest is the payload of a run-job call.
type RunRequest struct {
	Experiment string
	// Args are passed through to the job verbatim.
	Args []string
	// Options become --flag value pairs, with underscores mapped to
	// dashes.
	Options map[string]string
	// Env is the resolved environment from the leader, including
	// EXPERIMENT, MODEL_NAME, MODEL_VERSION and ACTIVE.
	Env map[string]string
	// ConfigOverrides are appended verbatim.
	ConfigOverrides []string
	Source          string
}

// Config holds a Manager's dependencies.
type Config struct {
	Clock clock.Clock
	// Unit is this worker's name, exported as HOSTNAME.
	Unit string
	// Executable is the job runner. Empty means DefaultExecutable.
	Executable string
	// Spawn starts processes. Nil means ExecSpawn.
	Spawn func(executable string, args, env []string) (Process, error)
	// Settings is the optional bus-published settings cache.
	Settings *SettingsStore
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if c.Unit == "" {
		return errors.NotValidf("missing Unit")
	}
	return nil
}

// Manager owns the worker's job processes.
type Manager struct {
	clock      clock.Clock
	unit       string
	executable string
	spawn      SpawnFunc
	settings   *SettingsStore

	registry *registry

	mu        sync.Mutex
	processes map[string]Process
	buckets   map[string]*ratelimit.Bucket
}

// NewManager returns a job manager for this unit.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	executable := cfg.Executable
	if executable == "" {
		executable = DefaultExecutable
	}
	spawn := cfg.Spawn
	if spawn == nil {
		spawn = ExecSpawn
	}
	return &Manager{
		clock:      cfg.Clock,
		unit:       cfg.Unit,
		executable: executable,
		spawn:      SpawnFunc(spawn),
		settings:   cfg.Settings,
		registry:   newRegistry(),
		processes:  make(map[string]Process),
		buckets:    make(map[string]*ratelimit.Bucket),
	}, nil
}

// Run spawns the named job. Repeated runs of the same job within the
// debounce window return a QuotaLimitExceeded error.
func (m *Manager) Run(ctx context.Context, job string, req RunRequest) (Job, error) {
	if m.debounce(job).TakeAvailable(1) == 0 {
		return Job{}, errors.QuotaLimitExceededf("job %q was started within the last second", job)
	}

	args := append([]string{"run", job}, req.Args...)
	keys := make([]string, 0, len(req.Options))
	for k := range req.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--"+strings.ReplaceAll(k, "_", "-"), req.Options[k])
	}
	args = append(args, req.ConfigOverrides...)

	env := make(map[string]string, len(req.Env)+1)
	for k, v := range req.Env {
		env[k] = v
	}
	env["HOSTNAME"] = m.unit
	if req.Experiment != "" {
		env["EXPERIMENT"] = req.Experiment
	}
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	sort.Strings(envList)

	proc, err := m.spawn(m.executable, args, envList)
	if err != nil {
		return Job{}, errors.Annotatef(err, "spawning job %q", job)
	}

	j := &Job{
		ID:         xid.New().String(),
		Name:       job,
		Experiment: env["EXPERIMENT"],
		Source:     req.Source,
		PID:        proc.PID(),
		State:      cluster.JobInit,
		StartedAt:  m.clock.Now(),
		Env:        env,
	}
	m.registry.add(j)
	m.mu.Lock()
	m.processes[j.ID] = proc
	m.mu.Unlock()

	// The process is up, the job enters its lifecycle.
	if err := m.registry.transition(j.ID, cluster.JobReady); err != nil {
		logger.Warningf("job %q: %v", job, err)
	}

	snapshot, _ := m.registry.get(j.ID)
	go m.reap(j.ID, job, proc)

	logger.Infof("started job %q (pid %d) for experiment %q", job, j.PID, j.Experiment)
	return snapshot, nil
}

func (m *Manager) reap(id, name string, proc Process) {
	if err := proc.Wait(); err != nil {
		logger.Debugf("job %q (%s) exited: %v", name, id, err)
	}
	m.registry.remove(id)
	m.mu.Lock()
	delete(m.processes, id)
	m.mu.Unlock()
}

// Running returns the registry entries matching the filter.
func (m *Manager) Running(f Filter) []Job {
	return m.registry.list(f)
}

// IsRunning reports whether a job with the name is registered.
func (m *Manager) IsRunning(name string) bool {
	return m.registry.running(name)
}

// Stop signals every job matching the filter to disconnect. The number
// of signalled jobs is returned; stopping nothing is not an error.
func (m *Manager) Stop(f Filter) int {
	jobs := m.registry.list(f)
	for _, j := range jobs {
		m.disconnect(j.ID)
	}
	return len(jobs)
}

// StopAll signals every job on the unit.
func (m *Manager) StopAll() int {
	return m.Stop(Filter{})
}

func (m *Manager) disconnect(id string) {
	if err := m.registry.transition(id, cluster.JobDisconnected); err != nil {
		logger.Debugf("disconnect %s: %v", id, err)
	}
	m.mu.Lock()
	proc := m.processes[id]
	m.mu.Unlock()
	if proc == nil {
		m.registry.remove(id)
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		logger.Warningf("signalling job %s: %v", id, err)
	}
	// The reaper removes the registry entry once the process exits.
}

// HandleCommand applies one bus command addressed to this unit. Topics
// for other units, and set commands for experiments the target job is
// not part of, are ignored.
func (m *Manager) HandleCommand(ctx context.Context, topic string, payload []byte) {
	addr, err := bus.ParseTopic(topic)
	if err != nil {
		logger.Debugf("ignoring unparseable topic %q", topic)
		return
	}
	if addr.Unit != m.unit && addr.Unit != cluster.UniversalIdentifier {
		return
	}
	if !addr.IsSetCommand() {
		return
	}

	value := string(payload)
	if addr.Setting() == bus.StateSegment {
		m.commandState(addr, value)
		return
	}

	// Only act for jobs in the addressed experiment.
	if !m.jobInExperiment(addr.Job(), addr.Experiment) {
		logger.Debugf("ignoring %q: job %q not in experiment %q", topic, addr.Job(), addr.Experiment)
		return
	}
	if m.settings != nil {
		if err := m.settings.Set(ctx, addr.Job(), addr.Setting(), value); err != nil {
			logger.Errorf("caching setting %s.%s: %v", addr.Job(), addr.Setting(), err)
		}
	}
}

func (m *Manager) commandState(addr bus.Address, value string) {
	state, err := cluster.ParseCommandedJobState(value)
	if err != nil {
		logger.Warningf("ignoring bad $state payload %q for job %q", value, addr.Job())
		return
	}
	for _, j := range m.registry.list(Filter{Name: addr.Job()}) {
		if !experimentMatches(addr.Experiment, j.Experiment) {
			continue
		}
		if state == cluster.JobDisconnected {
			m.disconnect(j.ID)
			continue
		}
		if err := m.registry.transition(j.ID, state); err != nil {
			logger.Debugf("commanded transition: %v", err)
		}
	}
}

func (m *Manager) jobInExperiment(job, experiment string) bool {
	for _, j := range m.registry.list(Filter{Name: job}) {
		if experimentMatches(experiment, j.Experiment) {
			return true
		}
	}
	return false
}

func experimentMatches(addressed, current string) bool {
	return addressed == cluster.UniversalExperiment || addressed == current
}

// AttachBus subscribes the manager to this unit's command topics,
// including broadcast commands, returning an unsubscriber.
func (m *Manager) AttachBus(hub bus.Hub) (func(), error) {
	handler := func(topic string, payload []byte) {
		m.HandleCommand(context.Background(), topic, payload)
	}
	unsubUnit, err := hub.Subscribe(bus.UnitCommandPattern(m.unit), handler)
	if err != nil {
		return nil, errors.Trace(err)
	}
	unsubAll, err := hub.Subscribe(bus.UnitCommandPattern(cluster.UniversalIdentifier), handler)
	if err != nil {
		unsubUnit()
		return nil, errors.Trace(err)
	}
	return func() {
		unsubUnit()
		unsubAll()
	}, nil
}

func (m *Manager) debounce(job string) *ratelimit.Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[job]
	if !ok {
		b = ratelimit.NewBucketWithRate(debounceRate, debounceCapacity)
		m.buckets[job] = b
	}
	return b
}
