// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package taskqueue executes long or serialized operations in the
// background. Tasks are addressable by ID for UI polling, may hold a
// named lock, and their results are retained for a bounded window.
package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/rs/xid"
	"gopkg.in/tomb.v2"
)

var logger = loggo.GetLogger("pioreactor.taskqueue")

const (
	defaultWorkers   = 2
	defaultRetention = 30 * time.Minute
	pruneInterval    = time.Minute
	queueDepth       = 128
)

// ErrStopping is returned by Submit once the queue is shutting down.
const ErrStopping = errors.ConstError("task queue stopping")

// Config holds the dependencies and tunables of a Queue.
type Config struct {
	Clock clock.Clock
	// Workers is the drain concurrency. Zero means the default.
	Workers int
	// Retention bounds how long terminal tasks stay pollable. Zero
	// means the default.
	Retention time.Duration
	// Metrics is optional.
	Metrics *Collector
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if c.Workers < 0 {
		return errors.NotValidf("negative Workers")
	}
	return nil
}

type queuedTask struct {
	id string
	fn Func
}

// Queue is a background task executor.
type Queue struct {
	tomb tomb.Tomb

	clock     clock.Clock
	retention time.Duration
	metrics   *Collector

	pending chan queuedTask

	mu    sync.Mutex
	tasks map[string]*Task
	locks map[string]string
}

// NewQueue starts a queue with the given config.
func NewQueue(cfg Config) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = defaultWorkers
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	q := &Queue{
		clock:     cfg.Clock,
		retention: retention,
		metrics:   cfg.Metrics,
		pending:   make(chan queuedTask, queueDepth),
		tasks:     make(map[string]*Task),
		locks:     make(map[string]string),
	}
	for i := 0; i < workers; i++ {
		q.tomb.Go(q.drain)
	}
	q.tomb.Go(q.prune)
	return q, nil
}

// Kill is part of the worker.Worker interface.
func (q *Queue) Kill() {
	q.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (q *Queue) Wait() error {
	return q.tomb.Wait()
}

// Submit enqueues fn under the given name. A non-empty lock is held
// from submission until the task reaches a terminal state; if it is
// already held the returned task is terminal with state Locked and the
// function never runs.
func (q *Queue) Submit(name, lock string, fn Func) (Task, error) {
	select {
	case <-q.tomb.Dying():
		return Task{}, ErrStopping
	default:
	}

	now := q.clock.Now()
	t := &Task{
		ID:        xid.New().String(),
		Name:      name,
		Lock:      lock,
		CreatedAt: now,
	}

	q.mu.Lock()
	if lock != "" {
		if holder, held := q.locks[lock]; held {
			t.State = Locked
			t.FinishedAt = now
			q.tasks[t.ID] = t
			q.mu.Unlock()
			logger.Debugf("task %q refused, %s held by %s", name, lock, holder)
			if q.metrics != nil {
				q.metrics.finished.WithLabelValues(string(Locked)).Inc()
			}
			return *t, nil
		}
		q.locks[lock] = t.ID
	}
	t.State = Pending
	q.tasks[t.ID] = t
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.pending.Inc()
	}

	select {
	case q.pending <- queuedTask{id: t.ID, fn: fn}:
	case <-q.tomb.Dying():
		q.finish(t.ID, Failed, nil, ErrStopping)
		return Task{}, ErrStopping
	}
	return q.snapshot(t.ID), nil
}

// Get returns a snapshot of the task, if it is still retained.
func (q *Queue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

func (q *Queue) drain() error {
	for {
		select {
		case <-q.tomb.Dying():
			return tomb.ErrDying
		case qt := <-q.pending:
			q.run(qt)
		}
	}
}

func (q *Queue) run(qt queuedTask) {
	q.mu.Lock()
	t, ok := q.tasks[qt.id]
	if !ok {
		q.mu.Unlock()
		return
	}
	t.State = InProgress
	t.StartedAt = q.clock.Now()
	name := t.Name
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.pending.Dec()
		q.metrics.inProgress.Inc()
	}

	ctx := q.tomb.Context(context.Background())
	result, err := qt.fn(ctx)
	if err != nil {
		logger.Errorf("task %q (%s) failed: %v", name, qt.id, err)
		q.finish(qt.id, Failed, nil, err)
	} else {
		q.finish(qt.id, Complete, result, nil)
	}
	if q.metrics != nil {
		q.metrics.inProgress.Dec()
	}
}

func (q *Queue) finish(id string, state State, result interface{}, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return
	}
	t.State = state
	t.Result = result
	if err != nil {
		t.Error = err.Error()
	}
	t.FinishedAt = q.clock.Now()
	if t.Lock != "" && q.locks[t.Lock] == id {
		delete(q.locks, t.Lock)
	}
	if q.metrics != nil {
		q.metrics.finished.WithLabelValues(string(state)).Inc()
	}
}

func (q *Queue) prune() error {
	timer := q.clock.NewTimer(pruneInterval)
	defer timer.Stop()

	for {
		select {
		case <-q.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			cutoff := q.clock.Now().Add(-q.retention)
			q.mu.Lock()
			for id, t := range q.tasks {
				if t.State.Terminal() && t.FinishedAt.Before(cutoff) {
					delete(q.tasks, id)
				}
			}
			q.mu.Unlock()
			timer.Reset(pruneInterval)
		}
	}
}

func (q *Queue) snapshot(id string) Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[id]; ok {
		return *t
	}
	return Task{}
}
