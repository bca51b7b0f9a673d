// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package logsink drains log lines published on the control bus into
// the leader's log store, so every unit's output is queryable from one
// place.
package logsink

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/tomb.v2"

	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/core/cluster"
	logservice "github.com/pioreactor/pioreactor/domain/logs/service"
	"github.com/pioreactor/pioreactor/internal/bus"
	"github.com/pioreactor/pioreactor/internal/database"
)

var logger = loggo.GetLogger("pioreactor.logsink")

// Recorder stores one ingested log line. *logservice.Service implements
// it.
type Recorder interface {
	Ingest(ctx context.Context, rec logservice.LogRecord) error
}

// Config holds the sink's dependencies.
type Config struct {
	Hub      bus.Hub
	Recorder Recorder
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Hub == nil {
		return errors.NotValidf("missing Hub")
	}
	if c.Recorder == nil {
		return errors.NotValidf("missing Recorder")
	}
	return nil
}

// Sink subscribes to every unit's log topics and writes the lines to
// the recorder. Malformed lines are dropped with a debug message; the
// bus is not a place to report its own errors.
type Sink struct {
	tomb tomb.Tomb
	cfg  Config
}

// NewSink starts a sink draining the hub's log topics.
func NewSink(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &Sink{cfg: cfg}
	s.tomb.Go(s.loop)
	return s, nil
}

// Kill is part of the worker.Worker interface.
func (s *Sink) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Sink) Wait() error {
	return s.tomb.Wait()
}

func (s *Sink) loop() error {
	unsub, err := s.cfg.Hub.Subscribe(bus.LogPattern(), s.handle)
	if err != nil {
		return errors.Trace(err)
	}
	defer unsub()

	<-s.tomb.Dying()
	return tomb.ErrDying
}

func (s *Sink) handle(topic string, payload []byte) {
	addr, err := bus.ParseTopic(topic)
	if err != nil || !addr.IsLog() {
		logger.Debugf("dropping message on %q", topic)
		return
	}
	var body params.LogIngest
	if err := json.Unmarshal(payload, &body); err != nil {
		logger.Debugf("dropping malformed log on %q: %v", topic, err)
		return
	}

	level := body.Level
	if level == "" {
		level = addr.LogLevel()
	}
	rec := logservice.LogRecord{
		Level:      cluster.LogLevel(strings.ToUpper(level)),
		Unit:       addr.Unit,
		Experiment: addr.Experiment,
		Task:       body.Task,
		Source:     body.Source,
		Message:    body.Message,
	}
	if rec.Source == "" {
		rec.Source = addr.LogSource()
	}
	if body.Timestamp != "" {
		if t, err := database.ParseTimestamp(body.Timestamp); err == nil {
			rec.Timestamp = t
		}
	}

	ctx := s.tomb.Context(context.Background())
	if err := s.cfg.Recorder.Ingest(ctx, rec); err != nil {
		logger.Warningf("dropping log from %q: %v", topic, err)
	}
}
