// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package logsink_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/apiserver/params"
	logservice "github.com/pioreactor/pioreactor/domain/logs/service"
	"github.com/pioreactor/pioreactor/internal/bus"
	"github.com/pioreactor/pioreactor/internal/logsink"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []logservice.LogRecord
}

func (f *fakeRecorder) Ingest(ctx context.Context, rec logservice.LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecorder) recorded() []logservice.LogRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logservice.LogRecord(nil), f.records...)
}

type sinkSuite struct{}

var _ = gc.Suite(&sinkSuite{})

func (s *sinkSuite) TestValidate(c *gc.C) {
	_, err := logsink.NewSink(logsink.Config{})
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *sinkSuite) TestIngestsPublishedLines(c *gc.C) {
	hub := bus.NewLocalHub(clock.WallClock, time.Second)
	recorder := &fakeRecorder{}
	sink, err := logsink.NewSink(logsink.Config{Hub: hub, Recorder: recorder})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, sink)

	payload, err := json.Marshal(params.LogIngest{
		Level:   "info",
		Task:    "stirring",
		Source:  "app",
		Message: "stirring at 500 RPM",
	})
	c.Assert(err, jc.ErrorIsNil)
	topic := bus.LogTopic("u1", "exp1", "app", "INFO")
	c.Assert(hub.Publish(context.Background(), topic, payload), jc.ErrorIsNil)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if records := recorder.recorded(); len(records) == 1 {
			rec := records[0]
			c.Check(string(rec.Level), gc.Equals, "INFO")
			c.Check(rec.Unit, gc.Equals, "u1")
			c.Check(rec.Experiment, gc.Equals, "exp1")
			c.Check(rec.Task, gc.Equals, "stirring")
			c.Check(rec.Source, gc.Equals, "app")
			c.Check(rec.Message, gc.Equals, "stirring at 500 RPM")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Fatalf("log line never reached the recorder")
}

func (s *sinkSuite) TestDropsMalformedPayloads(c *gc.C) {
	hub := bus.NewLocalHub(clock.WallClock, time.Second)
	recorder := &fakeRecorder{}
	sink, err := logsink.NewSink(logsink.Config{Hub: hub, Recorder: recorder})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, sink)

	topic := bus.LogTopic("u1", "exp1", "app", "INFO")
	c.Assert(hub.Publish(context.Background(), topic, []byte("{not json")), jc.ErrorIsNil)

	good, err := json.Marshal(params.LogIngest{Level: "ERROR", Message: "boom"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(hub.Publish(context.Background(), topic, good), jc.ErrorIsNil)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if records := recorder.recorded(); len(records) == 1 {
			c.Check(records[0].Message, gc.Equals, "boom")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Fatalf("valid line never reached the recorder")
}
