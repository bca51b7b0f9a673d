// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package taskqueue_test

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/internal/taskqueue"
)

type queueSuite struct{}

var _ = gc.Suite(&queueSuite{})

func (s *queueSuite) TestValidate(c *gc.C) {
	_, err := taskqueue.NewQueue(taskqueue.Config{})
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *queueSuite) TestSubmitRunsToComplete(c *gc.C) {
	q, err := taskqueue.NewQueue(taskqueue.Config{Clock: clock.WallClock})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, q)

	done := make(chan struct{})
	t, err := q.Submit("export", "", func(ctx context.Context) (interface{}, error) {
		defer close(done)
		return map[string]string{"path": "/tmp/export.zip"}, nil
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(t.ID, gc.Not(gc.Equals), "")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.Fatal("task never ran")
	}

	final := s.waitTerminal(c, q, t.ID)
	c.Check(final.State, gc.Equals, taskqueue.Complete)
	c.Check(final.Result, jc.DeepEquals, map[string]string{"path": "/tmp/export.zip"})
	c.Check(final.Error, gc.Equals, "")
}

func (s *queueSuite) TestSubmitFailureCapturesError(c *gc.C) {
	q, err := taskqueue.NewQueue(taskqueue.Config{Clock: clock.WallClock})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, q)

	t, err := q.Submit("update", "", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("download failed")
	})
	c.Assert(err, jc.ErrorIsNil)

	final := s.waitTerminal(c, q, t.ID)
	c.Check(final.State, gc.Equals, taskqueue.Failed)
	c.Check(final.Error, gc.Equals, "download failed")
}

func (s *queueSuite) TestNamedLockRefusesSecondTask(c *gc.C) {
	q, err := taskqueue.NewQueue(taskqueue.Config{Clock: clock.WallClock})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, q)

	release := make(chan struct{})
	started := make(chan struct{})
	first, err := q.Submit("update", taskqueue.UpdateLock, func(ctx context.Context) (interface{}, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	c.Assert(err, jc.ErrorIsNil)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		c.Fatal("first task never started")
	}

	second, err := q.Submit("update", taskqueue.UpdateLock, func(ctx context.Context) (interface{}, error) {
		c.Error("locked task must not run")
		return nil, nil
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second.State, gc.Equals, taskqueue.Locked)
	c.Check(second.Lock, gc.Equals, taskqueue.UpdateLock)
	c.Check(second.ID, gc.Not(gc.Equals), first.ID)

	close(release)
	s.waitTerminal(c, q, first.ID)

	// Lock released, a third task is accepted.
	third, err := q.Submit("update", taskqueue.UpdateLock, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	c.Assert(err, jc.ErrorIsNil)
	final := s.waitTerminal(c, q, third.ID)
	c.Check(final.State, gc.Equals, taskqueue.Complete)
}

func (s *queueSuite) TestDistinctLocksDoNotInterfere(c *gc.C) {
	q, err := taskqueue.NewQueue(taskqueue.Config{Clock: clock.WallClock})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, q)

	release := make(chan struct{})
	defer close(release)
	_, err = q.Submit("update", taskqueue.UpdateLock, func(ctx context.Context) (interface{}, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	c.Assert(err, jc.ErrorIsNil)

	t, err := q.Submit("reboot", taskqueue.PowerLock, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	c.Assert(err, jc.ErrorIsNil)
	final := s.waitTerminal(c, q, t.ID)
	c.Check(final.State, gc.Equals, taskqueue.Complete)
}

func (s *queueSuite) TestGetUnknownID(c *gc.C) {
	q, err := taskqueue.NewQueue(taskqueue.Config{Clock: clock.WallClock})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, q)

	_, ok := q.Get("no-such-task")
	c.Check(ok, jc.IsFalse)
}

func (s *queueSuite) TestSubmitAfterKill(c *gc.C) {
	q, err := taskqueue.NewQueue(taskqueue.Config{Clock: clock.WallClock})
	c.Assert(err, jc.ErrorIsNil)
	workertest.CleanKill(c, q)

	_, err = q.Submit("export", "", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	c.Check(errors.Is(err, taskqueue.ErrStopping), jc.IsTrue)
}

func (s *queueSuite) waitTerminal(c *gc.C, q *taskqueue.Queue, id string) taskqueue.Task {
	timeout := time.After(5 * time.Second)
	for {
		t, ok := q.Get(id)
		c.Assert(ok, jc.IsTrue)
		if t.State.Terminal() {
			return t
		}
		select {
		case <-timeout:
			c.Fatalf("task %s never reached a terminal state (now %s)", id, t.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
