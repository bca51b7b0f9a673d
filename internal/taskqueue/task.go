// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package taskqueue

import (
	"context"
	"time"
)

// State is the lifecycle state of a task.
type State string

const (
	// Pending tasks are queued and not yet picked up.
	Pending State = "pending"
	// InProgress tasks are executing.
	InProgress State = "in_progress"
	// Complete tasks finished without error.
	Complete State = "complete"
	// Failed tasks finished with an error.
	Failed State = "failed"
	// Locked tasks were refused because another task holds the
	// declared lock. They never execute.
	Locked State = "locked"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == Complete || s == Failed || s == Locked
}

// Named locks serializing operations that must not overlap.
const (
	UpdateLock              = "update-lock"
	PowerLock               = "power-lock"
	ClockLock               = "clock-lock"
	WebRestartLock          = "web-restart-lock"
	ImportDotPioreactorLock = "import-dot-pioreactor-lock"
)

// Func is the body of a task. The context is cancelled when the queue
// shuts down.
type Func func(ctx context.Context) (interface{}, error)

// Task is a pollable snapshot of a queued operation.
type Task struct {
	ID         string
	Name       string
	State      State
	Lock       string
	Result     interface{}
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}
