// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package bus implements the topic-structured control bus: the topic
// grammar, an in-process hub, and a NATS-backed hub for multi-host
// clusters. Commands are at-least-once with a bounded publish-confirm
// wait; callers fall back to direct HTTP when confirmation times out.
package bus

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// ErrConfirmTimeout is returned when a publish was handed to the
// transport but confirmation did not arrive within the bound. The
// message may still be delivered.
const ErrConfirmTimeout = errors.ConstError("publish confirmation timed out")

// DefaultConfirmTimeout bounds the synchronous publish-confirm wait.
const DefaultConfirmTimeout = 2 * time.Second

// Handler consumes a message delivered to a subscription.
type Handler func(topic string, payload []byte)

// Hub is the control bus client shared by leader and workers.
type Hub interface {
	// Publish sends a payload and waits up to the hub's confirm
	// timeout for delivery confirmation. ErrConfirmTimeout means the
	// message was handed off but not confirmed.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for every topic matching the
	// pattern ("+" one segment, trailing "#" any remainder) and
	// returns an unsubscriber.
	Subscribe(pattern string, handler Handler) (func(), error)
}
