// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package bus

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
)

var logger = loggo.GetLogger("pioreactor.bus")

// LocalHub is an in-process hub for single-host clusters and tests.
type LocalHub struct {
	hub            *pubsub.SimpleHub
	clock          clock.Clock
	confirmTimeout time.Duration
}

// NewLocalHub returns an in-process hub confirming within timeout. A
// zero timeout uses DefaultConfirmTimeout.
func NewLocalHub(clk clock.Clock, timeout time.Duration) *LocalHub {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	return &LocalHub{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("pioreactor.bus.internal"),
		}),
		clock:          clk,
		confirmTimeout: timeout,
	}
}

// Publish implements Hub. Confirmation means every subscriber callback
// has completed.
func (h *LocalHub) Publish(ctx context.Context, topic string, payload []byte) error {
	done := h.hub.Publish(topic, payload)
	select {
	case <-pubsub.Wait(done):
		return nil
	case <-h.clock.After(h.confirmTimeout):
		logger.Warningf("publish to %q unconfirmed after %s", topic, h.confirmTimeout)
		return errors.Annotatef(ErrConfirmTimeout, "topic %q", topic)
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// Subscribe implements Hub.
func (h *LocalHub) Subscribe(pattern string, handler Handler) (func(), error) {
	unsub := h.hub.SubscribeMatch(func(topic string) bool {
		return MatchTopic(pattern, topic)
	}, func(topic string, data interface{}) {
		payload, ok := data.([]byte)
		if !ok {
			logger.Warningf("dropping non-bytes message on %q", topic)
			return
		}
		handler(topic, payload)
	})
	return unsub, nil
}
