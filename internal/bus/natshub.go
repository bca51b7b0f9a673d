// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package bus

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/nats-io/nats.go"
)

// NATSHub is a Hub backed by a NATS server, for clusters whose units
// live on separate hosts. Bus topics use "/" separators; NATS subjects
// use ".", so subjects are rewritten both ways at the boundary.
type NATSHub struct {
	conn           *nats.Conn
	confirmTimeout time.Duration
}

// NewNATSHub connects to the broker at url. A zero timeout uses
// DefaultConfirmTimeout.
func NewNATSHub(url string, timeout time.Duration) (*NATSHub, error) {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	conn, err := nats.Connect(url,
		nats.Name("pioreactor-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to bus broker %q", url)
	}
	return &NATSHub{conn: conn, confirmTimeout: timeout}, nil
}

// Publish implements Hub. Confirmation is a broker round trip.
func (h *NATSHub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := h.conn.Publish(topicToSubject(topic), payload); err != nil {
		return errors.Annotatef(err, "publishing to %q", topic)
	}
	deadline := h.confirmTimeout
	if d, ok := ctx.Deadline(); ok {
		if remain := time.Until(d); remain < deadline {
			deadline = remain
		}
	}
	if err := h.conn.FlushTimeout(deadline); err != nil {
		logger.Warningf("publish to %q unconfirmed: %v", topic, err)
		return errors.Annotatef(ErrConfirmTimeout, "topic %q", topic)
	}
	return nil
}

// Subscribe implements Hub.
func (h *NATSHub) Subscribe(pattern string, handler Handler) (func(), error) {
	sub, err := h.conn.Subscribe(patternToSubject(pattern), func(m *nats.Msg) {
		handler(subjectToTopic(m.Subject), m.Data)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "subscribing to %q", pattern)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			logger.Debugf("unsubscribe %q: %v", pattern, err)
		}
	}, nil
}

// Close drains the connection.
func (h *NATSHub) Close() error {
	return errors.Trace(h.conn.Drain())
}

func topicToSubject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

func subjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// patternToSubject maps bus wildcards onto NATS wildcards.
func patternToSubject(pattern string) string {
	parts := strings.Split(pattern, "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}
