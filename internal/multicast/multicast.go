// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package multicast fans a single worker API call out to many units in
// parallel and aggregates the per-unit outcomes. Partial failure is not
// an error here; callers read it out of the result map.
package multicast

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/pioreactor/pioreactor/internal/unitclient"
)

var logger = loggo.GetLogger("pioreactor.multicast")

// DefaultTimeout bounds the whole fan-out.
const DefaultTimeout = 30 * time.Second

// maxInFlight bounds parallel worker calls.
const maxInFlight = 16

// Caller issues a single unit API call. *unitclient.Client implements
// it.
type Caller interface {
	Call(ctx context.Context, method, unit, path string, query url.Values, body, out interface{}) error
}

// Request describes one fan-out.
type Request struct {
	Method string
	// Path must start with /unit_api.
	Path  string
	Units []string
	Query url.Values
	// Body is the shared payload sent to every unit.
	Body interface{}
	// PerUnitBody overrides Body for the named units, used where every
	// worker needs its own payload (run-job env resolution).
	PerUnitBody map[string]interface{}
	// Timeout bounds the whole fan-out. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Outcome is the result of one unit's call. A nil Payload with
// Responded false denotes no response at all (timeout or connection
// failure).
type Outcome struct {
	OK        bool            `json:"ok"`
	Responded bool            `json:"responded"`
	Payload   json.RawMessage `json:"payload"`
}

// Multicaster fans calls out to units.
type Multicaster struct {
	caller Caller
}

// New returns a Multicaster issuing calls through the caller.
func New(caller Caller) *Multicaster {
	return &Multicaster{caller: caller}
}

// Multicast issues the request to every unit in parallel and returns
// the per-unit outcomes. The map always holds one entry per unit.
func (m *Multicaster) Multicast(ctx context.Context, req Request) (map[string]Outcome, error) {
	if len(req.Units) == 0 {
		return map[string]Outcome{}, nil
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes = make(map[string]Outcome, len(req.Units))
		sem      = make(chan struct{}, maxInFlight)
	)
	for _, unit := range req.Units {
		wg.Add(1)
		go func(unit string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				outcomes[unit] = Outcome{}
				mu.Unlock()
				return
			}

			outcome := m.callOne(ctx, unit, req)
			mu.Lock()
			outcomes[unit] = outcome
			mu.Unlock()
		}(unit)
	}
	wg.Wait()
	return outcomes, nil
}

func (m *Multicaster) callOne(ctx context.Context, unit string, req Request) Outcome {
	body := req.Body
	if perUnit, ok := req.PerUnitBody[unit]; ok {
		body = perUnit
	}

	var payload json.RawMessage
	err := m.caller.Call(ctx, req.Method, unit, req.Path, req.Query, body, &payload)
	if err == nil {
		return Outcome{OK: true, Responded: true, Payload: payload}
	}

	if herr, ok := unitclient.IsHTTPError(err); ok {
		logger.Debugf("unit %q: %v", unit, herr)
		return Outcome{Responded: true, Payload: errorPayload(herr.Body)}
	}
	logger.Debugf("unit %q unreachable: %v", unit, errors.Cause(err))
	return Outcome{}
}

// errorPayload preserves a worker's error body in the outcome. Bodies
// that are not valid JSON are wrapped as a JSON string.
func errorPayload(body string) json.RawMessage {
	if body == "" {
		return nil
	}
	if json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(body)
	if err != nil {
		return nil
	}
	return quoted
}
