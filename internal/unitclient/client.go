// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package unitclient is the typed HTTP client the leader uses to call a
// single worker's unit API. It resolves a unit name to an address,
// issues one request with a bounded timeout, and maps non-2xx responses
// to a typed error. Retries belong to the callers, not here.
package unitclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"gopkg.in/httprequest.v1"
)

// DefaultTimeout bounds a single worker call.
const DefaultTimeout = 10 * time.Second

// pathPrefix is the only URL space this client may address.
const pathPrefix = "/unit_api"

// HTTPError is a non-2xx response from a worker.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Error implements error.
func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsHTTPError reports whether err wraps an *HTTPError, returning it.
func IsHTTPError(err error) (*HTTPError, bool) {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr, true
	}
	return nil, false
}

// Resolver maps a unit name to a base URL.
type Resolver func(unit string) string

// MDNSResolver resolves units by the cluster's mDNS naming convention,
// <unit>.local. Port 80 is elided.
func MDNSResolver(port int) Resolver {
	return func(unit string) string {
		if port == 0 || port == 80 {
			return fmt.Sprintf("http://%s.local", unit)
		}
		return fmt.Sprintf("http://%s.local:%d", unit, port)
	}
}

// Client issues single HTTP calls against worker unit APIs.
type Client struct {
	resolve Resolver
	req     *httprequest.Client
	doer    *http.Client
	timeout time.Duration
}

// New returns a client using the resolver and per-call timeout. A zero
// timeout uses DefaultTimeout, a nil doer uses http.DefaultClient.
func New(resolve Resolver, doer *http.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		resolve: resolve,
		req: &httprequest.Client{
			Doer:           doer,
			UnmarshalError: unmarshalError,
		},
		doer:    doer,
		timeout: timeout,
	}
}

// Call issues a single request with an arbitrary method and decodes the
// JSON response into out.
func (c *Client) Call(ctx context.Context, method, unit, path string, query url.Values, body, out interface{}) error {
	return c.call(ctx, method, unit, path, query, body, out)
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, unit, path string, query url.Values, out interface{}) error {
	return c.call(ctx, http.MethodGet, unit, path, query, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, unit, path string, query url.Values, body, out interface{}) error {
	return c.call(ctx, http.MethodPost, unit, path, query, body, out)
}

// Patch issues a PATCH with a JSON body and decodes the response into out.
func (c *Client) Patch(ctx context.Context, unit, path string, query url.Values, body, out interface{}) error {
	return c.call(ctx, http.MethodPatch, unit, path, query, body, out)
}

// Delete issues a DELETE and decodes the JSON response into out.
func (c *Client) Delete(ctx context.Context, unit, path string, out interface{}) error {
	return c.call(ctx, http.MethodDelete, unit, path, nil, nil, out)
}

// GetRaw issues a GET and returns the raw response body, for archive
// downloads and other non-JSON payloads.
func (c *Client) GetRaw(ctx context.Context, unit, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, unit, path, query, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(data)),
		}
	}
	return data, nil
}

func (c *Client) call(ctx context.Context, method, unit, path string, query url.Values, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, unit, path, query, body)
	if err != nil {
		return errors.Trace(err)
	}
	// httprequest decodes 2xx JSON into out and routes everything
	// else through unmarshalError.
	return errors.Trace(c.req.Do(ctx, req, out))
}

func (c *Client) newRequest(ctx context.Context, method, unit, path string, query url.Values, body interface{}) (*http.Request, error) {
	if !strings.HasPrefix(path, pathPrefix) {
		return nil, errors.NotValidf("unit API path %q", path)
	}
	u := c.resolve(unit) + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Trace(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func unmarshalError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       truncate(string(data)),
	}
}

func truncate(s string) string {
	const max = 512
	if len(s) > max {
		return s[:max] + "..."
	}
	return strings.TrimSpace(s)
}
