// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/apiserver/params"
)

const (
	defaultCallTimeout = 30 * time.Second
	taskPollInterval   = 500 * time.Millisecond
	taskPollTimeout    = 5 * time.Minute
)

// apiClient is a thin JSON client for the leader API.
type apiClient struct {
	base string
	doer *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		doer: &http.Client{Timeout: defaultCallTimeout},
	}
}

func (c *apiClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Trace(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errors.Trace(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Trace(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr params.Error
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return &apiErr
		}
		return errors.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil && len(data) > 0 {
		return errors.Trace(json.Unmarshal(data, out))
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out interface{}) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

// workers returns the cluster inventory.
func (c *apiClient) workers(ctx context.Context) ([]params.Worker, error) {
	var workers []params.Worker
	if err := c.get(ctx, "/api/workers", &workers); err != nil {
		return nil, errors.Trace(err)
	}
	return workers, nil
}

// configFile fetches one stored configuration file.
func (c *apiClient) configFile(ctx context.Context, filename string) (params.ConfigFile, error) {
	var file params.ConfigFile
	if err := c.get(ctx, "/api/configs/"+filename, &file); err != nil {
		return params.ConfigFile{}, errors.Trace(err)
	}
	return file, nil
}

// waitTask polls a submitted task to a terminal state.
func (c *apiClient) waitTask(ctx context.Context, resp params.TaskResponse) (params.TaskResponse, error) {
	if resp.TaskID == "" {
		return params.TaskResponse{}, errors.NotValidf("task response without an id")
	}
	deadline := time.Now().Add(taskPollTimeout)
	for time.Now().Before(deadline) {
		var polled params.TaskResponse
		if err := c.get(ctx, "/api/task_results/"+resp.TaskID, &polled); err != nil {
			return params.TaskResponse{}, errors.Trace(err)
		}
		switch polled.Status {
		case "complete", "failed":
			return polled, nil
		}
		select {
		case <-ctx.Done():
			return params.TaskResponse{}, errors.Trace(ctx.Err())
		case <-time.After(taskPollInterval):
		}
	}
	return params.TaskResponse{}, errors.Errorf("task %s did not finish within %s", resp.TaskID, taskPollTimeout)
}
