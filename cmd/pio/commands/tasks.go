// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"time"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/internal/unitclient"
)

const (
	taskPollInterval = 250 * time.Millisecond
	taskPollTimeout  = 2 * time.Minute
)

// waitLocalTask polls a submitted unit API task to a terminal state.
// Tasks that finished synchronously come back as given.
func waitLocalTask(ctx *cmd.Context, caller *unitclient.Client, resp params.TaskResponse) (params.TaskResponse, error) {
	if resp.Status == "complete" || resp.Status == "failed" {
		return resp, nil
	}
	if resp.TaskID == "" {
		return params.TaskResponse{}, errors.NotValidf("task response without an id")
	}
	deadline := time.Now().Add(taskPollTimeout)
	for time.Now().Before(deadline) {
		var polled params.TaskResponse
		if err := caller.Get(ctx, "", "/unit_api/task_results/"+resp.TaskID, nil, &polled); err != nil {
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
