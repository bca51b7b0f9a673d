// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package common holds handler helpers shared by the leader and worker
// HTTP surfaces.
package common

import (
	"net/http"

	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/internal/taskqueue"
)

// TaskResultsPrefix is where task envelopes can be polled on a worker.
const TaskResultsPrefix = "/unit_api/task_results/"

// TaskEnvelope maps a task snapshot to its HTTP status and response
// envelope. Locked tasks poll as in_progress with the lock named.
func TaskEnvelope(t taskqueue.Task) (int, params.TaskResponse) {
	resp := params.TaskResponse{
		TaskID:        t.ID,
		ResultURLPath: TaskResultsPrefix + t.ID,
	}
	switch t.State {
	case taskqueue.Complete:
		resp.Status = string(t.State)
		resp.Result = t.Result
		return http.StatusOK, resp
	case taskqueue.Failed:
		resp.Status = string(t.State)
		resp.Error = t.Error
		return http.StatusInternalServerError, resp
	case taskqueue.Locked:
		resp.Status = string(taskqueue.InProgress)
		resp.Lock = t.Lock
		return http.StatusAccepted, resp
	case taskqueue.InProgress:
		resp.Status = string(t.State)
		return http.StatusAccepted, resp
	default:
		resp.Status = params.TaskStatusPending
		return http.StatusAccepted, resp
	}
}

// UnknownTaskEnvelope is the poll response for an id the queue does not
// know, indistinguishable from a pending task that was never submitted.
func UnknownTaskEnvelope(id string) (int, params.TaskResponse) {
	return http.StatusAccepted, params.TaskResponse{
		TaskID:        id,
		ResultURLPath: TaskResultsPrefix + id,
		Status:        params.TaskStatusPending,
	}
}
