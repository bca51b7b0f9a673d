// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package params holds the wire types shared by the leader and worker
// HTTP surfaces and their clients. Everything here is plain data with
// JSON tags; behaviour lives in the apiserver packages.
package params

import (
	"encoding/json"
	"time"
)

// TaskStatusPending is the polling status for a task that is queued, or
// whose id is unknown (pruned results look the same as never-submitted
// ones to a poller).
const TaskStatusPending = "pending or not present"

// TaskResponse is the envelope returned by every async endpoint and by
// the task_results polling endpoints.
type TaskResponse struct {
	TaskID        string      `json:"task_id"`
	ResultURLPath string      `json:"result_url_path"`
	Status        string      `json:"status"`
	Lock          string      `json:"lock,omitempty"`
	Result        interface{} `json:"result,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// RunPayload is the body of a run-job request. Option values may be
// strings, numbers or null on the wire.
type RunPayload struct {
	Args            []string               `json:"args,omitempty"`
	Options         map[string]interface{} `json:"options,omitempty"`
	Env             map[string]string      `json:"env,omitempty"`
	ConfigOverrides [][]string             `json:"config_overrides,omitempty"`
}

// StopPayload selects which job processes to stop. All empty means no
// filter, which the stop endpoint rejects; stop/all has its own route.
type StopPayload struct {
	JobName    string `json:"job_name,omitempty"`
	Experiment string `json:"experiment,omitempty"`
	JobSource  string `json:"job_source,omitempty"`
	JobID      string `json:"job_id,omitempty"`
}

// UpdateJobPayload carries setting updates for a running job.
type UpdateJobPayload struct {
	Settings map[string]string `json:"settings"`
}

// Job is a running job process on a worker.
type Job struct {
	ID         string            `json:"job_id"`
	Name       string            `json:"job_name"`
	Experiment string            `json:"experiment"`
	Source     string            `json:"job_source,omitempty"`
	PID        int               `json:"pid"`
	State      string            `json:"state"`
	StartedAt  time.Time         `json:"started_at"`
	Settings   map[string]string `json:"settings,omitempty"`
}

// Experiment is an experiment record.
type Experiment struct {
	Experiment   string    `json:"experiment"`
	CreatedAt    time.Time `json:"created_at"`
	Description  string    `json:"description,omitempty"`
	MediaUsed    string    `json:"media_used,omitempty"`
	OrganismUsed string    `json:"organism_used,omitempty"`
}

// ExperimentPatch carries a partial experiment update. Nil fields are
// left untouched.
type ExperimentPatch struct {
	Description  *string `json:"description,omitempty"`
	MediaUsed    *string `json:"media_used,omitempty"`
	OrganismUsed *string `json:"organism_used,omitempty"`
}

// Worker is an inventory record.
type Worker struct {
	Unit         string    `json:"pioreactor_unit"`
	AddedAt      time.Time `json:"added_at"`
	IsActive     bool      `json:"is_active"`
	ModelName    string    `json:"model_name,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
}

// Assignment records a worker's current experiment.
type Assignment struct {
	Unit       string `json:"pioreactor_unit"`
	Experiment string `json:"experiment"`
}

// AssignRequest is the body of an assignment PUT.
type AssignRequest struct {
	Unit string `json:"pioreactor_unit"`
}

// WorkerActivePatch toggles the active flag.
type WorkerActivePatch struct {
	IsActive bool `json:"is_active"`
}

// LogRecord is a log line on the wire.
type LogRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Unit       string    `json:"pioreactor_unit"`
	Experiment string    `json:"experiment"`
	Task       string    `json:"task,omitempty"`
	Source     string    `json:"source,omitempty"`
	Message    string    `json:"message"`
}

// LogIngest is the bus payload of a published log line.
type LogIngest struct {
	Timestamp string `json:"timestamp,omitempty"`
	Level     string `json:"level"`
	Task      string `json:"task,omitempty"`
	Source    string `json:"source,omitempty"`
	Message   string `json:"message"`
}

// ConfigFile is a configuration file body.
type ConfigFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// ConfigPatch is the body of a config update.
type ConfigPatch struct {
	Content string `json:"content"`
}

// ProfileBody is the body of a profile create/update. Filename is
// required when the URL does not carry one.
type ProfileBody struct {
	Filename string `json:"filename,omitempty"`
	Body     string `json:"body"`
}

// CalibrationBody wraps a calibration or estimator YAML document.
type CalibrationBody struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// PluginRequest names one plugin to install or uninstall.
type PluginRequest struct {
	Name   string `json:"plugin_name"`
	Source string `json:"source,omitempty"`
}

// Versions reports the software versions of one unit.
type Versions struct {
	Unit string `json:"pioreactor_unit,omitempty"`
	App  string `json:"app"`
}

// Capabilities reports what a worker allows the UI to do.
type Capabilities struct {
	InstallsAllowed   bool `json:"plugin_installs_allowed"`
	FilesystemAllowed bool `json:"filesystem_allowed"`
}

// PathEntry is one entry in a file-browse listing.
type PathEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size_bytes"`
}

// RemoveFileRequest names a file to delete under the data directory.
type RemoveFileRequest struct {
	Path string `json:"path"`
}

// UpdateRequest carries the optional source selection for a system
// update.
type UpdateRequest struct {
	Branch  string `json:"branch,omitempty"`
	Version string `json:"version,omitempty"`
	Source  string `json:"source,omitempty"`
	Repo    string `json:"repo,omitempty"`
}

// ClockRequest sets the UTC clock.
type ClockRequest struct {
	UTCClockTime string `json:"utc_clock_time,omitempty"`
}

// MulticastResult is the per-unit aggregation stored in a fan-out task
// result. Units that never responded map to null.
type MulticastResult map[string]*json.RawMessage

// Error is the JSON error body every endpoint emits on failure.
type Error struct {
	Message string     `json:"error"`
	Info    *ErrorInfo `json:"error_info,omitempty"`
}

// ErrorInfo carries machine-readable detail about an error.
type ErrorInfo struct {
	Cause       string `json:"cause,omitempty"`
	Remediation string `json:"remediation,omitempty"`
	Status      int    `json:"status"`
}

func (e *Error) Error() string {
	return e.Message
}
