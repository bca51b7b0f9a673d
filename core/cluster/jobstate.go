// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package cluster

import (
	"github.com/juju/errors"
)

// JobState is the lifecycle state of a worker-local job. Transitions are
// commanded over the bus via the $state/set topic.
type JobState string

const (
	JobInit         JobState = "init"
	JobReady        JobState = "ready"
	JobSleeping     JobState = "sleeping"
	JobDisconnected JobState = "disconnected"

	// JobLost is applied by the monitor subsystem to jobs that stopped
	// responding; it is never commanded.
	JobLost JobState = "lost"
)

// ParseCommandedJobState converts a $state/set payload into a JobState.
// Only the three commandable states are accepted.
func ParseCommandedJobState(s string) (JobState, error) {
	switch JobState(s) {
	case JobReady, JobSleeping, JobDisconnected:
		return JobState(s), nil
	}
	return "", errors.NotValidf("commanded job state %q", s)
}

// CanTransition reports whether a job may move from one state to another.
// Disconnected is terminal.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobInit:
		return to == JobReady || to == JobDisconnected
	case JobReady:
		return to == JobSleeping || to == JobDisconnected
	case JobSleeping:
		return to == JobReady || to == JobDisconnected
	case JobDisconnected, JobLost:
		return false
	}
	return false
}
