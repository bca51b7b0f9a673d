// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/core/cluster"
)

// Job is a running (or recently transitioned) job on this worker.
type Job struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Experiment string            `json:"experiment"`
	Source     string            `json:"source"`
	PID        int               `json:"pid"`
	State      cluster.JobState  `json:"state"`
	StartedAt  time.Time         `json:"started_at"`
	Env        map[string]string `json:"-"`
}

// Filter selects jobs by any combination of fields. Zero values match
// everything.
type Filter struct {
	Name       string
	Experiment string
	Source     string
	ID         string
}

func (f Filter) matches(j Job) bool {
	if f.Name != "" && f.Name != j.Name {
		return false
	}
	if f.Experiment != "" && f.Experiment != j.Experiment {
		return false
	}
	if f.Source != "" && f.Source != j.Source {
		return false
	}
	if f.ID != "" && f.ID != j.ID {
		return false
	}
	return true
}

// registry is the in-memory running-job table. It is the authoritative
// record of what this worker is executing.
type registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]*Job)}
}

func (r *registry) add(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
}

func (r *registry) get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		return *j, true
	}
	return Job{}, false
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// list returns matching jobs sorted by start time then ID.
func (r *registry) list(f Filter) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for _, j := range r.jobs {
		if f.matches(*j) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].StartedAt.Equal(out[k].StartedAt) {
			return out[i].StartedAt.Before(out[k].StartedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// running reports whether a job with the name is currently registered.
func (r *registry) running(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Name == name {
			return true
		}
	}
	return false
}

// transition applies a commanded state change to a job, enforcing the
// lifecycle state machine.
func (r *registry) transition(id string, to cluster.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return errors.NotFoundf("job %q", id)
	}
	if !cluster.CanTransition(j.State, to) {
		return errors.NotValidf("transition %s -> %s for job %q", j.State, to, j.Name)
	}
	j.State = to
	return nil
}
