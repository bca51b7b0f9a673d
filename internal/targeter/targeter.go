// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package targeter resolves a request's unit and experiment options
// into the concrete sorted set of unit names a fan-out will address.
// The algorithm is deterministic and pure; callers supply the cluster
// inventory.
package targeter

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Precedence decides how an explicit unit list combines with an
// experiment expansion.
type Precedence string

const (
	// Intersection keeps units present in both sets.
	Intersection Precedence = "intersection"
	// Experiments lets the experiment expansion win.
	Experiments Precedence = "experiments"
	// Units lets the explicit unit list win.
	Units Precedence = "units"
)

// Request is a targeting request.
type Request struct {
	Units       []string
	Experiments []string
	// ActiveOnly restricts the inventory base to active workers.
	ActiveOnly bool
	// IncludeLeader forces the leader in or out. Nil follows the
	// inventory.
	IncludeLeader *bool
	// FilterNonWorkers drops requested units not present in the
	// inventory base rather than addressing them blindly.
	FilterNonWorkers bool
	Precedence       Precedence
}

// Inventory is the cluster state the resolution runs against.
type Inventory struct {
	AllWorkers    []string
	ActiveWorkers []string
	Leader        string
	// ByExperiment maps an experiment to its active assigned workers.
	ByExperiment map[string][]string
}

// Resolve returns the sorted unit names the request addresses. Errors
// satisfy errors.BadRequest.
func Resolve(req Request, inv Inventory) ([]string, error) {
	var fromExperiments set.Strings
	if len(req.Experiments) > 0 {
		fromExperiments = set.NewStrings()
		for _, exp := range req.Experiments {
			workers := inv.ByExperiment[exp]
			if len(workers) == 0 {
				return nil, errors.BadRequestf("no active workers assigned to experiment %q", exp)
			}
			fromExperiments = fromExperiments.Union(set.NewStrings(workers...))
		}
	}

	base := set.NewStrings(inv.AllWorkers...)
	if req.ActiveOnly {
		base = set.NewStrings(inv.ActiveWorkers...)
	}

	current := base
	if len(req.Units) > 0 {
		current = set.NewStrings(req.Units...)
		if req.FilterNonWorkers {
			current = current.Intersection(base)
		}
	}

	if fromExperiments != nil {
		switch req.Precedence {
		case Experiments:
			current = fromExperiments
		case Units:
			// Explicit units win, experiments only validated above.
		case Intersection, "":
			current = current.Intersection(fromExperiments)
		default:
			return nil, errors.BadRequestf("unknown precedence %q", req.Precedence)
		}
	}

	if req.IncludeLeader != nil && inv.Leader != "" {
		if *req.IncludeLeader {
			current.Add(inv.Leader)
		} else {
			current.Remove(inv.Leader)
		}
	}

	if current.IsEmpty() {
		return nil, errors.BadRequestf("no units targeted")
	}
	return current.SortedValues(), nil
}
