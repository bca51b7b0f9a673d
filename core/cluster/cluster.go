// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package cluster holds the small shared identity types used across the
// control plane: unit names, experiment names and the two universal
// wildcards understood by targeting and the bus.
package cluster

import (
	"regexp"
	"strings"

	"github.com/juju/errors"
)

const (
	// UniversalIdentifier addresses every unit in the cluster.
	UniversalIdentifier = "$broadcast"

	// UniversalExperiment addresses every experiment. Logs and readings
	// published against it are visible to all experiments.
	UniversalExperiment = "$experiment"

	// maxExperimentNameLength is the longest accepted experiment name.
	maxExperimentNameLength = 199
)

var (
	forbiddenExperimentRunes = "#$%+/\\"

	unitNameRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

// ValidateExperimentName returns an error satisfying errors.NotValid if the
// input cannot be used as an experiment identifier.
func ValidateExperimentName(name string) error {
	switch {
	case name == "":
		return errors.NotValidf("empty experiment name")
	case len(name) > maxExperimentNameLength:
		return errors.NotValidf("experiment name longer than %d characters", maxExperimentNameLength)
	case name == "current":
		return errors.NotValidf(`experiment name "current"`)
	case strings.HasPrefix(name, "_testing"):
		return errors.NotValidf(`experiment name with reserved "_testing" prefix`)
	case strings.ContainsAny(name, forbiddenExperimentRunes):
		return errors.NotValidf("experiment name containing one of %q", forbiddenExperimentRunes)
	}
	return nil
}

// IsValidUnitName reports whether name is an acceptable hostname-like
// unit identifier.
func IsValidUnitName(name string) bool {
	return name == UniversalIdentifier || unitNameRegexp.MatchString(name)
}

// ValidateUnitName returns an error satisfying errors.NotValid if the input
// is not a unit name. The universal identifier is not accepted here; callers
// that allow broadcast must check for it first.
func ValidateUnitName(name string) error {
	if name == UniversalIdentifier || !unitNameRegexp.MatchString(name) {
		return errors.NotValidf("unit name %q", name)
	}
	return nil
}
