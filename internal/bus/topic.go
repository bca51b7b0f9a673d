// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package bus

import (
	"strings"

	"github.com/juju/errors"
)

// Topic segments with special meaning on the control bus.
const (
	// Prefix roots every topic on the bus.
	Prefix = "pioreactor"

	// StateSegment addresses a job's lifecycle state rather than a
	// named setting.
	StateSegment = "$state"

	// setSuffix marks a command topic.
	setSuffix = "set"
)

// SetSettingTopic addresses a mutation of a running job's setting.
func SetSettingTopic(unit, experiment, job, setting string) string {
	return strings.Join([]string{Prefix, unit, experiment, job, setting, setSuffix}, "/")
}

// StateTopic is where a running job announces its lifecycle state.
func StateTopic(unit, experiment, job string) string {
	return strings.Join([]string{Prefix, unit, experiment, job, StateSegment}, "/")
}

// SetStateTopic addresses a lifecycle transition of a running job.
func SetStateTopic(unit, experiment, job string) string {
	return SetSettingTopic(unit, experiment, job, StateSegment)
}

// LogTopic addresses log ingest from a source on a unit at a level.
func LogTopic(unit, experiment, source, level string) string {
	return strings.Join([]string{Prefix, unit, experiment, "logs", source, level}, "/")
}

// BlinkTopic addresses the identify-this-unit LED flicker command.
func BlinkTopic(unit, experiment string) string {
	return strings.Join([]string{Prefix, unit, experiment, "monitor", "flicker_led_response_okay"}, "/")
}

// Address is a parsed bus topic.
type Address struct {
	Unit       string
	Experiment string
	// Rest holds the segments after the experiment, e.g.
	// ["stirring", "target_rpm", "set"] or ["logs", "app", "INFO"].
	Rest []string
}

// IsSetCommand reports whether the address is a settings or state
// mutation command.
func (a Address) IsSetCommand() bool {
	return len(a.Rest) == 3 && a.Rest[2] == setSuffix
}

// Job returns the job name of a set command, or "".
func (a Address) Job() string {
	if !a.IsSetCommand() {
		return ""
	}
	return a.Rest[0]
}

// Setting returns the setting name of a set command (StateSegment for a
// lifecycle transition), or "".
func (a Address) Setting() string {
	if !a.IsSetCommand() {
		return ""
	}
	return a.Rest[1]
}

// IsLog reports whether the address is a log ingest topic.
func (a Address) IsLog() bool {
	return len(a.Rest) == 3 && a.Rest[0] == "logs"
}

// LogSource returns the source segment of a log topic, or "".
func (a Address) LogSource() string {
	if !a.IsLog() {
		return ""
	}
	return a.Rest[1]
}

// LogLevel returns the level segment of a log topic, or "".
func (a Address) LogLevel() string {
	if !a.IsLog() {
		return ""
	}
	return a.Rest[2]
}

// ParseTopic splits a bus topic into its address. The error satisfies
// errors.NotValid.
func ParseTopic(topic string) (Address, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != Prefix {
		return Address{}, errors.NotValidf("bus topic %q", topic)
	}
	for _, p := range parts {
		if p == "" {
			return Address{}, errors.NotValidf("bus topic %q", topic)
		}
	}
	return Address{
		Unit:       parts[1],
		Experiment: parts[2],
		Rest:       parts[3:],
	}, nil
}

// MatchTopic reports whether a concrete topic matches a subscription
// pattern. "+" matches exactly one segment, a trailing "#" matches any
// remainder.
func MatchTopic(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, seg := range pp {
		if seg == "#" {
			return i == len(pp)-1
		}
		if i >= len(tp) {
			return false
		}
		if seg != "+" && seg != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}

// UnitCommandPattern matches every command topic addressed to a unit.
func UnitCommandPattern(unit string) string {
	return strings.Join([]string{Prefix, unit, "#"}, "/")
}

// LogPattern matches log ingest from every unit and experiment.
func LogPattern() string {
	return strings.Join([]string{Prefix, "+", "+", "logs", "#"}, "/")
}
