// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package cluster

import (
	"github.com/juju/errors"
)

// LogLevel is a log severity as stored in the central log table.
type LogLevel string

const (
	Debug   LogLevel = "DEBUG"
	Info    LogLevel = "INFO"
	Notice  LogLevel = "NOTICE"
	Warning LogLevel = "WARNING"
	Error   LogLevel = "ERROR"
)

// levelOrder runs from most to least severe. A min_level floor expands to
// the ordered prefix ending at the floor.
var levelOrder = []LogLevel{Error, Warning, Notice, Info, Debug}

// ParseLogLevel converts a wire string into a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	for _, l := range levelOrder {
		if string(l) == s {
			return l, nil
		}
	}
	return "", errors.NotValidf("log level %q", s)
}

// LevelsAtOrAbove returns the set of levels at least as severe as min,
// ordered most severe first. An unknown floor returns the full set.
func LevelsAtOrAbove(min LogLevel) []LogLevel {
	for i, l := range levelOrder {
		if l == min {
			out := make([]LogLevel, i+1)
			copy(out, levelOrder[:i+1])
			return out
		}
	}
	out := make([]LogLevel, len(levelOrder))
	copy(out, levelOrder)
	return out
}
