// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package database

import (
	"time"

	"github.com/juju/errors"
)

// TimestampFormat is the fixed-width UTC layout used for every timestamp
// column. Fixed width keeps sqlite's lexical string comparison consistent
// with time ordering.
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders a time for storage.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTimestamp reads a stored or client-supplied timestamp. Inputs with
// other fractional precision are accepted.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.NotValidf("timestamp %q", s)
	}
	return t.UTC(), nil
}
