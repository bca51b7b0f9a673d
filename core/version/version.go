// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package version holds the running software version. The cluster uses
// calendar versions (year.month.patch), which parse as ordinary
// semantic versions for comparison.
package version

import (
	semversion "github.com/juju/version/v2"
)

// App is the version of the pioreactor software in this build.
const App = "25.8.1"

// Current is App in comparable form.
var Current = semversion.MustParse(App)

// Compare returns -1, 0 or 1 when other is older than, equal to or
// newer than the running version. Unparseable input compares as older.
func Compare(other string) int {
	v, err := semversion.Parse(other)
	if err != nil {
		return -1
	}
	return v.Compare(Current)
}
