// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package paths guards filesystem access driven by client-supplied
// names: traversal-safe joins and the portable filename predicate used
// for profiles, calibrations and plugin artifacts.
package paths

import (
	"path/filepath"
	"strings"

	"github.com/juju/errors"
)

const maxFilenameBytes = 255

// IsPortableFilename reports whether name is safe to use verbatim as a
// filename: ASCII letters, digits, ".", "_", "-" and single interior
// spaces; no leading "." or "-"; not "." or ".."; at most 255 bytes.
func IsPortableFilename(name string) bool {
	if name == "" || len(name) > maxFilenameBytes {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	if name[0] == '.' || name[0] == '-' || name[0] == ' ' {
		return false
	}
	if name[len(name)-1] == ' ' {
		return false
	}
	prevSpace := false
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '.' || ch == '_' || ch == '-':
		case ch == ' ':
			if prevSpace {
				return false
			}
			prevSpace = true
			continue
		default:
			return false
		}
		prevSpace = false
	}
	return true
}

// Join joins name onto base, refusing anything that would escape base.
// The error satisfies errors.NotValid.
func Join(base string, name ...string) (string, error) {
	joined := filepath.Join(append([]string{base}, name...)...)
	cleanBase := filepath.Clean(base)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", errors.NotValidf("path %q escapes %q", filepath.Join(name...), base)
	}
	return joined, nil
}
