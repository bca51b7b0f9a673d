// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package service validates and versions the cluster configuration files
// (the shared config.ini and the per-unit config_<unit>.ini overlays).
package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/ini.v1"

	"github.com/pioreactor/pioreactor/domain/clusterconfig/state"
	"github.com/pioreactor/pioreactor/internal/database"
)

// SharedConfigFilename is the cluster-wide configuration file.
const SharedConfigFilename = "config.ini"

// requiredSharedKeys must be present in the shared config.
var requiredSharedKeys = []struct{ section, key string }{
	{"cluster.topology", "leader_hostname"},
	{"cluster.topology", "leader_address"},
}

// requiredSharedSections must exist in the shared config even if empty
// of the keys above.
var requiredSharedSections = []string{"cluster.topology", "mqtt"}

var (
	unitConfigRegexp = regexp.MustCompile(`^config_[a-z0-9][a-z0-9-]*\.ini$`)

	// dashNormalizer folds the Unicode dashes that documents and chat
	// clients like to substitute back into hyphen-minus.
	dashNormalizer = strings.NewReplacer("–", "-", "—", "-")
)

// Service provides configuration validation and history.
type Service struct {
	st    *state.State
	clock clock.Clock
}

// NewService returns a cluster configuration service.
func NewService(st *state.State, clk clock.Clock) *Service {
	return &Service{st: st, clock: clk}
}

// IsValidFilename reports whether the filename is one this service will
// accept: the shared file or a per-unit overlay.
func IsValidFilename(filename string) bool {
	return filename == SharedConfigFilename || unitConfigRegexp.MatchString(filename)
}

// Normalize rewrites en and em dashes to hyphen-minus. Everything stored
// and distributed has passed through here.
func Normalize(content string) string {
	return dashNormalizer.Replace(content)
}

// Validate checks the content for strict INI well-formedness, and for the
// shared file also the required cluster topology and mqtt fields. The
// returned error satisfies errors.NotValid.
func Validate(filename, content string) error {
	if err := checkDuplicates(content); err != nil {
		return errors.Trace(err)
	}

	f, err := ini.Load([]byte(content))
	if err != nil {
		return errors.NewNotValid(err, "invalid INI syntax")
	}

	if filename != SharedConfigFilename {
		return nil
	}

	var missing []string
	for _, section := range requiredSharedSections {
		if _, err := f.GetSection(section); err != nil {
			missing = append(missing, "["+section+"]")
		}
	}
	for _, rk := range requiredSharedKeys {
		section, err := f.GetSection(rk.section)
		if err != nil || !section.HasKey(rk.key) {
			missing = append(missing, rk.section+"."+rk.key)
		}
	}
	if len(missing) > 0 {
		return errors.NotValidf("missing required field(s): %s", strings.Join(missing, ", "))
	}

	topology, err := f.GetSection("cluster.topology")
	if err == nil {
		for _, key := range []string{"leader_address"} {
			if !topology.HasKey(key) {
				continue
			}
			addr := topology.Key(key).String()
			if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
				return errors.NotValidf("%s %q: addresses must not carry a scheme", key, addr)
			}
		}
	}
	return nil
}

// checkDuplicates rejects repeated sections and repeated options within a
// section. The ini package silently merges both, so this runs first.
func checkDuplicates(content string) error {
	seenSections := map[string]bool{}
	seenKeys := map[string]bool{}
	section := ""
	for n, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			if seenSections[section] {
				return errors.NotValidf("duplicate section [%s] at line %d", section, n+1)
			}
			seenSections[section] = true
			continue
		}
		if i := strings.IndexAny(line, "=:"); i > 0 {
			key := fmt.Sprintf("%s\x00%s", section, strings.TrimSpace(line[:i]))
			if seenKeys[key] {
				return errors.NotValidf("duplicate option %q in [%s] at line %d",
					strings.TrimSpace(line[:i]), section, n+1)
			}
			seenKeys[key] = true
		}
	}
	return nil
}

// Update validates and stores a new revision, returning the normalized
// content that was persisted.
func (s *Service) Update(ctx context.Context, filename, content string) (string, error) {
	if !IsValidFilename(filename) {
		return "", errors.NotValidf("config filename %q", filename)
	}
	content = Normalize(content)
	if err := Validate(filename, content); err != nil {
		return "", errors.Trace(err)
	}
	err := s.st.Append(ctx, state.ConfigFile{
		Filename:  filename,
		Data:      content,
		Timestamp: database.FormatTimestamp(s.clock.Now()),
	})
	return content, errors.Trace(err)
}

// Get returns the latest stored revision of the file.
func (s *Service) Get(ctx context.Context, filename string) (string, error) {
	cf, err := s.st.Latest(ctx, filename)
	if err != nil {
		return "", errors.Trace(err)
	}
	return cf.Data, nil
}

// Filenames lists the configuration files with at least one revision.
func (s *Service) Filenames(ctx context.Context) ([]string, error) {
	names, err := s.st.Filenames(ctx)
	return names, errors.Trace(err)
}

// UnitForFilename extracts the unit from a per-unit overlay filename, or
// "" for the shared file.
func UnitForFilename(filename string) string {
	if filename == SharedConfigFilename {
		return ""
	}
	name := strings.TrimSuffix(strings.TrimPrefix(filename, "config_"), ".ini")
	return name
}
