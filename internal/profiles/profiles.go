// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package profiles stores experiment profiles: YAML documents describing
// a scripted experiment, validated against a fixed schema before they
// are accepted.
package profiles

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"

	"github.com/pioreactor/pioreactor/internal/paths"
)

// profileChecker is the fixed schema a profile must satisfy. Job action
// bodies stay loosely typed; the control plane schedules them, it does
// not interpret them.
var profileChecker = schema.FieldMap(
	schema.Fields{
		"experiment_profile_name": schema.NonEmptyString("experiment_profile_name"),
		"metadata": schema.FieldMap(
			schema.Fields{
				"author":      schema.String(),
				"description": schema.String(),
			},
			schema.Defaults{
				"author":      schema.Omit,
				"description": schema.Omit,
			},
		),
		"plugins":     schema.List(schema.StringMap(schema.Any())),
		"common":      schema.StringMap(schema.Any()),
		"pioreactors": schema.StringMap(schema.Any()),
		"inputs":      schema.StringMap(schema.Any()),
	},
	schema.Defaults{
		"metadata":    schema.Omit,
		"plugins":     schema.Omit,
		"common":      schema.Omit,
		"pioreactors": schema.Omit,
		"inputs":      schema.Omit,
	},
)

// Info summarizes one stored profile.
type Info struct {
	Filename string `json:"filename"`
	Name     string `json:"experiment_profile_name"`
}

// Store manages the profile directory.
type Store struct {
	dir string
}

// NewStore returns a store over dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// ValidFilename reports whether the name is a portable filename with a
// YAML extension.
func ValidFilename(name string) bool {
	if !paths.IsPortableFilename(name) {
		return false
	}
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// Validate checks a profile document against the schema. The error
// satisfies errors.NotValid.
func Validate(raw []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return errors.NewNotValid(err, "invalid YAML document")
	}
	if _, err := profileChecker.Coerce(doc, nil); err != nil {
		return errors.NewNotValid(err, "invalid experiment profile")
	}
	return nil
}

// Save validates and writes a profile.
func (s *Store) Save(filename string, raw []byte) error {
	if !ValidFilename(filename) {
		return errors.NotValidf("profile filename %q", filename)
	}
	if err := Validate(raw); err != nil {
		return errors.Trace(err)
	}
	path, err := paths.Join(s.dir, filename)
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.WriteFile(path, raw, 0o644))
}

// Get returns a stored profile verbatim.
func (s *Store) Get(filename string) ([]byte, error) {
	if !ValidFilename(filename) {
		return nil, errors.NotValidf("profile filename %q", filename)
	}
	path, err := paths.Join(s.dir, filename)
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("experiment profile %q", filename)
	}
	return raw, errors.Trace(err)
}

// List returns the stored profiles sorted by filename. Files that no
// longer parse are listed with an empty name rather than hidden.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !ValidFilename(e.Name()) {
			continue
		}
		info := Info{Filename: e.Name()}
		if raw, err := os.ReadFile(filepath.Join(s.dir, e.Name())); err == nil {
			var doc struct {
				Name string `yaml:"experiment_profile_name"`
			}
			if yaml.Unmarshal(raw, &doc) == nil {
				info.Name = doc.Name
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Filename < infos[j].Filename })
	return infos, nil
}

// Delete removes a stored profile.
func (s *Store) Delete(filename string) error {
	if !ValidFilename(filename) {
		return errors.NotValidf("profile filename %q", filename)
	}
	path, err := paths.Join(s.dir, filename)
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.Remove(path); os.IsNotExist(err) {
		return errors.NotFoundf("experiment profile %q", filename)
	} else if err != nil {
		return errors.Trace(err)
	}
	return nil
}
