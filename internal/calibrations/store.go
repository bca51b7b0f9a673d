// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package calibrations manages a worker's calibration and estimator
// documents: YAML files laid out as <root>/<kind>/<device>/<name>.yaml,
// plus the per-device active selection kept in the worker's local
// store. At most one document per device is active.
package calibrations

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/yaml.v3"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
	"github.com/pioreactor/pioreactor/internal/paths"
)

var logger = loggo.GetLogger("pioreactor.calibrations")

// Kind selects which document family a store manages.
type Kind string

const (
	// Calibrations are sensor/actuator calibration documents.
	Calibrations Kind = "calibrations"
	// Estimators are model estimator documents.
	Estimators Kind = "estimators"
)

// Document is one stored YAML document.
type Document struct {
	Device string                 `json:"device"`
	Name   string                 `json:"name"`
	Active bool                   `json:"is_active"`
	Data   map[string]interface{} `json:"data"`
}

// Store manages one kind of document for a worker.
type Store struct {
	root   string
	kind   Kind
	active *activeState
}

// NewStore returns a store over root for the given kind, using the
// worker-local database for the active map.
func NewStore(root string, kind Kind, factory coredatabase.TxnRunnerFactory) *Store {
	return &Store{
		root:   root,
		kind:   kind,
		active: newActiveState(factory, kind),
	}
}

func (s *Store) dir() string {
	return filepath.Join(s.root, string(s.kind))
}

func (s *Store) docPath(device, name string) (string, error) {
	if !paths.IsPortableFilename(device) {
		return "", errors.NotValidf("device %q", device)
	}
	if !paths.IsPortableFilename(name + ".yaml") {
		return "", errors.NotValidf("name %q", name)
	}
	return paths.Join(s.dir(), device, name+".yaml")
}

// Save validates and writes a document. The YAML must parse to a
// mapping.
func (s *Store) Save(device, name string, raw []byte) error {
	var data map[string]interface{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return errors.NewNotValid(err, "invalid YAML document")
	}
	path, err := s.docPath(device, name)
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.WriteFile(path, raw, 0o644))
}

// Get returns one document, with its active flag resolved.
func (s *Store) Get(ctx context.Context, device, name string) (Document, error) {
	path, err := s.docPath(device, name)
	if err != nil {
		return Document{}, errors.Trace(err)
	}
	doc, err := s.read(path, device, name)
	if err != nil {
		return Document{}, errors.Trace(err)
	}
	if active, err := s.active.get(ctx, device); err == nil && active == name {
		doc.Active = true
	}
	return doc, nil
}

// ListDevice returns the device's documents sorted by name.
func (s *Store) ListDevice(ctx context.Context, device string) ([]Document, error) {
	if !paths.IsPortableFilename(device) {
		return nil, errors.NotValidf("device %q", device)
	}
	return s.listDevices(ctx, []string{device})
}

// List returns every document of the store's kind, sorted by device
// then name.
func (s *Store) List(ctx context.Context) ([]Document, error) {
	entries, err := os.ReadDir(s.dir())
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	var devices []string
	for _, e := range entries {
		if e.IsDir() {
			devices = append(devices, e.Name())
		}
	}
	sort.Strings(devices)
	return s.listDevices(ctx, devices)
}

func (s *Store) listDevices(ctx context.Context, devices []string) ([]Document, error) {
	activeNames, err := s.active.all(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var docs []Document
	for _, device := range devices {
		entries, err := os.ReadDir(filepath.Join(s.dir(), device))
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, errors.Trace(err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
				names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
			}
		}
		sort.Strings(names)
		for _, name := range names {
			doc, err := s.read(filepath.Join(s.dir(), device, name+".yaml"), device, name)
			if err != nil {
				logger.Warningf("skipping unreadable %s %s/%s: %v", s.kind, device, name, err)
				continue
			}
			doc.Active = activeNames[device] == name
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Delete removes a document, clearing the device's active selection if
// it pointed at the document.
func (s *Store) Delete(ctx context.Context, device, name string) error {
	path, err := s.docPath(device, name)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.NotFoundf("%s %s/%s", s.kind, device, name)
	}
	if active, err := s.active.get(ctx, device); err == nil && active == name {
		if err := s.active.clear(ctx, device); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(os.Remove(path))
}

// SetActive marks the named document active for its device. Setting an
// already-active document is a no-op.
func (s *Store) SetActive(ctx context.Context, device, name string) error {
	path, err := s.docPath(device, name)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.NotFoundf("%s %s/%s", s.kind, device, name)
	}
	return errors.Trace(s.active.set(ctx, device, name))
}

// ActiveName returns the device's active document name.
func (s *Store) ActiveName(ctx context.Context, device string) (string, error) {
	name, err := s.active.get(ctx, device)
	return name, errors.Trace(err)
}

// ClearActive removes the device's active selection. Clearing a device
// with no selection is a no-op.
func (s *Store) ClearActive(ctx context.Context, device string) error {
	return errors.Trace(s.active.clear(ctx, device))
}

// AllActive returns the device to active name map.
func (s *Store) AllActive(ctx context.Context) (map[string]string, error) {
	active, err := s.active.all(ctx)
	return active, errors.Trace(err)
}

// Zip writes every document of the store's kind as a zip archive.
func (s *Store) Zip(w io.Writer) error {
	zw := zip.NewWriter(w)
	root := s.dir()
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if os.IsNotExist(err) {
			return nil
		} else if err != nil {
			return errors.Trace(err)
		}
		if info.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.Trace(err)
		}
		f, err := os.Open(path)
		if err != nil {
			return errors.Trace(err)
		}
		defer func() { _ = f.Close() }()

		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return errors.Trace(err)
		}
		_, err = io.Copy(entry, f)
		return errors.Trace(err)
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(zw.Close())
}

func (s *Store) read(path, device, name string) (Document, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Document{}, errors.NotFoundf("%s %s/%s", s.kind, device, name)
	} else if err != nil {
		return Document{}, errors.Trace(err)
	}
	var data map[string]interface{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return Document{}, errors.NewNotValid(err, "invalid YAML document")
	}
	return Document{Device: device, Name: name, Data: data}, nil
}
