// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package archive builds and unpacks the zipped unit state directory
// exchanged by the export and import endpoints.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/pioreactor/pioreactor/internal/database"
	"github.com/pioreactor/pioreactor/internal/paths"
)

var logger = loggo.GetLogger("pioreactor.archive")

// MetadataFilename is the document embedded at the archive root.
const MetadataFilename = "pioreactor_export_metadata.json"

// MetadataVersion identifies the current metadata layout.
const MetadataVersion = 1

// Metadata describes the unit an archive was exported from.
type Metadata struct {
	MetadataVersion int    `json:"metadata_version"`
	Name            string `json:"name"`
	LeaderHostname  string `json:"leader_hostname"`
	IsLeader        bool   `json:"is_leader"`
	AppVersion      string `json:"app_version"`
	ExportedAtUTC   string `json:"exported_at_utc"`
}

// excluded reports whether a file stays out of the archive. Database
// files and their WAL/SHM companions are never exported.
func excluded(name string) bool {
	base := filepath.Base(name)
	return strings.Contains(base, ".sqlite")
}

// Export writes a zip of dir to w, rooted at the directory's own name,
// with meta embedded. The exported-at stamp is filled in here.
func Export(w io.Writer, dir string, meta Metadata, now time.Time) error {
	meta.MetadataVersion = MetadataVersion
	meta.ExportedAtUTC = database.FormatTimestamp(now)

	zw := zip.NewWriter(w)

	metaFile, err := zw.Create(MetadataFilename)
	if err != nil {
		return errors.Trace(err)
	}
	if err := json.NewEncoder(metaFile).Encode(meta); err != nil {
		return errors.Trace(err)
	}

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.Trace(err)
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return errors.Trace(err)
		}
		if excluded(rel) {
			logger.Debugf("excluding %q from export", rel)
			return nil
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

// ReadMetadata extracts the metadata document from an archive, if
// present. A missing document returns a NotFound error; archives
// without one are importable but unverifiable.
func ReadMetadata(data []byte) (Metadata, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Metadata{}, errors.NotValidf("zip archive")
	}
	for _, f := range zr.File {
		if f.Name != MetadataFilename {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Metadata{}, errors.Trace(err)
		}
		defer func() { _ = rc.Close() }()

		var meta Metadata
		if err := json.NewDecoder(rc).Decode(&meta); err != nil {
			return Metadata{}, errors.NotValidf("archive metadata")
		}
		return meta, nil
	}
	return Metadata{}, errors.NotFoundf("archive metadata")
}

// Import unpacks an archive into dir, refusing entries that would
// escape it. The metadata document itself is not written out. Database
// files inside the archive are skipped for the same reason they are
// excluded on export.
func Import(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errors.NotValidf("zip archive")
	}
	for _, f := range zr.File {
		if f.Name == MetadataFilename || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if excluded(f.Name) {
			logger.Debugf("skipping %q on import", f.Name)
			continue
		}
		target, err := paths.Join(dir, filepath.FromSlash(f.Name))
		if err != nil {
			return errors.Trace(err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Trace(err)
		}
		if err := extract(f, target); err != nil {
			return errors.Annotatef(err, "extracting %q", f.Name)
		}
	}
	return nil
}

func extract(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, rc)
	return errors.Trace(err)
}
