// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package workerapi

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/apiserver/apierrors"
	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/core/cluster"
	"github.com/pioreactor/pioreactor/internal/archive"
	"github.com/pioreactor/pioreactor/internal/bus"
	"github.com/pioreactor/pioreactor/internal/database"
	"github.com/pioreactor/pioreactor/internal/paths"
	"github.com/pioreactor/pioreactor/internal/taskqueue"
)

// DisallowFilesystemSentinel blocks UI-driven file browsing and removal
// when present in the data directory.
const DisallowFilesystemSentinel = "DISALLOW_UI_FILE_SYSTEM"

func (s *Server) exportDotPioreactor(w http.ResponseWriter, r *http.Request) error {
	meta := archive.Metadata{
		Name:           s.cfg.Unit,
		LeaderHostname: s.cfg.LeaderHostname,
		IsLeader:       s.cfg.IsLeader,
		AppVersion:     s.cfg.AppVersion,
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+s.cfg.Unit+`_dot_pioreactor.zip"`)
	return errors.Trace(archive.Export(w, s.cfg.DataDir, meta, s.cfg.Clock.Now()))
}

func (s *Server) importDotPioreactor(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return errors.NewBadRequest(err, "invalid multipart body")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return errors.BadRequestf("a file part named %q is required", "file")
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(io.LimitReader(file, maxArchiveBytes))
	if err != nil {
		return errors.Trace(err)
	}

	// A metadata document, when present, must be intact and for a
	// compatible layout.
	meta, err := archive.ReadMetadata(data)
	switch {
	case errors.IsNotFound(err):
	case err != nil:
		return errors.Trace(err)
	case meta.MetadataVersion > archive.MetadataVersion:
		return errors.BadRequestf("archive metadata version %d is newer than supported version %d",
			meta.MetadataVersion, archive.MetadataVersion)
	}

	dataDir := s.cfg.DataDir
	return s.submit(w, "import_dot_pioreactor", taskqueue.ImportDotPioreactorLock,
		func(ctx context.Context) (interface{}, error) {
			if err := archive.Import(data, dataDir); err != nil {
				return nil, errors.Trace(err)
			}
			return map[string]string{"imported_to": dataDir}, nil
		})
}

func (s *Server) filesystemAllowed() bool {
	_, err := os.Stat(filepath.Join(s.cfg.DataDir, DisallowFilesystemSentinel))
	return err != nil
}

func (s *Server) browsePath(w http.ResponseWriter, r *http.Request) error {
	if !s.filesystemAllowed() {
		return errors.Forbiddenf("file system access is disabled on this unit")
	}
	target, err := paths.Join(s.cfg.DataDir, mux.Vars(r)["rest"])
	if err != nil {
		return errors.Trace(err)
	}
	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return errors.NotFoundf("path %q", mux.Vars(r)["rest"])
	} else if err != nil {
		return errors.Trace(err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(target)
		if err != nil {
			return errors.Trace(err)
		}
		listing := make([]params.PathEntry, 0, len(entries))
		for _, e := range entries {
			entry := params.PathEntry{Name: e.Name(), IsDir: e.IsDir()}
			if fi, err := e.Info(); err == nil {
				entry.Size = fi.Size()
			}
			listing = append(listing, entry)
		}
		sort.Slice(listing, func(i, j int) bool { return listing[i].Name < listing[j].Name })
		return errors.Trace(apierrors.SendJSON(w, http.StatusOK, listing))
	}

	if strings.Contains(info.Name(), ".sqlite") {
		return errors.Forbiddenf("database files cannot be downloaded")
	}
	http.ServeFile(w, r, target)
	return nil
}

func (s *Server) removeFile(w http.ResponseWriter, r *http.Request) error {
	if !s.filesystemAllowed() {
		return errors.Forbiddenf("file system access is disabled on this unit")
	}
	var req params.RemoveFileRequest
	if err := decodeJSON(r, &req); err != nil {
		return errors.Trace(err)
	}
	if req.Path == "" {
		return errors.BadRequestf("path is required")
	}
	target, err := paths.Join(s.cfg.DataDir, req.Path)
	if err != nil {
		return errors.Trace(err)
	}
	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return errors.NotFoundf("file %q", req.Path)
	} else if err != nil {
		return errors.Trace(err)
	}
	if info.IsDir() {
		return errors.BadRequestf("%q is a directory", req.Path)
	}
	if strings.Contains(info.Name(), ".sqlite") {
		return errors.Forbiddenf("database files cannot be removed")
	}
	if err := os.Remove(target); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, map[string]string{"removed": req.Path}))
}

func (s *Server) reboot(w http.ResponseWriter, r *http.Request) error {
	return s.runSystemTask(w, "reboot", taskqueue.PowerLock, "sudo", "reboot")
}

func (s *Server) shutdown(w http.ResponseWriter, r *http.Request) error {
	return s.runSystemTask(w, "shutdown", taskqueue.PowerLock, "sudo", "shutdown", "-h", "now")
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) error {
	target := mux.Vars(r)["target"]
	if target == "" {
		target = "app"
	}
	if target != "app" && target != "ui" {
		return errors.BadRequestf("unknown update target %q", target)
	}
	var req params.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		return errors.Trace(err)
	}
	args := []string{"pio", "update", target}
	if req.Branch != "" {
		args = append(args, "-b", req.Branch)
	}
	if req.Version != "" {
		args = append(args, "-v", req.Version)
	}
	if req.Source != "" {
		args = append(args, "-s", req.Source)
	}
	if req.Repo != "" {
		args = append(args, "-r", req.Repo)
	}
	return s.runSystemTask(w, "update_"+target, taskqueue.UpdateLock, args...)
}

func (s *Server) readClock(w http.ResponseWriter, r *http.Request) error {
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, map[string]string{
		"clock_time": database.FormatTimestamp(s.cfg.Clock.Now()),
	}))
}

func (s *Server) setClock(w http.ResponseWriter, r *http.Request) error {
	var req params.ClockRequest
	if err := decodeJSON(r, &req); err != nil {
		return errors.Trace(err)
	}
	args := []string{"sudo", "chrony_sync"}
	if req.UTCClockTime != "" {
		if _, err := database.ParseTimestamp(req.UTCClockTime); err != nil {
			return errors.BadRequestf("invalid utc_clock_time %q", req.UTCClockTime)
		}
		args = []string{"sudo", "date", "-u", "-s", req.UTCClockTime}
	}
	return s.runSystemTask(w, "set_utc_clock", taskqueue.ClockLock, args...)
}

// runSystemTask queues a system command under the given lock.
func (s *Server) runSystemTask(w http.ResponseWriter, name, lock string, args ...string) error {
	return s.submit(w, name, lock, func(ctx context.Context) (interface{}, error) {
		out, err := s.cfg.Run(ctx, args...)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return map[string]string{"output": strings.TrimSpace(string(out))}, nil
	})
}

func (s *Server) appVersion(w http.ResponseWriter, r *http.Request) error {
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, params.Versions{
		Unit: s.cfg.Unit,
		App:  s.cfg.AppVersion,
	}))
}

func (s *Server) capabilities(w http.ResponseWriter, r *http.Request) error {
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, params.Capabilities{
		InstallsAllowed:   s.cfg.Plugins.InstallsAllowed(),
		FilesystemAllowed: s.filesystemAllowed(),
	}))
}

func (s *Server) blink(w http.ResponseWriter, r *http.Request) error {
	topic := bus.BlinkTopic(s.cfg.Unit, cluster.UniversalExperiment)
	if err := s.cfg.Hub.Publish(r.Context(), topic, []byte("1")); err != nil {
		logger.Debugf("blink publish: %v", err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, map[string]string{"status": "ok"}))
}
