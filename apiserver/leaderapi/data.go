// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package leaderapi

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/apiserver/apierrors"
	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/core/cluster"
	clusterconfigservice "github.com/pioreactor/pioreactor/domain/clusterconfig/service"
	logservice "github.com/pioreactor/pioreactor/domain/logs/service"
	timeseriesservice "github.com/pioreactor/pioreactor/domain/timeseries/service"
	"github.com/pioreactor/pioreactor/internal/plugins"
	"github.com/pioreactor/pioreactor/internal/profiles"
)

// defaultLogLookback bounds recent_logs when the caller gives no
// window.
const defaultLogLookback = 24 * time.Hour

func minLevelParam(r *http.Request) (cluster.LogLevel, error) {
	raw := r.URL.Query().Get("min_level")
	if raw == "" {
		return cluster.Debug, nil
	}
	level, err := cluster.ParseLogLevel(strings.ToUpper(raw))
	if err != nil {
		return "", errors.Trace(err)
	}
	return level, nil
}

func logListParams(records []logservice.LogRecord) []params.LogRecord {
	out := make([]params.LogRecord, len(records))
	for i, rec := range records {
		out[i] = params.LogRecord{
			Timestamp:  rec.Timestamp,
			Level:      string(rec.Level),
			Unit:       rec.Unit,
			Experiment: rec.Experiment,
			Task:       rec.Task,
			Source:     rec.Source,
			Message:    rec.Message,
		}
	}
	return out
}

func (s *Server) recentLogs(w http.ResponseWriter, r *http.Request) error {
	level, err := minLevelParam(r)
	if err != nil {
		return errors.Trace(err)
	}
	window := defaultLogLookback
	if raw := r.URL.Query().Get("lookback"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			return errors.BadRequestf("invalid lookback %q", raw)
		}
		window = time.Duration(hours * float64(time.Hour))
	}
	records, err := s.cfg.Logs.Recent(r.Context(), mux.Vars(r)["experiment"], level, window)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, logListParams(records)))
}

func (s *Server) pagedLogs(w http.ResponseWriter, r *http.Request) error {
	level, err := minLevelParam(r)
	if err != nil {
		return errors.Trace(err)
	}
	skip := 0
	if raw := r.URL.Query().Get("skip"); raw != "" {
		skip, err = strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return errors.BadRequestf("invalid skip %q", raw)
		}
	}
	records, err := s.cfg.Logs.Page(r.Context(), mux.Vars(r)["experiment"], level, skip)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, logListParams(records)))
}

func (s *Server) timeSeries(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	query := timeseriesservice.Query{
		Experiment: vars["experiment"],
		Metric:     vars["metric"],
	}
	if raw := r.URL.Query().Get("lookback"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			return errors.BadRequestf("invalid lookback %q", raw)
		}
		query.Lookback = time.Duration(hours * float64(time.Hour))
	}
	if raw := r.URL.Query().Get("target_points"); raw != "" {
		points, err := strconv.Atoi(raw)
		if err != nil || points <= 0 {
			return errors.BadRequestf("invalid target_points %q", raw)
		}
		query.TargetPoints = points
	}
	chart, err := s.cfg.TimeSeries.Chart(r.Context(), query)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, chart))
}

func (s *Server) listConfigs(w http.ResponseWriter, r *http.Request) error {
	filenames, err := s.cfg.Configs.Filenames(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	if filenames == nil {
		filenames = []string{}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, filenames))
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) error {
	filename := mux.Vars(r)["filename"]
	content, err := s.cfg.Configs.Get(r.Context(), filename)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, params.ConfigFile{
		Filename: filename,
		Content:  content,
	}))
}

func (s *Server) patchConfig(w http.ResponseWriter, r *http.Request) error {
	filename := mux.Vars(r)["filename"]
	var body params.ConfigPatch
	if err := decodeJSON(r, &body); err != nil {
		return errors.Trace(err)
	}
	stored, err := s.cfg.Configs.Update(r.Context(), filename, body.Content)
	if err != nil {
		return errors.Trace(err)
	}
	s.audit(r.Context(), "", "config "+filename+" updated")

	// Distribution runs through the cluster CLI: the shared file goes
	// to every worker, a unit overlay only to its unit.
	args := []string{"pios", "sync-configs", "--shared"}
	if unit := clusterconfigservice.UnitForFilename(filename); unit != "" {
		args = []string{"pios", "sync-configs", "--specific", "--units", unit}
	}
	if err := s.submitConfigSync(args); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, params.ConfigFile{
		Filename: filename,
		Content:  stored,
	}))
}

func (s *Server) submitConfigSync(args []string) error {
	_, err := s.cfg.Queue.Submit("sync_configs", "", func(ctx context.Context) (interface{}, error) {
		out, err := s.cfg.Run(ctx, args...)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return map[string]string{"output": strings.TrimSpace(string(out))}, nil
	})
	return errors.Trace(err)
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) error {
	infos, err := s.cfg.Profiles.List()
	if err != nil {
		return errors.Trace(err)
	}
	if infos == nil {
		infos = []profiles.Info{}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, infos))
}

func (s *Server) saveProfile(w http.ResponseWriter, r *http.Request) error {
	var body params.ProfileBody
	if err := decodeJSON(r, &body); err != nil {
		return errors.Trace(err)
	}
	filename := mux.Vars(r)["filename"]
	if filename == "" {
		filename = body.Filename
	}
	if filename == "" {
		return errors.BadRequestf("filename is required")
	}
	if err := s.cfg.Profiles.Save(filename, []byte(body.Body)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, map[string]string{"filename": filename}))
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) error {
	filename := mux.Vars(r)["filename"]
	raw, err := s.cfg.Profiles.Get(filename)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, params.ProfileBody{
		Filename: filename,
		Body:     string(raw),
	}))
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) error {
	if err := s.cfg.Profiles.Delete(mux.Vars(r)["filename"]); err != nil {
		return errors.Trace(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// contribManifests serves the plugin-contributed UI manifests for jobs
// or charts, keyed by the trailing path segment.
func (s *Server) contribManifests(w http.ResponseWriter, r *http.Request) error {
	kind := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	manifests := plugins.LoadManifests(filepath.Join(s.cfg.ContribDir, kind))
	if manifests == nil {
		manifests = []map[string]interface{}{}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, manifests))
}
