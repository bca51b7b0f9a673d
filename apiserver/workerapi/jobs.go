// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package workerapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/apiserver/apierrors"
	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/internal/jobs"
)

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) error {
	job := mux.Vars(r)["job"]
	var payload params.RunPayload
	if err := decodeJSON(r, &payload); err != nil {
		return errors.Trace(err)
	}
	overrides, err := overrideArgs(payload.ConfigOverrides)
	if err != nil {
		return errors.Trace(err)
	}
	req := jobs.RunRequest{
		Experiment:      payload.Env["EXPERIMENT"],
		Args:            payload.Args,
		Options:         stringOptions(payload.Options),
		Env:             payload.Env,
		ConfigOverrides: overrides,
		Source:          "user",
	}
	started, err := s.cfg.Jobs.Run(r.Context(), job, req)
	if err != nil {
		return errors.Trace(err)
	}
	return s.submit(w, "run_"+job, "", func(ctx context.Context) (interface{}, error) {
		return started, nil
	})
}

func (s *Server) stopJobs(w http.ResponseWriter, r *http.Request) error {
	var payload params.StopPayload
	if err := decodeJSON(r, &payload); err != nil {
		return errors.Trace(err)
	}
	if payload == (params.StopPayload{}) {
		return errors.BadRequestf("at least one of job_name, experiment, job_source, job_id is required")
	}
	filter := jobs.Filter{
		Name:       payload.JobName,
		Experiment: payload.Experiment,
		Source:     payload.JobSource,
		ID:         payload.JobID,
	}
	return s.submit(w, "stop_jobs", "", func(ctx context.Context) (interface{}, error) {
		return map[string]int{"stopped": s.cfg.Jobs.Stop(filter)}, nil
	})
}

func (s *Server) stopAllJobs(w http.ResponseWriter, r *http.Request) error {
	return s.submit(w, "stop_all_jobs", "", func(ctx context.Context) (interface{}, error) {
		return map[string]int{"stopped": s.cfg.Jobs.StopAll()}, nil
	})
}

func (s *Server) runningJobs(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	filter := jobs.Filter{
		Name:       vars["job"],
		Experiment: vars["experiment"],
	}
	running := s.cfg.Jobs.Running(filter)
	if running == nil {
		running = []jobs.Job{}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, running))
}

func (s *Server) jobSettings(w http.ResponseWriter, r *http.Request) error {
	job := mux.Vars(r)["job"]
	settings, err := s.cfg.Settings.All(r.Context(), job)
	if err != nil {
		return errors.Trace(err)
	}
	if settings == nil {
		settings = map[string]string{}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, map[string]interface{}{
		"job_name": job,
		"settings": settings,
	}))
}

func (s *Server) jobSetting(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	value, err := s.cfg.Settings.Get(r.Context(), vars["job"], vars["setting"])
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, map[string]string{
		"job_name": vars["job"],
		"setting":  vars["setting"],
		"value":    value,
	}))
}

// patchJobSettings is declared but not served; settings mutate through
// the bus only.
func (s *Server) patchJobSettings(w http.ResponseWriter, r *http.Request) error {
	return errors.NotImplementedf("updating job settings over HTTP; publish to the bus instead")
}

// stringOptions folds wire option values down to the strings the job
// runner passes as flag arguments.
func stringOptions(options map[string]interface{}) map[string]string {
	if len(options) == 0 {
		return nil
	}
	out := make(map[string]string, len(options))
	for k, v := range options {
		switch v := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = v
		case bool:
			out[k] = strconv.FormatBool(v)
		case float64:
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// overrideArgs turns [section, key, value] triples into the flag pairs
// the job runner appends to its command line.
func overrideArgs(overrides [][]string) ([]string, error) {
	var out []string
	for _, o := range overrides {
		if len(o) != 3 {
			return nil, errors.BadRequestf("config_overrides entries must be [section, key, value] triples")
		}
		out = append(out, "--config-override", o[0]+"."+o[1]+"="+o[2])
	}
	return out, nil
}
