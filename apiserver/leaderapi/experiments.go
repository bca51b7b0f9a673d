// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package leaderapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/apiserver/apierrors"
	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/core/cluster"
	experimentservice "github.com/pioreactor/pioreactor/domain/experiment/service"
	logservice "github.com/pioreactor/pioreactor/domain/logs/service"
)

// audit records a side-effectful API action in the central log. Audit
// failures never fail the request.
func (s *Server) audit(ctx context.Context, experiment, message string) {
	err := s.cfg.Logs.Ingest(ctx, logservice.LogRecord{
		Level:      cluster.Info,
		Unit:       s.cfg.LeaderUnit,
		Experiment: experiment,
		Task:       "api",
		Source:     "leaderapi",
		Message:    message,
	})
	if err != nil {
		logger.Warningf("writing audit log: %v", err)
	}
}

func experimentParams(exp experimentservice.Experiment) params.Experiment {
	return params.Experiment{
		Experiment:   exp.Name,
		CreatedAt:    exp.CreatedAt,
		Description:  exp.Description,
		MediaUsed:    exp.MediaUsed,
		OrganismUsed: exp.OrganismUsed,
	}
}

func (s *Server) listExperiments(w http.ResponseWriter, r *http.Request) error {
	all, err := s.cfg.Experiments.All(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	out := make([]params.Experiment, len(all))
	for i, exp := range all {
		out[i] = experimentParams(exp)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, out))
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) error {
	var body params.Experiment
	if err := decodeJSON(r, &body); err != nil {
		return errors.Trace(err)
	}
	created, err := s.cfg.Experiments.Create(r.Context(), experimentservice.Experiment{
		Name:         body.Experiment,
		Description:  body.Description,
		MediaUsed:    body.MediaUsed,
		OrganismUsed: body.OrganismUsed,
	})
	if err != nil {
		return errors.Trace(err)
	}
	s.audit(r.Context(), created.Name, "experiment created")
	return errors.Trace(apierrors.SendJSON(w, http.StatusCreated, experimentParams(created)))
}

func (s *Server) latestExperiment(w http.ResponseWriter, r *http.Request) error {
	latest, err := s.cfg.Experiments.Latest(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, experimentParams(latest)))
}

func (s *Server) getExperiment(w http.ResponseWriter, r *http.Request) error {
	exp, err := s.cfg.Experiments.Get(r.Context(), mux.Vars(r)["experiment"])
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, experimentParams(exp)))
}

func (s *Server) patchExperiment(w http.ResponseWriter, r *http.Request) error {
	name := mux.Vars(r)["experiment"]
	var body params.ExperimentPatch
	if err := decodeJSON(r, &body); err != nil {
		return errors.Trace(err)
	}
	err := s.cfg.Experiments.Update(r.Context(), name, body.Description, body.MediaUsed, body.OrganismUsed)
	if err != nil {
		return errors.Trace(err)
	}
	updated, err := s.cfg.Experiments.Get(r.Context(), name)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, experimentParams(updated)))
}

func (s *Server) deleteExperiment(w http.ResponseWriter, r *http.Request) error {
	name := mux.Vars(r)["experiment"]
	if err := s.cfg.Experiments.Delete(r.Context(), name); err != nil {
		return errors.Trace(err)
	}
	s.audit(r.Context(), name, "experiment deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}
