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
	inventoryservice "github.com/pioreactor/pioreactor/domain/inventory/service"
	"github.com/pioreactor/pioreactor/internal/multicast"
	"github.com/pioreactor/pioreactor/internal/taskqueue"
)

func workerParams(w inventoryservice.Worker) params.Worker {
	return params.Worker{
		Unit:         w.Unit,
		AddedAt:      w.AddedAt,
		IsActive:     w.IsActive,
		ModelName:    w.ModelName,
		ModelVersion: w.ModelVersion,
	}
}

func workerListParams(workers []inventoryservice.Worker) []params.Worker {
	out := make([]params.Worker, len(workers))
	for i, w := range workers {
		out[i] = workerParams(w)
	}
	return out
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) error {
	workers, err := s.cfg.Inventory.AllWorkers(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, workerListParams(workers)))
}

func (s *Server) addWorker(w http.ResponseWriter, r *http.Request) error {
	var body params.Worker
	if err := decodeJSON(r, &body); err != nil {
		return errors.Trace(err)
	}
	added, err := s.cfg.Inventory.AddWorker(r.Context(), inventoryservice.Worker{
		Unit:         body.Unit,
		IsActive:     true,
		ModelName:    body.ModelName,
		ModelVersion: body.ModelVersion,
	})
	if err != nil {
		return errors.Trace(err)
	}
	s.audit(r.Context(), "", "worker "+added.Unit+" added to the cluster")
	return errors.Trace(apierrors.SendJSON(w, http.StatusCreated, workerParams(added)))
}

func (s *Server) getWorker(w http.ResponseWriter, r *http.Request) error {
	worker, err := s.cfg.Inventory.GetWorker(r.Context(), mux.Vars(r)["unit"])
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, workerParams(worker)))
}

func (s *Server) removeWorker(w http.ResponseWriter, r *http.Request) error {
	unit := mux.Vars(r)["unit"]
	if err := s.cfg.Inventory.RemoveWorker(r.Context(), unit); err != nil {
		return errors.Trace(err)
	}
	s.stopWorkerJobs(unit)
	s.audit(r.Context(), "", "worker "+unit+" removed from the cluster")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) setWorkerActive(w http.ResponseWriter, r *http.Request) error {
	unit := mux.Vars(r)["unit"]
	var body params.WorkerActivePatch
	if err := decodeJSON(r, &body); err != nil {
		return errors.Trace(err)
	}
	if err := s.cfg.Inventory.SetActive(r.Context(), unit, body.IsActive); err != nil {
		return errors.Trace(err)
	}
	if !body.IsActive {
		s.stopWorkerJobs(unit)
	}
	worker, err := s.cfg.Inventory.GetWorker(r.Context(), unit)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, workerParams(worker)))
}

// stopWorkerJobs queues a best-effort stop-all against one worker,
// used when a worker leaves the active pool.
func (s *Server) stopWorkerJobs(unit string) {
	_, err := s.cfg.Queue.Submit("stop_all_jobs_on_"+unit, "", func(ctx context.Context) (interface{}, error) {
		outcomes, err := s.cfg.Caster.Multicast(ctx, multicast.Request{
			Method: "POST",
			Path:   "/unit_api/jobs/stop/all",
			Units:  []string{unit},
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		return outcomes, nil
	})
	if err != nil && !errors.Is(err, taskqueue.ErrStopping) {
		logger.Warningf("queueing stop-all for %q: %v", unit, err)
	}
}

func (s *Server) listAssignments(w http.ResponseWriter, r *http.Request) error {
	workers, err := s.cfg.Inventory.AllWorkers(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	assignments := make([]params.Assignment, 0, len(workers))
	for _, worker := range workers {
		a, err := s.cfg.Inventory.AssignmentFor(r.Context(), worker.Unit)
		if errors.IsNotFound(err) {
			continue
		} else if err != nil {
			return errors.Trace(err)
		}
		assignments = append(assignments, params.Assignment{Unit: a.Unit, Experiment: a.Experiment})
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, assignments))
}

func (s *Server) experimentWorkers(w http.ResponseWriter, r *http.Request) error {
	experiment := mux.Vars(r)["experiment"]
	if _, err := s.cfg.Experiments.Get(r.Context(), experiment); err != nil {
		return errors.Trace(err)
	}
	workers, err := s.cfg.Inventory.WorkersInExperiment(r.Context(), experiment)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, workerListParams(workers)))
}

func (s *Server) assignWorker(w http.ResponseWriter, r *http.Request) error {
	experiment := mux.Vars(r)["experiment"]
	var body params.AssignRequest
	if err := decodeJSON(r, &body); err != nil {
		return errors.Trace(err)
	}
	if body.Unit == "" {
		return errors.BadRequestf("pioreactor_unit is required")
	}
	if _, err := s.cfg.Experiments.Get(r.Context(), experiment); err != nil {
		return errors.Trace(err)
	}
	if err := s.cfg.Inventory.Assign(r.Context(), body.Unit, experiment); err != nil {
		return errors.Trace(err)
	}
	s.audit(r.Context(), experiment, "worker "+body.Unit+" assigned")
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, params.Assignment{
		Unit:       body.Unit,
		Experiment: experiment,
	}))
}

func (s *Server) unassignWorker(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	unit, experiment := vars["unit"], vars["experiment"]
	assignment, err := s.cfg.Inventory.AssignmentFor(r.Context(), unit)
	if err != nil {
		return errors.Trace(err)
	}
	if assignment.Experiment != experiment {
		return errors.NotFoundf("assignment of %q to %q", unit, experiment)
	}
	if err := s.cfg.Inventory.Unassign(r.Context(), unit); err != nil {
		return errors.Trace(err)
	}
	s.stopWorkerJobs(unit)
	s.audit(r.Context(), experiment, "worker "+unit+" unassigned")
	w.WriteHeader(http.StatusNoContent)
	return nil
}
