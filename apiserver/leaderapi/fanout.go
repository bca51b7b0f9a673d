// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package leaderapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/apiserver/apierrors"
	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/core/cluster"
	inventoryservice "github.com/pioreactor/pioreactor/domain/inventory/service"
	"github.com/pioreactor/pioreactor/internal/bus"
	"github.com/pioreactor/pioreactor/internal/multicast"
	"github.com/pioreactor/pioreactor/internal/targeter"
)

// targets is a resolved fan-out: the units to address and the cluster
// records needed to build their payloads.
type targets struct {
	units   []string
	workers map[string]inventoryservice.Worker
	// assignments maps units to their current experiment; units with
	// no assignment are absent.
	assignments map[string]string
}

// resolveTargets expands the URL's unit and experiment segments into
// concrete units. withExperiment intersects with the experiment's
// active workers; bus-addressed operations (stop, settings) skip that
// so the publish happens even for experiments the unit is not in.
func (s *Server) resolveTargets(ctx context.Context, unit, experiment string, withExperiment, activeOnly bool) (targets, error) {
	workers, err := s.cfg.Inventory.AllWorkers(ctx)
	if err != nil {
		return targets{}, errors.Trace(err)
	}
	t := targets{
		workers:     make(map[string]inventoryservice.Worker, len(workers)),
		assignments: make(map[string]string),
	}
	inv := targeter.Inventory{
		Leader:       s.cfg.LeaderUnit,
		ByExperiment: make(map[string][]string),
	}
	for _, w := range workers {
		t.workers[w.Unit] = w
		inv.AllWorkers = append(inv.AllWorkers, w.Unit)
		if w.IsActive {
			inv.ActiveWorkers = append(inv.ActiveWorkers, w.Unit)
		}
		a, err := s.cfg.Inventory.AssignmentFor(ctx, w.Unit)
		if errors.IsNotFound(err) {
			continue
		} else if err != nil {
			return targets{}, errors.Trace(err)
		}
		t.assignments[w.Unit] = a.Experiment
		if w.IsActive {
			inv.ByExperiment[a.Experiment] = append(inv.ByExperiment[a.Experiment], w.Unit)
		}
	}

	req := targeter.Request{
		ActiveOnly:       activeOnly,
		FilterNonWorkers: true,
		Precedence:       targeter.Intersection,
	}
	if unit != cluster.UniversalIdentifier {
		req.Units = []string{unit}
	}
	if withExperiment && experiment != cluster.UniversalExperiment {
		req.Experiments = []string{experiment}
	}
	t.units, err = targeter.Resolve(req, inv)
	if err != nil {
		return targets{}, errors.Trace(err)
	}
	return t, nil
}

// experimentFor resolves the experiment a unit is addressed under: the
// URL experiment, or the unit's own assignment for the universal one.
func (t targets) experimentFor(unit, experiment string) (string, bool) {
	if experiment != cluster.UniversalExperiment {
		return experiment, true
	}
	assigned, ok := t.assignments[unit]
	return assigned, ok
}

func (s *Server) runJobs(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	unit, job, experiment := vars["unit"], vars["job"], vars["experiment"]
	var payload params.RunPayload
	if err := decodeJSON(r, &payload); err != nil {
		return errors.Trace(err)
	}

	t, err := s.resolveTargets(r.Context(), unit, experiment, true, true)
	if err != nil {
		return errors.Trace(err)
	}

	perUnit := make(map[string]interface{}, len(t.units))
	var units []string
	for _, u := range t.units {
		exp, ok := t.experimentFor(u, experiment)
		if !ok {
			logger.Debugf("skipping %q: no current experiment", u)
			continue
		}
		worker := t.workers[u]
		env := make(map[string]string, len(payload.Env)+4)
		for k, v := range payload.Env {
			env[k] = v
		}
		env["EXPERIMENT"] = exp
		env["ACTIVE"] = "1"
		env["MODEL_NAME"] = worker.ModelName
		env["MODEL_VERSION"] = worker.ModelVersion
		perUnit[u] = params.RunPayload{
			Args:            payload.Args,
			Options:         payload.Options,
			Env:             env,
			ConfigOverrides: payload.ConfigOverrides,
		}
		units = append(units, u)
	}
	if len(units) == 0 {
		return errors.BadRequestf("no targeted worker has a current experiment")
	}

	s.audit(r.Context(), experiment, "run "+job+" requested on "+join(units))
	return s.submit(w, "run_"+job, "", func(ctx context.Context) (interface{}, error) {
		outcomes, err := s.cfg.Caster.Multicast(ctx, multicast.Request{
			Method:      "POST",
			Path:        "/unit_api/jobs/run/job_name/" + job,
			Units:       units,
			PerUnitBody: perUnit,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		return outcomes, nil
	})
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	unit, job, experiment := vars["unit"], vars["job"], vars["experiment"]

	t, err := s.resolveTargets(r.Context(), unit, experiment, false, true)
	if err != nil {
		return errors.Trace(err)
	}
	units := t.units

	s.audit(r.Context(), experiment, "stop "+job+" requested on "+join(units))
	return s.submit(w, "stop_"+job, "", func(ctx context.Context) (interface{}, error) {
		results := make(map[string]string, len(units))
		for _, u := range units {
			topic := bus.SetStateTopic(u, experiment, job)
			if err := s.cfg.Hub.Publish(ctx, topic, []byte(cluster.JobDisconnected)); err == nil {
				results[u] = "bus"
				continue
			} else {
				logger.Debugf("bus stop for %q failed, falling back to HTTP: %v", u, err)
			}
			outcomes, err := s.cfg.Caster.Multicast(ctx, multicast.Request{
				Method: "POST",
				Path:   "/unit_api/jobs/stop",
				Units:  []string{u},
				Body:   params.StopPayload{JobName: job, Experiment: experiment},
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
			if outcomes[u].OK {
				results[u] = "http"
			} else {
				results[u] = "unreachable"
			}
		}
		return results, nil
	})
}

func (s *Server) stopExperimentJobs(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	unit, experiment := vars["unit"], vars["experiment"]

	t, err := s.resolveTargets(r.Context(), unit, experiment, false, true)
	if err != nil {
		return errors.Trace(err)
	}
	units := t.units

	s.audit(r.Context(), experiment, "stop all jobs requested on "+join(units))
	return s.submit(w, "stop_experiment_jobs", "", func(ctx context.Context) (interface{}, error) {
		outcomes, err := s.cfg.Caster.Multicast(ctx, multicast.Request{
			Method: "POST",
			Path:   "/unit_api/jobs/stop",
			Units:  units,
			Body:   params.StopPayload{Experiment: experiment},
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		return outcomes, nil
	})
}

func (s *Server) updateJobSettings(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	unit, job, experiment := vars["unit"], vars["job"], vars["experiment"]
	var payload params.UpdateJobPayload
	if err := decodeJSON(r, &payload); err != nil {
		return errors.Trace(err)
	}
	if len(payload.Settings) == 0 {
		return errors.BadRequestf("settings is required")
	}

	t, err := s.resolveTargets(r.Context(), unit, experiment, false, true)
	if err != nil {
		return errors.Trace(err)
	}
	units := t.units

	settings := make([]string, 0, len(payload.Settings))
	for k := range payload.Settings {
		settings = append(settings, k)
	}
	sort.Strings(settings)

	s.audit(r.Context(), experiment, "settings update for "+job+" requested on "+join(units))
	return s.submit(w, "update_"+job, "", func(ctx context.Context) (interface{}, error) {
		results := make(map[string]string, len(units))
		for _, u := range units {
			results[u] = "published"
			for _, k := range settings {
				topic := bus.SetSettingTopic(u, experiment, job, k)
				if err := s.cfg.Hub.Publish(ctx, topic, []byte(payload.Settings[k])); err != nil {
					logger.Warningf("publishing %s: %v", topic, err)
					results[u] = "publish failed"
				}
			}
		}
		return results, nil
	})
}

// systemFanout relays a system operation to the targeted workers'
// worker APIs.
func (s *Server) systemFanout(action string) apierrors.FailableHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		vars := mux.Vars(r)
		unit := vars["unit"]
		path := "/unit_api/system/" + action
		if target := vars["target"]; target != "" {
			path += "/" + target
		}
		var body params.UpdateRequest
		if action == "update" {
			if err := decodeJSON(r, &body); err != nil {
				return errors.Trace(err)
			}
		}

		t, err := s.resolveTargets(r.Context(), unit, cluster.UniversalExperiment, false, false)
		if err != nil {
			return errors.Trace(err)
		}
		units := t.units

		s.audit(r.Context(), "", action+" requested on "+join(units))
		return s.submit(w, action+"_fanout", "", func(ctx context.Context) (interface{}, error) {
			outcomes, err := s.cfg.Caster.Multicast(ctx, multicast.Request{
				Method: "POST",
				Path:   path,
				Units:  units,
				Body:   body,
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
			return outcomes, nil
		})
	}
}

// pluginFanout relays a plugin install or uninstall to the targeted
// workers.
func (s *Server) pluginFanout(verb string) apierrors.FailableHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		unit := mux.Vars(r)["unit"]
		var body params.PluginRequest
		if err := decodeJSON(r, &body); err != nil {
			return errors.Trace(err)
		}
		if body.Name == "" {
			return errors.BadRequestf("plugin_name is required")
		}

		t, err := s.resolveTargets(r.Context(), unit, cluster.UniversalExperiment, false, true)
		if err != nil {
			return errors.Trace(err)
		}
		units := t.units

		s.audit(r.Context(), "", verb+" plugin "+body.Name+" requested on "+join(units))
		return s.submit(w, verb+"_plugin_"+body.Name, "", func(ctx context.Context) (interface{}, error) {
			outcomes, err := s.cfg.Caster.Multicast(ctx, multicast.Request{
				Method: "POST",
				Path:   "/unit_api/plugins/" + verb,
				Units:  units,
				Body:   body,
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
			return outcomes, nil
		})
	}
}

// unitRunningJobs proxies one worker's running-job listing.
func (s *Server) unitRunningJobs(w http.ResponseWriter, r *http.Request) error {
	unit := mux.Vars(r)["unit"]
	if _, err := s.cfg.Inventory.GetWorker(r.Context(), unit); err != nil {
		return errors.Trace(err)
	}
	outcomes, err := s.cfg.Caster.Multicast(r.Context(), multicast.Request{
		Method: "GET",
		Path:   "/unit_api/jobs/running",
		Units:  []string{unit},
	})
	if err != nil {
		return errors.Trace(err)
	}
	outcome := outcomes[unit]
	if !outcome.OK {
		return errors.Trace(apierrors.SendJSON(w, http.StatusBadGateway, params.Error{
			Message: "worker " + unit + " did not answer",
			Info:    &params.ErrorInfo{Status: http.StatusBadGateway},
		}))
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(outcome.Payload)
	return errors.Trace(err)
}

// versions rolls up app versions across the cluster, the leader's own
// first.
func (s *Server) versions(w http.ResponseWriter, r *http.Request) error {
	t, err := s.resolveTargets(r.Context(), cluster.UniversalIdentifier, cluster.UniversalExperiment, false, false)
	if err != nil && !errors.IsBadRequest(errors.Cause(err)) {
		return errors.Trace(err)
	}

	out := []params.Versions{{Unit: s.cfg.LeaderUnit, App: s.cfg.AppVersion}}
	if len(t.units) > 0 {
		outcomes, err := s.cfg.Caster.Multicast(r.Context(), multicast.Request{
			Method: "GET",
			Path:   "/unit_api/versions/app",
			Units:  t.units,
		})
		if err != nil {
			return errors.Trace(err)
		}
		for _, u := range t.units {
			if u == s.cfg.LeaderUnit {
				continue
			}
			v := params.Versions{Unit: u}
			if outcome := outcomes[u]; outcome.OK {
				var reported params.Versions
				if json.Unmarshal(outcome.Payload, &reported) == nil {
					v.App = reported.App
				}
			}
			out = append(out, v)
		}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, out))
}

func join(units []string) string {
	return strings.Join(units, ", ")
}
