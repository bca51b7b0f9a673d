// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package workerapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/apiserver/apierrors"
	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/internal/calibrations"
)

// docRoutes serves one document family (calibrations or estimators);
// the two families share every route shape.
type docRoutes struct {
	store        *calibrations.Store
	prefix       string
	activePrefix string
}

func (d docRoutes) list(w http.ResponseWriter, r *http.Request) error {
	docs, err := d.store.List(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	if docs == nil {
		docs = []calibrations.Document{}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, docs))
}

func (d docRoutes) listDevice(w http.ResponseWriter, r *http.Request) error {
	docs, err := d.store.ListDevice(r.Context(), mux.Vars(r)["device"])
	if err != nil {
		return errors.Trace(err)
	}
	if docs == nil {
		docs = []calibrations.Document{}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, docs))
}

func (d docRoutes) get(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	doc, err := d.store.Get(r.Context(), vars["device"], vars["name"])
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, doc))
}

func (d docRoutes) save(w http.ResponseWriter, r *http.Request) error {
	var body params.CalibrationBody
	if err := decodeJSON(r, &body); err != nil {
		return errors.Trace(err)
	}
	if body.Name == "" {
		return errors.BadRequestf("name is required")
	}
	device := mux.Vars(r)["device"]
	if err := d.store.Save(device, body.Name, []byte(body.Body)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusCreated, map[string]string{
		"device": device,
		"name":   body.Name,
	}))
}

func (d docRoutes) delete(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	if err := d.store.Delete(r.Context(), vars["device"], vars["name"]); err != nil {
		return errors.Trace(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (d docRoutes) allActive(w http.ResponseWriter, r *http.Request) error {
	active, err := d.store.AllActive(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	if active == nil {
		active = map[string]string{}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, active))
}

func (d docRoutes) setActive(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	if err := d.store.SetActive(r.Context(), vars["device"], vars["name"]); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, map[string]string{
		"device": vars["device"],
		"name":   vars["name"],
	}))
}

func (d docRoutes) clearActive(w http.ResponseWriter, r *http.Request) error {
	if err := d.store.ClearActive(r.Context(), mux.Vars(r)["device"]); err != nil {
		return errors.Trace(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) zippedCalibrations(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="calibrations.zip"`)
	return errors.Trace(s.cfg.Calibrations.Zip(w))
}
