// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package apierrors maps domain errors to HTTP statuses and writes the
// JSON error body. The mapping lives here and nowhere else; handlers
// return plain errors and let ServeError translate.
package apierrors

import (
	"encoding/json"
	"net/http"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/internal/unitclient"
)

var logger = loggo.GetLogger("pioreactor.apiserver")

// StatusFor returns the HTTP status for an error.
func StatusFor(err error) int {
	cause := errors.Cause(err)
	switch {
	case cause == nil:
		return http.StatusOK
	case errors.IsNotFound(cause):
		return http.StatusNotFound
	case errors.IsBadRequest(cause), errors.IsNotValid(cause):
		return http.StatusBadRequest
	case errors.IsForbidden(cause):
		return http.StatusForbidden
	case errors.IsAlreadyExists(cause):
		return http.StatusConflict
	case errors.IsQuotaLimitExceeded(cause):
		return http.StatusTooManyRequests
	case errors.IsMethodNotAllowed(cause):
		return http.StatusMethodNotAllowed
	case errors.IsNotImplemented(cause):
		return http.StatusServiceUnavailable
	default:
		if _, ok := unitclient.IsHTTPError(err); ok {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

// ServeError writes err as the standard JSON error body with the mapped
// status.
func ServeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := params.Error{
		Message: err.Error(),
		Info:    &params.ErrorInfo{Status: status},
	}
	if httpErr, ok := unitclient.IsHTTPError(err); ok {
		body.Info.Cause = httpErr.Body
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("request failed: %v", errors.Details(err))
	}
	if err := SendJSON(w, status, &body); err != nil {
		logger.Errorf("writing error body: %v", err)
	}
}

// SendJSON writes a JSON response with the given status.
func SendJSON(w http.ResponseWriter, status int, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Trace(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(raw)
	return errors.Trace(err)
}

// FailableHandlerFunc is an HTTP handler that reports failure as an
// error instead of writing its own error body.
type FailableHandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handler adapts a FailableHandlerFunc to http.Handler, routing any
// error through ServeError.
func Handler(f FailableHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			ServeError(w, err)
		}
	})
}
