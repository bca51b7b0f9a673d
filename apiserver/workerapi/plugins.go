// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package workerapi

import (
	"context"
	"net/http"

	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/apiserver/apierrors"
	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/internal/plugins"
)

func (s *Server) installedPlugins(w http.ResponseWriter, r *http.Request) error {
	installed, err := s.cfg.Plugins.Installed(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	if installed == nil {
		installed = []plugins.Plugin{}
	}
	return errors.Trace(apierrors.SendJSON(w, http.StatusOK, installed))
}

func (s *Server) installPlugin(w http.ResponseWriter, r *http.Request) error {
	return s.pluginChange(w, r, "install", s.cfg.Plugins.Install)
}

func (s *Server) uninstallPlugin(w http.ResponseWriter, r *http.Request) error {
	return s.pluginChange(w, r, "uninstall", s.cfg.Plugins.Uninstall)
}

func (s *Server) pluginChange(w http.ResponseWriter, r *http.Request, verb string, apply func(context.Context, string) error) error {
	var req params.PluginRequest
	if err := decodeJSON(r, &req); err != nil {
		return errors.Trace(err)
	}
	if req.Name == "" {
		return errors.BadRequestf("plugin_name is required")
	}
	// Sentinel and name checks run before the task is queued so the
	// caller gets the refusal synchronously.
	if !s.cfg.Plugins.InstallsAllowed() {
		return errors.Forbiddenf("plugin installs are disabled on this unit")
	}
	name := req.Name
	return s.submit(w, verb+"_plugin_"+name, "", func(ctx context.Context) (interface{}, error) {
		if err := apply(ctx, name); err != nil {
			return nil, errors.Trace(err)
		}
		return map[string]string{"plugin_name": name, "status": verb + "ed"}, nil
	})
}
