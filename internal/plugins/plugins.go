// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package plugins manages a unit's installed plugins: listing via the
// plugin tool, one-at-a-time install/uninstall guarded by the
// DISALLOW_UI_INSTALLS sentinel, and the contrib YAML manifests plugins
// ship for the UI.
package plugins

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/yaml.v3"

	"github.com/pioreactor/pioreactor/internal/paths"
)

var logger = loggo.GetLogger("pioreactor.plugins")

// DisallowInstallsSentinel blocks UI-driven installs and uninstalls
// when present in the data directory.
const DisallowInstallsSentinel = "DISALLOW_UI_INSTALLS"

// Plugin describes one installed plugin.
type Plugin struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Homepage    string `json:"homepage_url"`
	Author      string `json:"author"`
	Source      string `json:"source"`
}

// CommandRunner executes the plugin tool. Tests substitute their own.
type CommandRunner func(ctx context.Context, args ...string) ([]byte, error)

// ExecRunner runs the real pio binary.
func ExecRunner(executable string) CommandRunner {
	return func(ctx context.Context, args ...string) ([]byte, error) {
		out, err := exec.CommandContext(ctx, executable, args...).CombinedOutput()
		if err != nil {
			return nil, errors.Annotatef(err, "%s %s: %s",
				executable, strings.Join(args, " "), strings.TrimSpace(string(out)))
		}
		return out, nil
	}
}

// ArgvRunner runs a full argv, treating the first argument as the
// executable. System tasks (reboot, update, clock) name their own
// binaries.
func ArgvRunner() CommandRunner {
	return func(ctx context.Context, args ...string) ([]byte, error) {
		if len(args) == 0 {
			return nil, errors.NotValidf("empty command")
		}
		return ExecRunner(args[0])(ctx, args[1:]...)
	}
}

// Registry manages the unit's plugins.
type Registry struct {
	dataDir string
	run     CommandRunner
}

// NewRegistry returns a registry over the unit's data directory.
func NewRegistry(dataDir string, run CommandRunner) *Registry {
	return &Registry{dataDir: dataDir, run: run}
}

// Installed lists the installed plugins.
func (r *Registry) Installed(ctx context.Context) ([]Plugin, error) {
	out, err := r.run(ctx, "plugins", "list", "--json")
	if err != nil {
		return nil, errors.Trace(err)
	}
	var plugins []Plugin
	if err := json.Unmarshal(out, &plugins); err != nil {
		return nil, errors.Annotate(err, "parsing plugin listing")
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name < plugins[j].Name })
	return plugins, nil
}

// Install installs one named plugin. Blocked while the sentinel file
// exists; the error satisfies errors.Forbidden.
func (r *Registry) Install(ctx context.Context, name string) error {
	if err := r.check(name); err != nil {
		return errors.Trace(err)
	}
	_, err := r.run(ctx, "plugins", "install", name)
	return errors.Annotatef(err, "installing plugin %q", name)
}

// Uninstall removes one named plugin, under the same sentinel guard.
func (r *Registry) Uninstall(ctx context.Context, name string) error {
	if err := r.check(name); err != nil {
		return errors.Trace(err)
	}
	_, err := r.run(ctx, "plugins", "uninstall", name)
	return errors.Annotatef(err, "uninstalling plugin %q", name)
}

// InstallsAllowed reports whether the sentinel permits installs.
func (r *Registry) InstallsAllowed() bool {
	_, err := os.Stat(filepath.Join(r.dataDir, DisallowInstallsSentinel))
	return os.IsNotExist(err)
}

func (r *Registry) check(name string) error {
	if !paths.IsPortableFilename(name) {
		return errors.NotValidf("plugin name %q", name)
	}
	if !r.InstallsAllowed() {
		return errors.Forbiddenf("plugin installs are disabled on this unit")
	}
	return nil
}

// LoadManifests parses every YAML manifest under dir, sorted by
// filename. Unreadable or malformed files are skipped with a warning so
// one broken plugin cannot hide the rest.
func LoadManifests(dir string) []map[string]interface{} {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warningf("reading manifests in %q: %v", dir, err)
		}
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var manifests []map[string]interface{}
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warningf("reading manifest %q: %v", name, err)
			continue
		}
		var doc map[string]interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			logger.Warningf("parsing manifest %q: %v", name, err)
			continue
		}
		manifests = append(manifests, doc)
	}
	return manifests
}
