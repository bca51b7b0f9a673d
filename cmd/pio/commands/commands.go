// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package commands implements the pio CLI, the on-unit counterpart of
// pios. Most subcommands talk to the local unit API; pio run is the
// job process itself, spawned by the job manager.
package commands

import (
	"github.com/juju/cmd/v4"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	pioversion "github.com/pioreactor/pioreactor/core/version"
	"github.com/pioreactor/pioreactor/internal/unitclient"
)

var logger = loggo.GetLogger("pioreactor.cmd.pio")

const pioDoc = `
pio operates this unit: starting and stopping jobs, managing plugins
and updating the software. Cluster-wide operations live in pios on the
leader.
`

// NewSuperCommand returns the pio command tree.
func NewSuperCommand() *cmd.SuperCommand {
	sup := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "pio",
		Doc:     pioDoc,
		Purpose: "Operate this Pioreactor unit.",
		Version: pioversion.App,
		Log:     &cmd.Log{},
	})
	sup.Register(newRunCommand())
	sup.Register(newKillCommand())
	sup.Register(newRunningCommand())
	sup.Register(newBlinkCommand())
	sup.Register(newPluginsCommand())
	sup.Register(newUpdateCommand())
	return sup
}

// localCommand carries the flags shared by the subcommands that talk
// to the unit API on this machine.
type localCommand struct {
	cmd.CommandBase

	apiURL  string
	jsonOut bool

	caller *unitclient.Client
}

func (c *localCommand) addLocalFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.apiURL, "api", "http://localhost", "base URL of this unit's API")
	f.BoolVar(&c.jsonOut, "json", false, "print machine-readable output")
}

// client returns a unit API client pinned to this machine.
func (c *localCommand) client() *unitclient.Client {
	if c.caller == nil {
		url := c.apiURL
		c.caller = unitclient.New(func(string) string { return url }, nil, 0)
	}
	return c.caller
}
