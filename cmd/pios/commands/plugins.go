// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"fmt"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/pioreactor/pioreactor/apiserver/params"
)

// newPluginsCommand groups the plugin subcommands.
func newPluginsCommand() cmd.Command {
	sup := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:        "plugins",
		UsagePrefix: "pios",
		Purpose:     "Manage plugins on the targeted workers.",
	})
	sup.Register(&pluginCommand{action: "install"})
	sup.Register(&pluginCommand{action: "uninstall"})
	return sup
}

// pluginCommand installs or uninstalls one plugin cluster-wide.
type pluginCommand struct {
	clusterCommand

	action string
	name   string
	source string
}

// Info is part of the cmd.Command interface.
func (c *pluginCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    c.action,
		Args:    "<plugin>",
		Purpose: fmt.Sprintf("%s a plugin on the targeted workers.", capitalize(c.action)),
		Examples: fmt.Sprintf(`
    pios plugins %s pioreactor-air-bubbler
`, c.action),
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *pluginCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addClusterFlags(f)
	if c.action == "install" {
		f.StringVar(&c.source, "source", "", "install from this archive path or URL")
	}
}

// Init is part of the cmd.Command interface.
func (c *pluginCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no plugin name specified")
	}
	c.name = args[0]
	return cmd.CheckEmpty(args[1:])
}

// Run is part of the cmd.Command interface.
func (c *pluginCommand) Run(ctx *cmd.Context) error {
	if err := c.confirm(ctx, fmt.Sprintf("%s plugin %q on %s?", capitalize(c.action), c.name, c.describeTargets())); err != nil {
		return err
	}
	body := params.PluginRequest{Name: c.name, Source: c.source}
	client := c.client()
	return c.fanoutTask(ctx, client, "POST", func(unit string) string {
		return fmt.Sprintf("/api/units/%s/plugins/%s", unit, c.action)
	}, body)
}
