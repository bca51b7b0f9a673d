// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/internal/plugins"
)

// newPluginsCommand groups the plugin subcommands.
func newPluginsCommand() cmd.Command {
	sup := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:        "plugins",
		UsagePrefix: "pio",
		Purpose:     "Manage plugins on this unit.",
	})
	sup.Register(&pluginListCommand{})
	sup.Register(&pluginChangeCommand{action: "install"})
	sup.Register(&pluginChangeCommand{action: "uninstall"})
	return sup
}

// pluginListCommand lists the installed plugins.
type pluginListCommand struct {
	localCommand
}

// Info is part of the cmd.Command interface.
func (c *pluginListCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "list",
		Purpose: "List the plugins installed on this unit.",
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *pluginListCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addLocalFlags(f)
}

// Init is part of the cmd.Command interface.
func (c *pluginListCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *pluginListCommand) Run(ctx *cmd.Context) error {
	var installed []plugins.Plugin
	if err := c.client().Get(ctx, "", "/unit_api/plugins/installed", nil, &installed); err != nil {
		return errors.Trace(err)
	}
	if c.jsonOut {
		enc := json.NewEncoder(ctx.Stdout)
		enc.SetIndent("", "  ")
		return errors.Trace(enc.Encode(installed))
	}
	if len(installed) == 0 {
		fmt.Fprintln(ctx.Stdout, "no plugins installed")
		return nil
	}
	for _, p := range installed {
		fmt.Fprintf(ctx.Stdout, "%s\t%s\n", p.Name, p.Version)
	}
	return nil
}

// pluginChangeCommand installs or uninstalls one plugin.
type pluginChangeCommand struct {
	localCommand

	action string
	name   string
	source string
}

// Info is part of the cmd.Command interface.
func (c *pluginChangeCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    c.action,
		Args:    "<plugin>",
		Purpose: fmt.Sprintf("%s a plugin on this unit.", capitalize(c.action)),
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *pluginChangeCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addLocalFlags(f)
	if c.action == "install" {
		f.StringVar(&c.source, "source", "", "install from this archive path or URL")
	}
}

// Init is part of the cmd.Command interface.
func (c *pluginChangeCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no plugin name specified")
	}
	c.name = args[0]
	return cmd.CheckEmpty(args[1:])
}

// Run is part of the cmd.Command interface.
func (c *pluginChangeCommand) Run(ctx *cmd.Context) error {
	caller := c.client()
	body := params.PluginRequest{Name: c.name, Source: c.source}
	var resp params.TaskResponse
	if err := caller.Post(ctx, "", "/unit_api/plugins/"+c.action, nil, body, &resp); err != nil {
		return errors.Trace(err)
	}
	done, err := waitLocalTask(ctx, caller, resp)
	if err != nil {
		return errors.Trace(err)
	}
	if done.Status == "failed" {
		fmt.Fprintf(ctx.Stderr, "%s failed: %s\n", c.action, done.Error)
		return cmd.ErrSilent
	}
	fmt.Fprintf(ctx.Stdout, "%s %sed\n", c.name, c.action)
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
