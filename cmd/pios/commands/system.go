// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"fmt"

	"github.com/juju/cmd/v4"
	"github.com/juju/gnuflag"
)

// systemCommand reboots or shuts down the targeted workers.
type systemCommand struct {
	clusterCommand

	action string
}

func newRebootCommand() cmd.Command {
	return &systemCommand{action: "reboot"}
}

func newShutdownCommand() cmd.Command {
	return &systemCommand{action: "shutdown"}
}

// Info is part of the cmd.Command interface.
func (c *systemCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    c.action,
		Purpose: fmt.Sprintf("%s the targeted workers.", capitalize(c.action)),
		Doc: fmt.Sprintf(`
Ask the targeted workers to %s. Each worker acknowledges the request
and then hands the machine to the operating system.
`, c.action),
		Examples: fmt.Sprintf(`
    pios %s --units worker1 -y
`, c.action),
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *systemCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addClusterFlags(f)
}

// Init is part of the cmd.Command interface.
func (c *systemCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *systemCommand) Run(ctx *cmd.Context) error {
	if err := c.confirm(ctx, fmt.Sprintf("%s %s?", capitalize(c.action), c.describeTargets())); err != nil {
		return err
	}
	client := c.client()
	return c.fanoutTask(ctx, client, "POST", func(unit string) string {
		return fmt.Sprintf("/api/workers/%s/system/%s", unit, c.action)
	}, nil)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
