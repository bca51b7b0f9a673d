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
)

// runningCommand lists the jobs running on this unit.
type runningCommand struct {
	localCommand
}

func newRunningCommand() cmd.Command {
	return &runningCommand{}
}

// Info is part of the cmd.Command interface.
func (c *runningCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "running",
		Purpose: "List the jobs running on this unit.",
		Examples: `
    pio running
    pio running --json
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *runningCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addLocalFlags(f)
}

// Init is part of the cmd.Command interface.
func (c *runningCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *runningCommand) Run(ctx *cmd.Context) error {
	var jobs []params.Job
	if err := c.client().Get(ctx, "", "/unit_api/jobs/running", nil, &jobs); err != nil {
		return errors.Trace(err)
	}
	if c.jsonOut {
		enc := json.NewEncoder(ctx.Stdout)
		enc.SetIndent("", "  ")
		return errors.Trace(enc.Encode(jobs))
	}
	if len(jobs) == 0 {
		fmt.Fprintln(ctx.Stdout, "no jobs running")
		return nil
	}
	for _, job := range jobs {
		fmt.Fprintf(ctx.Stdout, "%s\t%s\tpid %d\t%s\n", job.Name, job.Experiment, job.PID, job.State)
	}
	return nil
}

// blinkCommand asks the monitor to flash the onboard LED.
type blinkCommand struct {
	localCommand
}

func newBlinkCommand() cmd.Command {
	return &blinkCommand{}
}

// Info is part of the cmd.Command interface.
func (c *blinkCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "blink",
		Purpose: "Flash this unit's LED to identify it.",
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *blinkCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addLocalFlags(f)
}

// Init is part of the cmd.Command interface.
func (c *blinkCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *blinkCommand) Run(ctx *cmd.Context) error {
	if err := c.client().Post(ctx, "", "/unit_api/blink", nil, nil, nil); err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintln(ctx.Stdout, "blinking")
	return nil
}
