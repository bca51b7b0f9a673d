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

// killCommand stops jobs on this unit through the local API.
type killCommand struct {
	localCommand

	name       string
	experiment string
	jobID      string
	allJobs    bool
}

func newKillCommand() cmd.Command {
	return &killCommand{}
}

// Info is part of the cmd.Command interface.
func (c *killCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "kill",
		Purpose: "Stop jobs on this unit.",
		Doc: `
Stop job processes on this unit. At least one filter is required:
--all-jobs stops everything, the other flags narrow by name, id or
experiment.
`,
		Examples: `
    pio kill --all-jobs
    pio kill --name stirring
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *killCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addLocalFlags(f)
	f.StringVar(&c.name, "name", "", "stop jobs with this name")
	f.StringVar(&c.experiment, "experiment", "", "stop jobs under this experiment")
	f.StringVar(&c.jobID, "job-id", "", "stop the job with this id")
	f.BoolVar(&c.allJobs, "all-jobs", false, "stop every job")
}

// Init is part of the cmd.Command interface.
func (c *killCommand) Init(args []string) error {
	if err := cmd.CheckEmpty(args); err != nil {
		return err
	}
	if !c.allJobs && c.name == "" && c.experiment == "" && c.jobID == "" {
		return errors.New("nothing to kill: give a filter or --all-jobs")
	}
	return nil
}

// Run is part of the cmd.Command interface.
func (c *killCommand) Run(ctx *cmd.Context) error {
	caller := c.client()
	var resp params.TaskResponse
	if c.allJobs {
		if err := caller.Post(ctx, "", "/unit_api/jobs/stop/all", nil, nil, &resp); err != nil {
			return errors.Trace(err)
		}
	} else {
		body := params.StopPayload{
			JobName:    c.name,
			Experiment: c.experiment,
			JobID:      c.jobID,
		}
		if err := caller.Post(ctx, "", "/unit_api/jobs/stop", nil, body, &resp); err != nil {
			return errors.Trace(err)
		}
	}
	done, err := waitLocalTask(ctx, caller, resp)
	if err != nil {
		return errors.Trace(err)
	}
	if done.Status == "failed" {
		fmt.Fprintf(ctx.Stderr, "stop failed: %s\n", done.Error)
		return cmd.ErrSilent
	}
	fmt.Fprintln(ctx.Stdout, "stopped")
	return nil
}
