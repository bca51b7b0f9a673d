// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"fmt"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/pioreactor/pioreactor/core/cluster"
)

const killDoc = `
Stop job processes on the targeted workers. At least one filter is
required: --all-jobs stops everything running under the experiment,
--name stops one job by name.
`

// killCommand stops jobs across the cluster.
type killCommand struct {
	clusterCommand

	name       string
	experiment string
	allJobs    bool
}

func newKillCommand() cmd.Command {
	return &killCommand{}
}

// Info is part of the cmd.Command interface.
func (c *killCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "kill",
		Purpose: "Stop jobs on the targeted workers.",
		Doc:     killDoc,
		Examples: `
    pios kill --all-jobs -y
    pios kill --name stirring --units worker1
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *killCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addClusterFlags(f)
	f.StringVar(&c.name, "name", "", "stop jobs with this name")
	f.StringVar(&c.experiment, "experiment", cluster.UniversalExperiment, "restrict to this experiment")
	f.BoolVar(&c.allJobs, "all-jobs", false, "stop every job under the experiment")
}

// Init is part of the cmd.Command interface.
func (c *killCommand) Init(args []string) error {
	if err := cmd.CheckEmpty(args); err != nil {
		return err
	}
	if c.name == "" && !c.allJobs {
		return errors.New("nothing to kill: give --name or --all-jobs")
	}
	return nil
}

// Run is part of the cmd.Command interface.
func (c *killCommand) Run(ctx *cmd.Context) error {
	what := "all jobs"
	if c.name != "" {
		what = fmt.Sprintf("job %q", c.name)
	}
	if err := c.confirm(ctx, fmt.Sprintf("Stop %s?", what)); err != nil {
		return err
	}
	client := c.client()
	pathFor := func(unit string) string {
		if c.name != "" {
			return fmt.Sprintf("/api/workers/%s/jobs/stop/job_name/%s/experiments/%s", unit, c.name, c.experiment)
		}
		return fmt.Sprintf("/api/workers/%s/jobs/stop/experiments/%s", unit, c.experiment)
	}
	return c.fanoutTask(ctx, client, "POST", pathFor, nil)
}
