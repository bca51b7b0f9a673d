// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"fmt"
	"strings"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/core/cluster"
)

const runDoc = `
Start a job on the targeted workers. The leader resolves the targets,
fills in each worker's assigned experiment and submits the request to
every unit in parallel.

Everything after the job name is passed to the job as --key value
pairs, so cluster flags like --units must come before it.
`

// runCommand starts a job across the cluster.
type runCommand struct {
	clusterCommand

	experiment string
	job        string
	extra      []string
}

func newRunCommand() cmd.Command {
	return &runCommand{}
}

// Info is part of the cmd.Command interface.
func (c *runCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "run",
		Args:    "<job> [options]",
		Purpose: "Start a job on the targeted workers.",
		Doc:     runDoc,
		Examples: `
    pios run stirring
    pios run --units worker1,worker2 od_reading
    pios run stirring --target-rpm 500
`,
	}
}

// AllowInterspersedFlags is part of the cmd.Command interface. Flag
// parsing stops at the job name so the job's own options pass through.
func (c *runCommand) AllowInterspersedFlags() bool {
	return false
}

// SetFlags is part of the cmd.Command interface.
func (c *runCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addClusterFlags(f)
	f.StringVar(&c.experiment, "experiment", cluster.UniversalExperiment, "experiment to run under")
}

// Init is part of the cmd.Command interface.
func (c *runCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no job name specified")
	}
	c.job, c.extra = args[0], args[1:]
	return nil
}

// Run is part of the cmd.Command interface.
func (c *runCommand) Run(ctx *cmd.Context) error {
	payload, err := parseJobOptions(c.extra)
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.confirm(ctx, fmt.Sprintf("Run %q on %s?", c.job, c.describeTargets())); err != nil {
		return err
	}
	client := c.client()
	return c.fanoutTask(ctx, client, "POST", func(unit string) string {
		return fmt.Sprintf("/api/workers/%s/jobs/run/job_name/%s/experiments/%s",
			unit, c.job, c.experiment)
	}, payload)
}

// parseJobOptions turns trailing "--key value" pairs into run options.
// A flag with no following value becomes a boolean option.
func parseJobOptions(args []string) (params.RunPayload, error) {
	payload := params.RunPayload{Options: map[string]interface{}{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			payload.Args = append(payload.Args, arg)
			continue
		}
		key, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		key = strings.ReplaceAll(key, "-", "_")
		if key == "" {
			return params.RunPayload{}, errors.NotValidf("option %q", arg)
		}
		if hasValue {
			payload.Options[key] = value
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			payload.Options[key] = args[i+1]
			i++
			continue
		}
		payload.Options[key] = true
	}
	if len(payload.Options) == 0 {
		payload.Options = nil
	}
	return payload, nil
}
