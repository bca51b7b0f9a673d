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

const updateDoc = `
Update the software on the targeted workers. The target is "app" or
"ui"; without one the workers update the app. Exactly one of --branch,
--version or --source may be given.
`

// updateCommand updates worker software across the cluster.
type updateCommand struct {
	clusterCommand

	target  string
	branch  string
	version string
	source  string
	repo    string
}

func newUpdateCommand() cmd.Command {
	return &updateCommand{}
}

// Info is part of the cmd.Command interface.
func (c *updateCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "update",
		Args:    "[app|ui]",
		Purpose: "Update software on the targeted workers.",
		Doc:     updateDoc,
		Examples: `
    pios update app -y
    pios update app --branch develop --units worker1
    pios update ui --version 25.8.1
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *updateCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addClusterFlags(f)
	f.StringVar(&c.branch, "b", "", "install from this git branch")
	f.StringVar(&c.branch, "branch", "", "")
	f.StringVar(&c.version, "v", "", "install this released version")
	f.StringVar(&c.version, "version", "", "")
	f.StringVar(&c.source, "source", "", "install from this archive path or URL")
	f.StringVar(&c.repo, "r", "", "install from this repository")
	f.StringVar(&c.repo, "repo", "", "")
}

// Init is part of the cmd.Command interface.
func (c *updateCommand) Init(args []string) error {
	target := "app"
	if len(args) > 0 {
		target, args = args[0], args[1:]
	}
	if err := cmd.CheckEmpty(args); err != nil {
		return err
	}
	if target != "app" && target != "ui" {
		return errors.NotValidf("update target %q", target)
	}
	set := 0
	for _, s := range []string{c.branch, c.version, c.source} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		return errors.New("--branch, --version and --source are mutually exclusive")
	}
	c.target = target
	return nil
}

// Run is part of the cmd.Command interface.
func (c *updateCommand) Run(ctx *cmd.Context) error {
	if err := c.confirm(ctx, fmt.Sprintf("Update %s on %s?", c.target, c.describeTargets())); err != nil {
		return err
	}
	body := params.UpdateRequest{
		Branch:  c.branch,
		Version: c.version,
		Source:  c.source,
		Repo:    c.repo,
	}
	client := c.client()
	return c.fanoutTask(ctx, client, "POST", func(unit string) string {
		return fmt.Sprintf("/api/workers/%s/system/update/%s", unit, c.target)
	}, body)
}
