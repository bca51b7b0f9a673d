// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"fmt"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/pioreactor/pioreactor/internal/plugins"
)

// Updater scripts shipped with the OS image. The update system task
// execs this command, so it must do the work itself rather than call
// back into the unit API.
const (
	appUpdaterPath = "/usr/local/bin/update_app.sh"
	uiUpdaterPath  = "/usr/local/bin/update_ui.sh"
)

const updateDoc = `
Update this unit's software by running the platform updater. The
target is "app" or "ui"; without one the app is updated. Exactly one
of -b, -v or -s may be given to pick a branch, a released version or
a local archive.
`

// updateCommand updates this unit's software.
type updateCommand struct {
	cmd.CommandBase

	target  string
	branch  string
	version string
	source  string
	repo    string

	run plugins.CommandRunner
}

func newUpdateCommand() cmd.Command {
	return &updateCommand{}
}

// Info is part of the cmd.Command interface.
func (c *updateCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "update",
		Args:    "[app|ui]",
		Purpose: "Update this unit's software.",
		Doc:     updateDoc,
		Examples: `
    pio update app
    pio update app -b develop
    pio update ui -v 25.8.1
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *updateCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.branch, "b", "", "install from this git branch")
	f.StringVar(&c.branch, "branch", "", "")
	f.StringVar(&c.version, "v", "", "install this released version")
	f.StringVar(&c.version, "version", "", "")
	f.StringVar(&c.source, "s", "", "install from this archive path or URL")
	f.StringVar(&c.source, "source", "", "")
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
		return errors.New("-b, -v and -s are mutually exclusive")
	}
	c.target = target
	return nil
}

// Run is part of the cmd.Command interface.
func (c *updateCommand) Run(ctx *cmd.Context) error {
	if c.run == nil {
		c.run = plugins.ArgvRunner()
	}
	updater := appUpdaterPath
	if c.target == "ui" {
		updater = uiUpdaterPath
	}
	args := []string{"sudo", "bash", updater}
	if c.branch != "" {
		args = append(args, "-b", c.branch)
	}
	if c.version != "" {
		args = append(args, "-v", c.version)
	}
	if c.source != "" {
		args = append(args, "-s", c.source)
	}
	if c.repo != "" {
		args = append(args, "-r", c.repo)
	}
	out, err := c.run(ctx, args...)
	if len(out) > 0 {
		fmt.Fprintf(ctx.Stdout, "%s\n", out)
	}
	if err != nil {
		return errors.Annotatef(err, "updating %s", c.target)
	}
	fmt.Fprintf(ctx.Stdout, "%s updated\n", c.target)
	return nil
}
