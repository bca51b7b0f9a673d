// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/pioreactor/pioreactor/apiserver/params"
	clusterconfigservice "github.com/pioreactor/pioreactor/domain/clusterconfig/service"
	"github.com/pioreactor/pioreactor/internal/plugins"
	"github.com/pioreactor/pioreactor/internal/unitclient"
)

const (
	remoteDataDir  = "/home/pioreactor/.pioreactor"
	remoteUser     = "pioreactor"
	sharedDestName = "config.ini"
	unitDestName   = "unit_config.ini"
)

const syncConfigsDoc = `
Push the stored configuration files to the workers. The shared
config.ini lands on every unit; each unit's config_<unit>.ini lands on
that unit only. The leader queues this command after every accepted
config edit, and it can be run by hand after replacing a unit.
`

// syncConfigsCommand pushes stored configs to the workers over rsync.
type syncConfigsCommand struct {
	clusterCommand

	shared   bool
	specific bool

	run plugins.CommandRunner
}

func newSyncConfigsCommand() cmd.Command {
	return &syncConfigsCommand{}
}

// Info is part of the cmd.Command interface.
func (c *syncConfigsCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "sync-configs",
		Purpose: "Push stored configuration to the workers.",
		Doc:     syncConfigsDoc,
		Examples: `
    pios sync-configs --shared
    pios sync-configs --specific --units worker1
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *syncConfigsCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addClusterFlags(f)
	f.BoolVar(&c.shared, "shared", false, "push only the shared config.ini")
	f.BoolVar(&c.specific, "specific", false, "push only unit-specific configs")
}

// Init is part of the cmd.Command interface.
func (c *syncConfigsCommand) Init(args []string) error {
	if err := cmd.CheckEmpty(args); err != nil {
		return err
	}
	if !c.shared && !c.specific {
		c.shared, c.specific = true, true
	}
	return nil
}

// Run is part of the cmd.Command interface.
func (c *syncConfigsCommand) Run(ctx *cmd.Context) error {
	if c.run == nil {
		c.run = plugins.ArgvRunner()
	}
	units, err := c.targetUnits(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	client := c.client()

	failed := false
	push := func(unit, filename, destName string) {
		file, err := client.configFile(ctx, filename)
		if isStatus(err, 404) {
			// Not every unit has a specific config.
			return
		}
		if err != nil {
			fmt.Fprintf(ctx.Stderr, "%s: fetching %s: %v\n", unit, filename, err)
			failed = true
			return
		}
		if err := c.rsyncContent(ctx, unit, destName, file.Content); err != nil {
			fmt.Fprintf(ctx.Stderr, "%s: %v\n", unit, err)
			failed = true
			return
		}
		fmt.Fprintf(ctx.Stdout, "%s: %s synced\n", unit, destName)
	}

	for _, unit := range units {
		if c.shared {
			push(unit, clusterconfigservice.SharedConfigFilename, sharedDestName)
		}
		if c.specific {
			push(unit, fmt.Sprintf("config_%s.ini", unit), unitDestName)
		}
	}
	if failed {
		return cmd.ErrSilent
	}
	return nil
}

// rsyncContent writes content to a temp file and rsyncs it onto the
// unit's data directory.
func (c *syncConfigsCommand) rsyncContent(ctx *cmd.Context, unit, destName, content string) error {
	tmp, err := os.CreateTemp("", "pios-sync-*.ini")
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return errors.Trace(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Trace(err)
	}
	dest := fmt.Sprintf("%s@%s.local:%s/%s", remoteUser, unit, remoteDataDir, destName)
	out, err := c.run(ctx, "rsync", "-z", "--checksum", "--inplace", tmp.Name(), dest)
	if err != nil {
		return errors.Annotatef(err, "rsync to %s: %s", unit, firstLine(out))
	}
	return nil
}

// cpCommand copies a local file to the same path on the workers.
type cpCommand struct {
	clusterCommand

	path string
	run  plugins.CommandRunner
}

func newCpCommand() cmd.Command {
	return &cpCommand{}
}

// Info is part of the cmd.Command interface.
func (c *cpCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "cp",
		Args:    "<filepath>",
		Purpose: "Copy a local file to the same path on the targeted workers.",
		Examples: `
    pios cp /home/pioreactor/.pioreactor/plugins/my_plugin.py -y
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *cpCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addClusterFlags(f)
}

// Init is part of the cmd.Command interface.
func (c *cpCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no file specified")
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return errors.Trace(err)
	}
	c.path = path
	return cmd.CheckEmpty(args[1:])
}

// Run is part of the cmd.Command interface.
func (c *cpCommand) Run(ctx *cmd.Context) error {
	if c.run == nil {
		c.run = plugins.ArgvRunner()
	}
	if _, err := os.Stat(c.path); err != nil {
		return errors.Annotate(err, "source file")
	}
	if err := c.confirm(ctx, fmt.Sprintf("Copy %s to %s?", c.path, c.describeTargets())); err != nil {
		return err
	}
	units, err := c.targetUnits(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	failed := false
	for _, unit := range units {
		dest := fmt.Sprintf("%s@%s.local:%s", remoteUser, unit, c.path)
		out, err := c.run(ctx, "rsync", "-z", "--checksum", c.path, dest)
		if err != nil {
			fmt.Fprintf(ctx.Stderr, "%s: rsync: %v: %s\n", unit, err, firstLine(out))
			failed = true
			continue
		}
		fmt.Fprintf(ctx.Stdout, "%s: copied\n", unit)
	}
	if failed {
		return cmd.ErrSilent
	}
	return nil
}

// rmCommand deletes a file under the data directory on the workers.
type rmCommand struct {
	clusterCommand

	path   string
	caller *unitclient.Client
}

func newRmCommand() cmd.Command {
	return &rmCommand{}
}

// Info is part of the cmd.Command interface.
func (c *rmCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "rm",
		Args:    "<filepath>",
		Purpose: "Delete a file under the data directory on the targeted workers.",
		Doc: `
Each worker deletes the named file itself, and refuses paths that
escape its data directory.
`,
		Examples: `
    pios rm plugins/my_plugin.py --units worker1 -y
`,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *rmCommand) SetFlags(f *gnuflag.FlagSet) {
	c.addClusterFlags(f)
}

// Init is part of the cmd.Command interface.
func (c *rmCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no file specified")
	}
	c.path = args[0]
	return cmd.CheckEmpty(args[1:])
}

// Run is part of the cmd.Command interface.
func (c *rmCommand) Run(ctx *cmd.Context) error {
	if c.caller == nil {
		c.caller = unitclient.New(unitclient.MDNSResolver(80), nil, 0)
	}
	if err := c.confirm(ctx, fmt.Sprintf("Delete %s on %s?", c.path, c.describeTargets())); err != nil {
		return err
	}
	units, err := c.targetUnits(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	body := params.RemoveFileRequest{Path: c.path}
	failed := false
	for _, unit := range units {
		if err := c.caller.Post(ctx, unit, "/unit_api/system/remove_file", nil, body, nil); err != nil {
			fmt.Fprintf(ctx.Stderr, "%s: %v\n", unit, err)
			failed = true
			continue
		}
		fmt.Fprintf(ctx.Stdout, "%s: deleted\n", unit)
	}
	if failed {
		return cmd.ErrSilent
	}
	return nil
}

// isStatus reports whether err is a leader API error with this status.
func isStatus(err error, status int) bool {
	var apiErr *params.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Info != nil && apiErr.Info.Status == status
}

func firstLine(out []byte) string {
	for i, b := range out {
		if b == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}
