// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package commands implements the pios cluster CLI. Every subcommand
// talks to the leader API; the file distribution commands additionally
// shell out to rsync for the actual copies.
package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/pioreactor/pioreactor/apiserver/params"
	"github.com/pioreactor/pioreactor/core/cluster"
)

var logger = loggo.GetLogger("pioreactor.cmd.pios")

// unitsValue accumulates repeated or comma-separated --units flags.
type unitsValue []string

// Set is part of the gnuflag.Value interface.
func (v *unitsValue) Set(s string) error {
	for _, unit := range strings.Split(s, ",") {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		if !cluster.IsValidUnitName(unit) {
			return errors.NotValidf("unit name %q", unit)
		}
		*v = append(*v, unit)
	}
	return nil
}

// String is part of the gnuflag.Value interface.
func (v *unitsValue) String() string {
	return strings.Join(*v, ",")
}

// clusterCommand carries the flags shared by every pios subcommand.
type clusterCommand struct {
	cmd.CommandBase

	leaderURL string
	units     unitsValue
	jsonOut   bool
	assumeYes bool
}

func (c *clusterCommand) addClusterFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.leaderURL, "leader", "http://localhost", "base URL of the leader API")
	f.Var(&c.units, "units", "restrict to these units (repeatable or comma-separated)")
	f.BoolVar(&c.jsonOut, "json", false, "print machine-readable output")
	f.BoolVar(&c.assumeYes, "y", false, "answer yes to confirmation prompts")
	f.BoolVar(&c.assumeYes, "yes", false, "")
}

func (c *clusterCommand) client() *apiClient {
	return newAPIClient(c.leaderURL)
}

// targetSegment returns the unit path segment for leader fan-out URLs:
// the single named unit, or the broadcast wildcard when --units names
// none or several. Several units are narrowed by the caller afterwards.
func (c *clusterCommand) targetSegment() string {
	if len(c.units) == 1 {
		return c.units[0]
	}
	return cluster.UniversalIdentifier
}

// targetUnits resolves --units, defaulting to every active worker.
func (c *clusterCommand) targetUnits(ctx *cmd.Context) ([]string, error) {
	if len(c.units) > 0 {
		return c.units, nil
	}
	workers, err := c.client().workers(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "listing workers")
	}
	var units []string
	for _, w := range workers {
		if w.IsActive {
			units = append(units, w.Unit)
		}
	}
	sort.Strings(units)
	if len(units) == 0 {
		return nil, errors.NotFoundf("active workers")
	}
	logger.Debugf("targeting %d active workers", len(units))
	return units, nil
}

// describeTargets names the units a fan-out will reach, for prompts.
func (c *clusterCommand) describeTargets() string {
	if len(c.units) == 0 {
		return "all active workers"
	}
	return strings.Join(c.units, ", ")
}

// confirm prompts on stdin unless -y was given. A declined prompt
// aborts with exit status 1 and no further output.
func (c *clusterCommand) confirm(ctx *cmd.Context, prompt string) error {
	if c.assumeYes {
		return nil
	}
	fmt.Fprintf(ctx.Stdout, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(ctx.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return cmd.ErrSilent
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	}
	return cmd.ErrSilent
}

// fanoutTask submits one leader fan-out request. A single (or absent)
// --units goes through the leader's own targeting; several explicit
// units become one request each, and any failure makes the whole
// command exit 1.
func (c *clusterCommand) fanoutTask(ctx *cmd.Context, client *apiClient, method string, pathFor func(unit string) string, body interface{}) error {
	if len(c.units) <= 1 {
		var resp params.TaskResponse
		if err := client.call(ctx, method, pathFor(c.targetSegment()), body, &resp); err != nil {
			return errors.Trace(err)
		}
		return c.reportTask(ctx, client, resp)
	}
	failed := false
	for _, unit := range c.units {
		var resp params.TaskResponse
		if err := client.call(ctx, method, pathFor(unit), body, &resp); err != nil {
			fmt.Fprintf(ctx.Stderr, "%s: %v\n", unit, err)
			failed = true
			continue
		}
		if err := c.reportTask(ctx, client, resp); err != nil {
			failed = true
		}
	}
	if failed {
		return cmd.ErrSilent
	}
	return nil
}

// reportTask waits for a fan-out task and prints the per-unit outcome.
// Any unit that failed or never answered makes the command exit 1.
func (c *clusterCommand) reportTask(ctx *cmd.Context, client *apiClient, resp params.TaskResponse) error {
	if resp.Status == "complete" || resp.Status == "failed" {
		return c.printTask(ctx, resp)
	}
	done, err := client.waitTask(ctx, resp)
	if err != nil {
		return errors.Trace(err)
	}
	return c.printTask(ctx, done)
}

func (c *clusterCommand) printTask(ctx *cmd.Context, task params.TaskResponse) error {
	if c.jsonOut {
		enc := json.NewEncoder(ctx.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(task); err != nil {
			return errors.Trace(err)
		}
		if task.Status == "failed" {
			return cmd.ErrSilent
		}
		return nil
	}
	if task.Status == "failed" {
		fmt.Fprintf(ctx.Stderr, "task %s failed: %s\n", task.TaskID, task.Error)
		return cmd.ErrSilent
	}

	perUnit, ok := decodeMulticast(task.Result)
	if !ok {
		fmt.Fprintf(ctx.Stdout, "task %s complete\n", task.TaskID)
		return nil
	}
	units := make([]string, 0, len(perUnit))
	for unit := range perUnit {
		units = append(units, unit)
	}
	sort.Strings(units)
	failed := 0
	for _, unit := range units {
		if perUnit[unit] == nil {
			fmt.Fprintf(ctx.Stdout, "%s: no response\n", unit)
			failed++
			continue
		}
		fmt.Fprintf(ctx.Stdout, "%s: ok\n", unit)
	}
	if failed > 0 {
		return cmd.ErrSilent
	}
	return nil
}

// decodeMulticast recovers the per-unit map from a task result that
// went through JSON as interface{}.
func decodeMulticast(result interface{}) (params.MulticastResult, bool) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, false
	}
	var perUnit params.MulticastResult
	if err := json.Unmarshal(raw, &perUnit); err != nil || perUnit == nil {
		return nil, false
	}
	return perUnit, true
}
