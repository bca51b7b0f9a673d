// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/pioreactor/pioreactor/core/cluster"
	"github.com/pioreactor/pioreactor/internal/bus"
)

const runDoc = `
Run a job in the foreground until it is told to stop. The job manager
spawns this command for every job it starts, passing the experiment in
the EXPERIMENT environment variable; it can also be run by hand for
debugging.

The job announces its lifecycle state on the control bus and obeys
$state/set commands published against it. Without a bus URL it still
runs, controlled only by signals.
`

// runCommand is the job process: it announces itself on the bus and
// holds until disconnected.
type runCommand struct {
	cmd.CommandBase

	job        string
	experiment string
	unit       string
	busURL     string

	hub bus.Hub
}

func newRunCommand() cmd.Command {
	return &runCommand{}
}

// Info is part of the cmd.Command interface.
func (c *runCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "run",
		Args:    "<job> [options]",
		Purpose: "Run a job on this unit in the foreground.",
		Doc:     runDoc,
		Examples: `
    pio run stirring
    EXPERIMENT=exp1 pio run od_reading
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
	f.StringVar(&c.experiment, "experiment", "", "experiment to run under (default: $EXPERIMENT)")
	f.StringVar(&c.unit, "unit", "", "this unit's name (default: hostname)")
	f.StringVar(&c.busURL, "bus", os.Getenv("PIO_BUS"), "NATS broker URL")
}

// Init is part of the cmd.Command interface. Job options after the
// name are accepted for the job's own use and otherwise ignored here.
func (c *runCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no job name specified")
	}
	c.job = args[0]
	return nil
}

// Run is part of the cmd.Command interface.
func (c *runCommand) Run(ctx *cmd.Context) error {
	if c.experiment == "" {
		c.experiment = os.Getenv("EXPERIMENT")
	}
	if c.experiment == "" {
		c.experiment = cluster.UniversalExperiment
	}
	if c.unit == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return errors.Annotate(err, "resolving unit name")
		}
		c.unit = hostname
	}

	if c.hub == nil && c.busURL != "" {
		hub, err := bus.NewNATSHub(c.busURL, 0)
		if err != nil {
			return errors.Annotate(err, "connecting to bus")
		}
		defer func() { _ = hub.Close() }()
		c.hub = hub
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	if c.hub != nil {
		unsub, err := c.hub.Subscribe(bus.SetStateTopic(c.unit, c.experiment, c.job), func(_ string, payload []byte) {
			state, err := cluster.ParseCommandedJobState(string(payload))
			if err != nil || state != cluster.JobDisconnected {
				return
			}
			stopOnce.Do(func() { close(stop) })
		})
		if err != nil {
			return errors.Trace(err)
		}
		defer unsub()
		c.announce(ctx, cluster.JobReady)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	logger.Infof("%s running under %s", c.job, c.experiment)
	select {
	case <-stop:
	case sig := <-sigCh:
		logger.Infof("%s stopping on %s", c.job, sig)
	case <-ctx.Done():
	}

	if c.hub != nil {
		c.announce(ctx, cluster.JobDisconnected)
	}
	return nil
}

func (c *runCommand) announce(ctx *cmd.Context, state cluster.JobState) {
	topic := bus.StateTopic(c.unit, c.experiment, c.job)
	if err := c.hub.Publish(ctx, topic, []byte(state)); err != nil {
		logger.Debugf("announcing %s: %v", state, err)
	}
}
