// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package commands

import (
	"github.com/juju/cmd/v4"

	pioversion "github.com/pioreactor/pioreactor/core/version"
)

const piosDoc = `
pios administers a Pioreactor cluster from the leader: starting and
stopping jobs across workers, distributing configuration and files,
and updating or power-cycling units.

Commands that touch more than one unit ask for confirmation; pass -y
to skip the prompt. Restrict any command with --units.
`

// NewSuperCommand returns the pios command tree.
func NewSuperCommand() *cmd.SuperCommand {
	sup := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "pios",
		Doc:     piosDoc,
		Purpose: "Administer the Pioreactor cluster.",
		Version: pioversion.App,
		Log:     &cmd.Log{},
	})
	sup.Register(newRunCommand())
	sup.Register(newKillCommand())
	sup.Register(newUpdateCommand())
	sup.Register(newPluginsCommand())
	sup.Register(newSyncConfigsCommand())
	sup.Register(newCpCommand())
	sup.Register(newRmCommand())
	sup.Register(newRebootCommand())
	sup.Register(newShutdownCommand())
	return sup
}
