package cmd

import (
	"github.com/spf13/cobra"
)

const asdDesc = `
asd exposes local networked services behind NATs and firewalls to the
public internet over a supervised SSH reverse tunnel, and multiplexes
incoming traffic through a locally-managed reverse proxy onto the
correct local service. It maintains a durable registry of declared and
discovered services and reconciles it against the tunnel and proxy on
every apply.
Detailed help for each command is available with 'asd help <command>'.
`

// NewRootCmd builds the asd command tree (spec §6 "CLI surface").
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "asd",
		Short:         "ship your local services",
		Long:          asdDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().Bool("json", false, "emit machine-readable JSON instead of plain text")

	root.AddCommand(
		newInitCmd(),
		newEnvInitCmd(),
		newRunCmd(),
		newUpdateCmd(),
		newExposeCmd(),
		newNetCmd(),
		newTerminalCmd(),
		newCodeCmd(),
		newDatabaseCmd(),
		newInspectCmd(),
		newCaddyCmd(),
		newAuthCmd(),
	)
	return root
}
