package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kfsoftware/asd/internal/localadmin"
	"github.com/kfsoftware/asd/internal/ptyrun"
)

// newHelperServiceCmd builds the start|stop pair shared by the four
// built-in helper services (terminal, code, database, inspect). ASD
// supervises and health-checks these helper binaries but does not ship
// them (spec §1 non-goals: "the helper binaries themselves"); each one is
// just a registry entry with a well-known id, so start/stop reduce to the
// same reconcile-scoped-to-one-id and remove-by-id the `net` group already
// implements.
func newHelperServiceCmd(id, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   id,
		Short: short,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: fmt.Sprintf("start the %s helper service, if declared in the project config", id),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			cfg, _, err := a.loadConfig()
			if err != nil {
				return err
			}
			if _, declared := cfg.Network.Services[id]; !declared {
				return fmt.Errorf("no %q service declared in network.services; add one to enable `%s start`", id, id)
			}
			result, err := a.reconcile(cmd.Context())
			if err != nil {
				return err
			}
			result.Entries = filterEntries(result.Entries, []string{id})
			return printResult(cmd, result)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: fmt.Sprintf("stop the %s helper service", id),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return removeByID(cmd, a, id)
		},
	})
	return cmd
}

func newTerminalCmd() *cobra.Command {
	cmd := newHelperServiceCmd("terminal", "web terminal helper")
	cmd.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "attach an interactive shell to this terminal over a pty, bypassing the web terminal helper",
		RunE: func(cmd *cobra.Command, args []string) error {
			shell := os.Getenv("SHELL")
			if shell == "" {
				shell = "/bin/sh"
			}
			return ptyrun.Attach(shell, nil, os.Environ(), "", cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})
	return cmd
}
func newCodeCmd() *cobra.Command     { return newHelperServiceCmd("code", "browser IDE helper") }
func newDatabaseCmd() *cobra.Command { return newHelperServiceCmd("database", "database GUI helper") }

func newInspectCmd() *cobra.Command {
	cmd := newHelperServiceCmd("inspect", "traffic inspector helper")
	cmd.AddCommand(&cobra.Command{
		Use:   "tap",
		Short: "stream live tunnel session snapshots from the local admin status surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			network, addr, err := a.statusNetwork()
			if err != nil {
				return err
			}
			return localadmin.DialTap(cmd.Context(), network, addr, func(snapshot map[string]interface{}) {
				if jsonFlag(cmd) {
					jsonEncode(cmd, snapshot)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%v\n", snapshot["sessions"])
			})
		},
	})
	return cmd
}
