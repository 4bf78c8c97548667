package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCaddyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caddy",
		Short: "control the local reverse-proxy daemon directly",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "start the reverse-proxy daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp()
				if err != nil {
					return err
				}
				defer a.close()
				return a.proxy.Start(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "stop the reverse-proxy daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp()
				if err != nil {
					return err
				}
				defer a.close()
				return a.proxy.Stop()
			},
		},
		&cobra.Command{
			Use:   "restart",
			Short: "stop and start the reverse-proxy daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp()
				if err != nil {
					return err
				}
				defer a.close()
				if err := a.proxy.Stop(); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "stop: %v\n", err)
				}
				return a.proxy.Start(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "reconcile and re-render the reverse-proxy config from the current registry",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp()
				if err != nil {
					return err
				}
				defer a.close()
				result, err := a.reconcile(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cmd, result)
			},
		},
	)
	return cmd
}
