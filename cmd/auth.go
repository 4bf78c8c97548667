package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kfsoftware/asd/internal/credentials"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "inspect and manage tunnel credentials",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "show the default tunnel credential",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp()
				if err != nil {
					return err
				}
				defer a.close()
				cred, ok, err := a.credentials.Default()
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no credential configured")
					return nil
				}
				if jsonFlag(cmd) {
					return printJSON(cmd, cred)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) clientId=%s host=%s:%d\n", cred.Name, cred.Kind, cred.ClientID, cred.Host, cred.Port)
				return nil
			},
		},
		&cobra.Command{
			Use:   "credentials",
			Short: "list every stored tunnel credential",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp()
				if err != nil {
					return err
				}
				defer a.close()
				creds, err := a.credentials.List()
				if err != nil {
					return err
				}
				if jsonFlag(cmd) {
					return printJSON(cmd, creds)
				}
				for _, c := range creds {
					mark := " "
					if c.Default {
						mark = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) clientId=%s\n", mark, c.Name, c.Kind, c.ClientID)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "switch <name>",
			Short: "mark a stored credential as the default",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp()
				if err != nil {
					return err
				}
				defer a.close()
				return a.credentials.SetDefault(args[0])
			},
		},
	)
	cmd.AddCommand(newAuthGenerateCmd())
	return cmd
}

func newAuthGenerateCmd() *cobra.Command {
	var setDefault bool
	cmd := &cobra.Command{
		Use:   "generate <name>",
		Short: "bootstrap a new ephemeral credential from the credential-bootstrap endpoint and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			cred, err := credentials.GenerateEphemeral(nil, bootstrapEndpoint(), args[0])
			if err != nil {
				return err
			}
			if err := a.credentials.Append(cred); err != nil {
				return err
			}
			if setDefault {
				if err := a.credentials.SetDefault(cred.Name); err != nil {
					return err
				}
			}
			if jsonFlag(cmd) {
				return printJSON(cmd, cred)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated ephemeral credential %s clientId=%s host=%s:%d\n", cred.Name, cred.ClientID, cred.Host, cred.Port)
			return nil
		},
	}
	cmd.Flags().BoolVar(&setDefault, "default", false, "mark the generated credential as the default")
	return cmd
}

// bootstrapEndpoint resolves the credential-bootstrap URL, letting a
// project point at its own gateway via ASD_CREDENTIAL_BOOTSTRAP_URL
// instead of the built-in default.
func bootstrapEndpoint() string {
	return envOr("ASD_CREDENTIAL_BOOTSTRAP_URL", credentials.DefaultBootstrapEndpoint)
}
