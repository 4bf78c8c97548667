package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kfsoftware/asd/internal/config"
	"github.com/kfsoftware/asd/internal/registry"
)

func newExposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expose <port>",
		Short: "declare a local port as a service and reconcile it immediately",
	}
	var (
		name      string
		localOnly bool
		direct    bool
	)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("expose requires exactly one port argument")
		}
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		id := name
		if id == "" {
			id = args[0]
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		cfg, _, err := a.loadConfig()
		if err != nil {
			return err
		}
		if cfg.Network.Services == nil {
			cfg.Network.Services = map[string]config.ServiceDecl{}
		}
		cfg.Network.Services[id] = config.ServiceDecl{
			Dial:      fmt.Sprintf("127.0.0.1:%d", port),
			Public:    !localOnly,
			Direct:    direct,
			Subdomain: id,
		}

		ws, err := a.paths.ProjectWorkspace()
		if err != nil {
			return err
		}
		configPath := projectRootConfigPath(ws)
		if err := config.NewLoader(configPath).Save(cfg); err != nil {
			return err
		}
		a.cfg = nil // force a reload so the reconcile below sees the new declaration

		result, err := a.reconcile(cmd.Context())
		if err != nil {
			return err
		}
		result.Entries = filterEntries(result.Entries, []string{id})
		if direct {
			fmt.Fprintln(cmd.OutOrStdout(), "--direct: reverse-proxy routing skipped, service reachable only via its tunnel URL")
		}
		return printResult(cmd, result)
	}
	cmd.Flags().StringVar(&name, "name", "", "registry id for this service (defaults to the port)")
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "do not open a public tunnel session for this service")
	cmd.Flags().BoolVar(&direct, "direct", false, "skip reverse-proxy routing; only the tunnel URL is reachable")

	cmd.AddCommand(newExposeListCmd(), newExposeStopCmd())
	return cmd
}

func newExposeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every exposed (public) registry entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			entries, err := a.registry.List(func(e registry.Entry) bool { return e.Public })
			if err != nil {
				return err
			}
			if jsonFlag(cmd) {
				return printJSON(cmd, entries)
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  dial=%s  tunnel=%s\n", e.ID, e.Dial, e.TunnelURL)
			}
			return nil
		},
	}
}

func newExposeStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name|port>",
		Short: "stop an exposed service's tunnel session and remove its registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return removeByID(cmd, a, args[0])
		},
	}
}
