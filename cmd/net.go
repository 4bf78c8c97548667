package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kfsoftware/asd/internal/asderrors"
	"github.com/kfsoftware/asd/internal/localadmin"
	"github.com/kfsoftware/asd/internal/readiness"
	"github.com/kfsoftware/asd/internal/reconciler"
	"github.com/kfsoftware/asd/internal/registry"
	"github.com/kfsoftware/asd/internal/tunnelmgr"
	"github.com/kfsoftware/asd/internal/watch"
	"github.com/kfsoftware/asd/internal/wire"
)

func newNetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "net",
		Short: "manage the declared service network: registry, tunnels, reverse proxy",
	}
	cmd.AddCommand(
		newNetApplyCmd(),
		newNetRefreshCmd(),
		newNetDiscoverCmd(),
		newNetStartCmd(),
		newNetStopCmd(),
		newNetOpenCmd(),
		newNetRemoveCmd(),
		newNetCleanCmd(),
		newNetResetCmd(),
		newNetTunnelCmd(),
		newNetStatusCmd(),
	)
	return cmd
}

func newNetStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "run or query the local admin status surface",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the loopback status surface (sessions, healthz, tap) and the multiplexed admin control-plane until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			fmt.Fprintln(cmd.OutOrStdout(), "serving local admin status surface, ctrl-c to stop")
			errCh := make(chan error, 2)
			go func() { errCh <- a.serveStatus(cmd.Context()) }()
			go func() { errCh <- a.serveAdmin(cmd.Context()) }()
			if err := <-errCh; err != nil {
				return err
			}
			return <-errCh
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "query <sessionId>",
		Short: "ask a running `net status serve` companion for one session's state over the admin control-plane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			network, addr, err := a.adminNetwork()
			if err != nil {
				return err
			}
			client, err := localadmin.Dial(network, addr)
			if err != nil {
				return fmt.Errorf("dial admin control-plane (is `net status serve` running?): %w", err)
			}
			defer client.Close()

			var reply wire.StatusReply
			if err := client.Call(wire.KindStatusQuery, wire.StatusQuery{SessionID: args[0]}, &reply); err != nil {
				return err
			}
			if jsonFlag(cmd) {
				return printJSON(cmd, reply)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  state=%s  publicUrl=%s\n", reply.SessionID, reply.State, reply.PublicURL)
			return nil
		},
	})
	return cmd
}

func newNetApplyCmd() *cobra.Command {
	var ids []string
	var caddy, tunnel bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "reconcile declared services into the registry, tunnels, and reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			a.skipProxy = !caddy
			a.skipTunnels = !tunnel
			result, err := a.reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				result.Entries = filterEntries(result.Entries, ids)
			}
			return printResult(cmd, result)
		},
	}
	cmd.Flags().BoolVar(&caddy, "caddy", true, "apply reverse-proxy routes")
	cmd.Flags().BoolVar(&tunnel, "tunnel", true, "ensure public tunnel sessions")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "restrict the report to these service ids (reconcile still runs over the full declared set)")
	return cmd
}

func newNetRefreshCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "reconcile once, or watch the project config and plugin manifests and reconcile on every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if once {
				result, err := a.reconcile(cmd.Context())
				if err != nil {
					return err
				}
				return printResult(cmd, result)
			}

			cfg, _, err := a.loadConfig()
			if err != nil {
				return err
			}
			ws, err := a.paths.ProjectWorkspace()
			if err != nil {
				return err
			}
			configPath := projectRootConfigPath(ws)
			var pluginDirs []string
			for _, name := range cfg.Project.Plugins {
				pluginDirs = append(pluginDirs, pluginsRoot(configPath)+"/"+name)
			}
			w := watch.New(configPath, pluginDirs, "net.manifest.yaml")
			fmt.Fprintln(cmd.OutOrStdout(), "watching for changes, ctrl-c to stop")
			return w.Run(cmd.Context(), func() {
				a.cfg, a.manifests = nil, nil // force a reload on the next reconcile
				result, err := a.reconcile(cmd.Context())
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "reconcile failed: %v\n", err)
					return
				}
				printResult(cmd, result)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "reconcile once and exit instead of watching")
	return cmd
}

func newNetDiscoverCmd() *cobra.Command {
	var ports []int
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "discover running Docker containers and listening ports as standalone registry entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			discovered, err := reconciler.DiscoverDocker(cmd.Context())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "docker discovery skipped: %v\n", err)
			}
			if len(ports) == 0 {
				ports = reconciler.DefaultPortCandidates
			}
			discovered = append(discovered, reconciler.DiscoverListeningPorts(ports)...)

			for _, e := range discovered {
				if err := a.registry.Upsert(e); err != nil {
					return err
				}
			}
			if jsonFlag(cmd) {
				return printJSON(cmd, discovered)
			}
			for _, e := range discovered {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  dial=%s  source=%s\n", e.ID, e.Dial, e.Source)
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&ports, "ports", nil, "loopback ports to scan for listeners (default: a built-in list of common dev-server ports)")
	return cmd
}

func newNetStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "ensure a single declared service's tunnel session and proxy route are live",
		Args:  cobra.ExactArgs(1),
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
			result.Entries = filterEntries(result.Entries, args)
			return printResult(cmd, result)
		},
	}
	return cmd
}

func newNetStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "stop a single service's tunnel session without removing it from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			sess, ok := a.sessions[args[0]]
			if !ok {
				sess = tunnelmgr.New(fmt.Sprintf("tunnel-%s", args[0]), args[0], "", "", "", "", readiness.Budget{}, a.paths)
			}
			return sess.Stop()
		},
	}
	return cmd
}

func newNetOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <id>",
		Short: "print the URLs (local, proxy, tunnel) a registry entry is reachable at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			entries, err := a.registry.List(func(e registry.Entry) bool { return e.ID == args[0] })
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no registry entry %q", args[0])
			}
			e := entries[0]
			fmt.Fprintf(cmd.OutOrStdout(), "local:  http://%s\n", e.Dial)
			for _, h := range e.Hosts {
				fmt.Fprintf(cmd.OutOrStdout(), "proxy:  http://%s\n", h)
			}
			if e.TunnelURL != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "tunnel: %s\n", e.TunnelURL)
			}
			return nil
		},
	}
	return cmd
}

func newNetRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id...>",
		Short: "tear down one or more services' tunnel sessions and proxy routes, and purge them from the registry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			failures, err := reconciler.Remove(cmd.Context(), a.deps(), reconciler.RemoveScope{IDs: args, PurgeRegistry: true})
			if err != nil {
				return err
			}
			if !failures.Empty() {
				for _, f := range failures.Failures() {
					fmt.Fprintf(cmd.ErrOrStderr(), "  [%s] %v\n", asderrors.Glyph(f.Kind), f)
				}
				return fmt.Errorf("remove completed with %d failure(s)", len(failures.Failures()))
			}
			return nil
		},
	}
	return cmd
}

func newNetCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "remove every discovered (non-declared) registry entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			entries, err := a.registry.List(func(e registry.Entry) bool { return e.Source != "" })
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(entries))
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to clean")
				return nil
			}
			_, err = reconciler.Remove(cmd.Context(), a.deps(), reconciler.RemoveScope{IDs: ids, PurgeRegistry: true})
			return err
		},
	}
	return cmd
}

func newNetResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "tear down and purge every registry entry, for recovering from a corrupt (fatal) registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			_, err = reconciler.Remove(cmd.Context(), a.deps(), reconciler.RemoveScope{PurgeRegistry: true})
			return err
		},
	}
	return cmd
}

func newNetTunnelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunnel",
		Short: "control tunnel sessions directly, without a full reconcile pass",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start <id>",
		Short: "ensure the named service's tunnel session and report its reconnect history",
		Args:  cobra.ExactArgs(1),
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
			sessionID := fmt.Sprintf("tunnel-%s", args[0])
			if a.history != nil {
				if n, err := a.history.ReconnectsSince(sessionID, time.Now().Add(-time.Hour)); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%d reconnects in the last hour\n", n)
				}
			}
			return printResult(cmd, result)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop <id>",
		Short: "stop the named service's tunnel session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			sess, ok := a.sessions[args[0]]
			if !ok {
				sess = tunnelmgr.New(fmt.Sprintf("tunnel-%s", args[0]), args[0], "", "", "", "", readiness.Budget{}, a.paths)
			}
			return sess.Stop()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "clear a service's tunnel session state so the next apply starts fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return a.registry.SetTunnel(args[0], "")
		},
	})
	return cmd
}

// removeByID tears down and purges a single registry entry, shared by
// `net remove` and `expose stop`.
func removeByID(cmd *cobra.Command, a *app, id string) error {
	failures, err := reconciler.Remove(cmd.Context(), a.deps(), reconciler.RemoveScope{IDs: []string{id}, PurgeRegistry: true})
	if err != nil {
		return err
	}
	if !failures.Empty() {
		for _, f := range failures.Failures() {
			fmt.Fprintf(cmd.ErrOrStderr(), "  [%s] %v\n", asderrors.Glyph(f.Kind), f)
		}
		return fmt.Errorf("stop completed with %d failure(s)", len(failures.Failures()))
	}
	return nil
}

func filterEntries(entries []registry.Entry, ids []string) []registry.Entry {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []registry.Entry
	for _, e := range entries {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	return jsonEncode(cmd, v)
}
