package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kfsoftware/asd/internal/asderrors"
	"github.com/kfsoftware/asd/internal/config"
	"github.com/kfsoftware/asd/internal/credentials"
	"github.com/kfsoftware/asd/internal/history"
	"github.com/kfsoftware/asd/internal/localadmin"
	"github.com/kfsoftware/asd/internal/paths"
	"github.com/kfsoftware/asd/internal/proxyctl"
	"github.com/kfsoftware/asd/internal/reconciler"
	"github.com/kfsoftware/asd/internal/registry"
	"github.com/kfsoftware/asd/internal/supervisor"
	"github.com/kfsoftware/asd/internal/tunnelmgr"
	"github.com/kfsoftware/asd/internal/wire"
)

// app bundles the collaborators every net/expose/service subcommand
// needs, built once per invocation from the resolved paths (spec §9,
// "global-process state" — one Resolver per command, never a package
// singleton).
type app struct {
	paths       *paths.Resolver
	registry    *registry.Registry
	credentials *credentials.Store
	proxy       *proxyctl.Controller
	history     *history.Ledger
	sessions    map[string]*tunnelmgr.Session

	cfg       *config.ProjectConfig
	manifests map[string]*config.PluginManifest

	// skipTunnels/skipProxy gate reconciler.Deps.SkipTunnels/SkipProxy,
	// set from `net apply --tunnel=false`/`--caddy=false`.
	skipTunnels bool
	skipProxy   bool
}

func newResolver() (*paths.Resolver, error) {
	return paths.NewFromOS()
}

func newApp() (*app, error) {
	resolver, err := newResolver()
	if err != nil {
		return nil, err
	}

	regPath, err := resolver.RegistryPath()
	if err != nil {
		return nil, err
	}
	credPath, err := resolver.CredentialsPath()
	if err != nil {
		return nil, err
	}
	caddyDir, err := resolver.CaddyDir()
	if err != nil {
		return nil, err
	}

	caddyfile := filepath.Join(caddyDir, "Caddyfile")
	proxy := proxyctl.New(
		"http://127.0.0.1:2019",
		supervisor.DaemonSpec{
			Name:       "caddy",
			BinaryPath: "caddy",
			Argv:       []string{"run", "--config", caddyfile, "--adapter", "caddyfile"},
			PIDFile:    filepath.Join(caddyDir, "caddy.pid"),
			LogFile:    filepath.Join(caddyDir, "caddy.log"),
		},
		proxyctl.FileRenderer{Path: caddyfile},
	)

	home, err := resolver.ASDHome()
	if err != nil {
		return nil, err
	}
	ledger, err := history.Open(filepath.Join(home, "history.db"))
	if err != nil {
		return nil, err
	}

	a := &app{
		paths:       resolver,
		registry:    registry.New(regPath),
		credentials: credentials.NewStore(credPath),
		proxy:       proxy,
		history:     ledger,
		sessions:    map[string]*tunnelmgr.Session{},
	}
	return a, nil
}

// loadConfig parses the project config and its enabled plugin manifests,
// memoizing the result on the app for the lifetime of this command.
func (a *app) loadConfig() (*config.ProjectConfig, map[string]*config.PluginManifest, error) {
	if a.cfg != nil {
		return a.cfg, a.manifests, nil
	}
	ws, err := a.paths.ProjectWorkspace()
	if err != nil {
		return nil, nil, err
	}
	configPath := projectRootConfigPath(ws)
	cfg, err := config.NewLoader(configPath).Load()
	if err != nil {
		return nil, nil, err
	}
	manifests, err := config.LoadEnabledManifests(pluginsRoot(configPath), cfg)
	if err != nil {
		return nil, nil, err
	}
	a.cfg, a.manifests = cfg, manifests
	return cfg, manifests, nil
}

// projectRootConfigPath derives net.config.yaml's path from the resolved
// workspace (.asd/workspace -> project root is two levels up).
func projectRootConfigPath(workspace string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(workspace)), "net.config.yaml")
}

func pluginsRoot(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "plugins")
}

func (a *app) deps() reconciler.Deps {
	tunnelMode := "ssh"
	if a.cfg != nil && a.cfg.Tunnels.Mode != "" {
		tunnelMode = a.cfg.Tunnels.Mode
	}
	return reconciler.Deps{
		Paths:          a.paths,
		Registry:       a.registry,
		Proxy:          a.proxy,
		Credentials:    a.credentials,
		History:        a.history,
		SSHBinary:      envOr("ASD_SSH_BINARY", "ssh"),
		ProxyBinary:    envOr("ASD_PROXY_BINARY", "caddy"),
		TunnelProtocol: tunnelMode,
		Sessions:       a.sessions,
		SkipTunnels:    a.skipTunnels,
		SkipProxy:      a.skipProxy,
	}
}

func (a *app) reconcile(ctx context.Context) (*reconciler.Result, error) {
	cfg, manifests, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return reconciler.Reconcile(ctx, a.deps(), cfg, manifests)
}

// statusNetwork resolves the network/addr pair the local admin status
// surface binds and dials: a Unix domain socket everywhere but Windows,
// which has no net.Listen("unix", ...) support.
func (a *app) statusNetwork() (network, addr string, err error) {
	addr, err = a.paths.StatusSocketPath()
	if err != nil {
		return "", "", err
	}
	if runtime.GOOS == "windows" {
		return "tcp", addr, nil
	}
	_ = os.Remove(addr) // drop a stale socket left by an unclean exit
	return "unix", addr, nil
}

// serveStatus runs the loopback status surface (GET /sessions, /healthz,
// and the /tap websocket) until ctx is cancelled, backing `net status
// serve` and giving `inspect tap` something to dial (SPEC_FULL §12 item 3).
func (a *app) serveStatus(ctx context.Context) error {
	network, addr, err := a.statusNetwork()
	if err != nil {
		return err
	}
	listener, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("listen on status socket: %w", err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	err = localadmin.ServeStatusHTTP(listener, appStatusSource{a})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// appStatusSource adapts the app's live session table to
// localadmin.StatusSource.
type appStatusSource struct{ a *app }

func (s appStatusSource) Sessions() []localadmin.SessionStatus {
	out := make([]localadmin.SessionStatus, 0, len(s.a.sessions))
	for id, sess := range s.a.sessions {
		out = append(out, localadmin.SessionStatus{
			ID:        id,
			ServiceID: sess.ServiceID,
			State:     string(sess.State()),
			PublicURL: sess.PublicURL(),
		})
	}
	return out
}

// adminNetwork resolves the network/addr pair the multiplexed local admin
// control-plane binds and dials, mirroring statusNetwork for its own
// socket (SPEC_FULL §11.1).
func (a *app) adminNetwork() (network, addr string, err error) {
	addr, err = a.paths.AdminSocketPath()
	if err != nil {
		return "", "", err
	}
	if runtime.GOOS == "windows" {
		return "tcp", addr, nil
	}
	_ = os.Remove(addr)
	return "unix", addr, nil
}

// serveAdmin runs the yamux-multiplexed control-plane until ctx is
// cancelled: health-ping and status-query requests each get their own
// stream over one listener (SPEC_FULL §11.1), status queries answered from
// the same live session table the HTTP status surface reports from. No
// other request kind has a handler here.
func (a *app) serveAdmin(ctx context.Context) error {
	network, addr, err := a.adminNetwork()
	if err != nil {
		return err
	}
	listener, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("listen on admin socket: %w", err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	srv := localadmin.NewServer(listener)
	source := appStatusSource{a}
	srv.Handle(wire.KindHealthPing, func(req wire.Envelope) (wire.Envelope, error) {
		var ping wire.HealthPing
		if err := wire.Decode(req, &ping); err != nil {
			return wire.Envelope{}, err
		}
		return wire.Encode(wire.KindHealthPong, wire.HealthPong{Nonce: ping.Nonce})
	})
	srv.Handle(wire.KindStatusQuery, func(req wire.Envelope) (wire.Envelope, error) {
		var q wire.StatusQuery
		if err := wire.Decode(req, &q); err != nil {
			return wire.Envelope{}, err
		}
		for _, s := range source.Sessions() {
			if s.ID == q.SessionID {
				return wire.Encode(wire.KindStatusReply, wire.StatusReply{SessionID: s.ID, State: s.State, PublicURL: s.PublicURL})
			}
		}
		return wire.Encode(wire.KindStatusReply, wire.StatusReply{SessionID: q.SessionID, State: string(tunnelmgr.StateIdle)})
	})

	err = srv.Serve()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *app) close() {
	if a.history != nil {
		a.history.Close()
	}
}

// jsonEncode writes v to cmd's stdout as indented JSON, the shared
// implementation behind every --json code path.
func jsonEncode(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// jsonFlag reads the --json persistent flag a command tree shares.
func jsonFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// printResult renders a reconcile Result either as the plain-text
// kind-glyph-prefixed report spec §7 describes, or as JSON when --json is
// set.
func printResult(cmd *cobra.Command, result *reconciler.Result) error {
	if jsonFlag(cmd) {
		return jsonEncode(cmd, result)
	}
	for _, e := range result.Entries {
		line := fmt.Sprintf("  %s  dial=%s", e.ID, e.Dial)
		if e.Public {
			if e.TunnelURL != "" {
				line += "  tunnel=" + e.TunnelURL
			} else {
				line += "  tunnel=<pending>"
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	for _, f := range result.Failures.Failures() {
		fmt.Fprintf(cmd.ErrOrStderr(), "  [%s] %v\n", asderrors.Glyph(f.Kind), f)
	}
	if !result.Failures.Empty() {
		return fmt.Errorf("reconcile completed with %d failure(s)", len(result.Failures.Failures()))
	}
	return nil
}
