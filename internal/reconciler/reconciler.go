package reconciler

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	log "github.com/schollz/logger"

	"github.com/kfsoftware/asd/internal/asderrors"
	"github.com/kfsoftware/asd/internal/config"
	"github.com/kfsoftware/asd/internal/credentials"
	"github.com/kfsoftware/asd/internal/dotenv"
	"github.com/kfsoftware/asd/internal/expander"
	"github.com/kfsoftware/asd/internal/history"
	"github.com/kfsoftware/asd/internal/proxyctl"
	"github.com/kfsoftware/asd/internal/readiness"
	"github.com/kfsoftware/asd/internal/registry"
	"github.com/kfsoftware/asd/internal/tunnelmgr"
)

// Paths is the subset of internal/paths.Resolver the reconciler needs.
type Paths interface {
	tunnelmgr.Paths
	DotenvPath() (string, error)
}

// Deps wires every collaborator component per spec §2's dataflow: user
// config + plugin manifests -> expander -> reconciler -> (registry,
// proxy controller, tunnel manager) -> supervisor -> OS processes.
type Deps struct {
	Paths          Paths
	Registry       *registry.Registry
	Proxy          *proxyctl.Controller
	Credentials    *credentials.Store
	SSHBinary      string
	ProxyBinary    string
	TunnelProtocol string

	// History appends every tunnel session state transition to the local
	// audit ledger (SPEC_FULL §12 item 1). Optional; nil disables recording.
	History *history.Ledger

	// Sessions holds live tunnel sessions across reconcile passes, keyed
	// by service id, so a second `net apply` refreshes rather than
	// recreates an already-established session. Callers that want
	// sessions to persist across passes must reuse the same Deps (and
	// thus the same Sessions map) across calls.
	Sessions map[string]*tunnelmgr.Session

	// SkipTunnels disables step 4b (ensuring public tunnel sessions) for
	// this pass, per `net apply --tunnel=false`.
	SkipTunnels bool
	// SkipProxy disables step 5 (applying reverse-proxy routes) for this
	// pass, per `net apply --caddy=false`.
	SkipProxy bool
}

// Result summarizes one reconcile pass for CLI reporting.
type Result struct {
	Entries      []registry.Entry
	DotenvWrites []string
	Failures     *asderrors.Aggregate
}

// Reconcile runs the seven-step pass described in spec §4.9. It never
// aborts the whole pass over one entry's failure; failures are collected
// into Result.Failures and surfaced by the caller (spec §7, "Transient
// I/O error ... without aborting the reconcile of unrelated entries").
func Reconcile(ctx context.Context, deps Deps, cfg *config.ProjectConfig, manifests map[string]*config.PluginManifest) (*Result, error) {
	if deps.Sessions == nil {
		deps.Sessions = map[string]*tunnelmgr.Session{}
	}
	failures := asderrors.NewAggregate()
	scope := expander.NewPortScope()

	// Step 1+2: expand manifest/user declarations and merge the declared set.
	declared := MergeDeclared(manifests, cfg.Network.Services)

	env := dotenvLookup(deps)
	var cred *credentials.Credential
	if deps.Credentials != nil {
		if c, ok, err := deps.Credentials.Default(); err == nil && ok {
			cred = &c
		}
	}
	// No credential configured yet but at least one service wants a
	// public tunnel: bootstrap one automatically rather than failing
	// every public entry's tunnel with "no credential available" on a
	// brand new project (spec §4.4's credential-bootstrap endpoint).
	if cred == nil && deps.Credentials != nil && anyPublic(declared) {
		if c, err := autoBootstrapCredential(deps.Credentials); err != nil {
			log.Warnf("auto-bootstrap of ephemeral credential failed: %v", err)
		} else {
			cred = &c
		}
	}

	entries := make([]registry.Entry, 0, len(declared))
	for _, d := range declared {
		entry := expandDeclaration(ctx, d, scope, env, cred, deps.ProxyBinary)

		// Step 3 (DiscoverDocker / DiscoverListeningPorts) runs in the
		// caller before Reconcile; discovered services are folded in as
		// standalone declarations, so they flow through the same loop.

		// Step 4a: upsert into the registry.
		if err := deps.Registry.Upsert(entry); err != nil {
			failures.Add(asderrors.Wrapf(asderrors.KindTransient, entry.ID, err, "upsert registry entry"))
			continue
		}

		// Step 4b: ensure a tunnel session if public.
		if entry.Public && !deps.SkipTunnels {
			if err := ensureTunnel(ctx, deps, entry, cred); err != nil {
				failures.Add(err)
			}
			if sess, ok := deps.Sessions[entry.ID]; ok {
				entry.TunnelURL = sess.PublicURL()
				if err := deps.Registry.SetTunnel(entry.ID, entry.TunnelURL); err != nil {
					failures.Add(asderrors.Wrapf(asderrors.KindTransient, entry.ID, err, "record tunnel url"))
				}
			}
		}

		entries = append(entries, entry)
	}

	// Step 5: diff and apply proxy routes as one atomic batch.
	if !deps.SkipProxy {
		authPolicy := basicAuthPolicyFor(cfg, env, deps.ProxyBinary)
		routes := make([]proxyctl.Route, 0, len(entries))
		for _, e := range entries {
			routes = append(routes, routesForEntry(ctx, e, authPolicy)...)
		}
		if deps.Proxy != nil {
			if err := deps.Proxy.Apply(ctx, routes); err != nil {
				failures.Add(asderrors.Wrapf(asderrors.KindProtocol, "", err, "apply proxy routes"))
			}
		}
	}

	// Step 6: re-expand env (now that tunnel URLs from step 4b are known)
	// and write to the project dotenv, serialized through dotenv.WriteKeys's
	// own lock (spec §5, "Dotenv writes ... are serialized").
	dotenvPath, err := deps.Paths.DotenvPath()
	if err != nil {
		return nil, err
	}
	updates := map[string]string{}
	for _, d := range declared {
		ec := expanderContextFor(ctx, scope, env, cred, deps.ProxyBinary, resolveSubdomain(d.Decl))
		for key, tmpl := range d.Decl.Env {
			updates[key] = expander.Expand(ec, tmpl)
		}
	}
	written, err := dotenv.WriteKeys(dotenvPath, updates)
	if err != nil {
		failures.Add(asderrors.Wrapf(asderrors.KindTransient, "", err, "write project dotenv"))
	}

	// Step 7: readiness sweep, recording lastHealthResult per entry.
	sweepReadiness(ctx, deps, entries, failures)

	return &Result{Entries: entries, DotenvWrites: written, Failures: failures}, nil
}

func anyPublic(declared []Declared) bool {
	for _, d := range declared {
		if d.Decl.Public {
			return true
		}
	}
	return false
}

// autoBootstrapCredential requests a fresh ephemeral credential from the
// credential-bootstrap endpoint, persists it, and marks it the project
// default, so a brand new project with no `asd auth generate` run yet
// still gets its public services tunneled (spec §4.4).
func autoBootstrapCredential(store *credentials.Store) (credentials.Credential, error) {
	endpoint := os.Getenv("ASD_CREDENTIAL_BOOTSTRAP_URL")
	if endpoint == "" {
		endpoint = credentials.DefaultBootstrapEndpoint
	}
	cred, err := credentials.GenerateEphemeral(nil, endpoint, "auto-bootstrap")
	if err != nil {
		return credentials.Credential{}, err
	}
	if err := store.Append(cred); err != nil {
		return credentials.Credential{}, err
	}
	if err := store.SetDefault(cred.Name); err != nil {
		return credentials.Credential{}, err
	}
	cred.Default = true
	return cred, nil
}

func dotenvLookup(deps Deps) expander.EnvLookup {
	path, err := deps.Paths.DotenvPath()
	if err != nil {
		return func(string) string { return "" }
	}
	f, err := dotenv.Load(path)
	if err != nil {
		return func(string) string { return "" }
	}
	return func(name string) string {
		if v, ok := f.Get(name); ok {
			return v
		}
		return ""
	}
}

func expandDeclaration(ctx context.Context, d Declared, scope *expander.PortScope, env expander.EnvLookup, cred *credentials.Credential, proxyBinary string) registry.Entry {
	ec := expanderContextFor(ctx, scope, env, cred, proxyBinary, d.Decl.Subdomain)

	entry := registry.Entry{
		ID:                    d.ID,
		Dial:                  expander.Expand(ec, d.Decl.Dial),
		Hosts:                 expandAll(ec, d.Decl.Hosts),
		Public:                d.Decl.Public,
		Direct:                d.Decl.Direct,
		Subdomain:             expander.Expand(ec, d.Decl.Subdomain),
		TunnelProtocol:        d.Decl.TunnelProtocol,
		Priority:              d.Decl.Priority,
		IframeOrigin:          d.Decl.IframeOrigin,
		DeleteResponseHeaders: d.Decl.DeleteResponseHeaders,
		IngressTag:            d.Decl.IngressTag,
	}
	for _, p := range d.Decl.Paths {
		entry.Paths = append(entry.Paths, registry.RouteRule{Path: p.Path, StripPrefix: p.StripPrefix})
	}
	if d.Decl.BasicAuth != nil {
		entry.BasicAuth = &registry.BasicAuth{Mode: d.Decl.BasicAuth.Mode, Realm: d.Decl.BasicAuth.Realm, Routes: d.Decl.BasicAuth.Routes}
	}
	if d.Decl.SecurityHeaders != nil {
		entry.SecurityHeaders = &registry.SecurityHeaders{
			HSTS: d.Decl.SecurityHeaders.HSTS, FrameOptions: d.Decl.SecurityHeaders.FrameOptions, Compression: d.Decl.SecurityHeaders.Compression,
		}
	}
	if d.Decl.HealthCheck != nil {
		entry.HealthCheck = &registry.HealthCheck{HTTPPath: d.Decl.HealthCheck.HTTPPath, TCPPort: d.Decl.HealthCheck.TCPPort, Command: d.Decl.HealthCheck.Command}
	}

	if len(d.Decl.Env) > 0 {
		entry.Env = make(map[string]string, len(d.Decl.Env))
		for k, tmpl := range d.Decl.Env {
			entry.Env[k] = expander.Expand(ec, tmpl)
		}
	}
	return entry
}

func expandAll(ec expander.Context, in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = expander.Expand(ec, s)
	}
	return proxyctl.ExpandHosts(out)
}

func expanderContextFor(ctx context.Context, scope *expander.PortScope, env expander.EnvLookup, cred *credentials.Credential, proxyBinary, subdomain string) expander.Context {
	var credInfo *expander.CredentialInfo
	if cred != nil {
		credInfo = &expander.CredentialInfo{ClientID: cred.ClientID, Host: cred.Host, Port: cred.Port, Localhost: cred.Host == "localhost" || cred.Host == "127.0.0.1"}
	}
	return expander.Context{
		Env:              env,
		Scope:            scope,
		Credential:       credInfo,
		ServiceSubdomain: subdomain,
		ProxyBinary:      proxyBinary,
		Ctx:              ctx,
	}
}

func resolveSubdomain(decl config.ServiceDecl) string {
	return decl.Subdomain
}

func ensureTunnel(ctx context.Context, deps Deps, entry registry.Entry, cred *credentials.Credential) error {
	sess, ok := deps.Sessions[entry.ID]
	if !ok {
		protocol := entry.TunnelProtocol
		if protocol == "" {
			protocol = deps.TunnelProtocol
		}
		sess = tunnelmgr.New(fmt.Sprintf("tunnel-%s", entry.ID), entry.ID, "", entry.Subdomain, entry.Dial, protocol, readiness.DefaultBudget().CIMultiplied(), deps.Paths)
		if deps.History != nil {
			sess.History = deps.History
		}
		deps.Sessions[entry.ID] = sess
	}
	if cred == nil {
		return asderrors.New(asderrors.KindConfig, entry.ID, fmt.Errorf("public service %s has no credential; route installed for localhost only", entry.ID))
	}
	if err := sess.Ensure(ctx, cred, deps.SSHBinary); err != nil {
		return err
	}
	// Hand the session to the reconnect-with-backoff supervisor (spec
	// §4.5) so a transport failure discovered after this reconcile pass
	// returns is retried automatically rather than waiting for the next
	// `net apply`.
	sess.Supervise(ctx, fetchCredFor(deps), deps.SSHBinary, onTunnelURLChange(deps, entry.ID))
	return nil
}

// fetchCredFor closes over Deps.Credentials for Session.Supervise's
// reconnect loop, which re-resolves the default credential on every retry
// in case it changed (e.g. `asd auth switch`) since the session started.
func fetchCredFor(deps Deps) func() (*credentials.Credential, error) {
	return func() (*credentials.Credential, error) {
		if deps.Credentials == nil {
			return nil, fmt.Errorf("no credential store configured")
		}
		c, ok, err := deps.Credentials.Default()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("no default credential configured")
		}
		return &c, nil
	}
}

// onTunnelURLChange persists a reconnect's new public URL to the registry
// so that `net open`/`net apply` report it even between reconcile passes.
func onTunnelURLChange(deps Deps, entryID string) func(newURL string) {
	return func(newURL string) {
		if err := deps.Registry.SetTunnel(entryID, newURL); err != nil {
			log.Warnf("%s: failed to record reconnected tunnel url: %v", entryID, err)
		}
	}
}

// basicAuthPolicyFor assembles the project-level basic-auth input from
// dotenv (spec §4.6: "Credentials come from dotenv
// (ASD_BASIC_AUTH_USERNAME / …PASSWORD)") and the project config's realm,
// leaving per-entry overrides to be layered on in routesForEntry.
func basicAuthPolicyFor(cfg *config.ProjectConfig, env expander.EnvLookup, proxyBinary string) proxyctl.BasicAuthInput {
	in := proxyctl.BasicAuthInput{ProxyBinary: proxyBinary}
	if cfg.Network.Caddy.BasicAuth != nil && cfg.Network.Caddy.BasicAuth.Enabled {
		in.Username = env("ASD_BASIC_AUTH_USERNAME")
		in.Password = env("ASD_BASIC_AUTH_PASSWORD")
		in.Realm = cfg.Network.Caddy.BasicAuth.Realm
	}
	return in
}

// basicAuthPolicyForDeps is basicAuthPolicyFor without a loaded
// ProjectConfig, for callers (Remove) that only re-derive the desired
// route set and have no Enabled/Realm policy to gate on; ApplyBasicAuth
// itself no-ops when Username is empty.
func basicAuthPolicyForDeps(deps Deps) proxyctl.BasicAuthInput {
	env := dotenvLookup(deps)
	return proxyctl.BasicAuthInput{
		Username:    env("ASD_BASIC_AUTH_USERNAME"),
		Password:    env("ASD_BASIC_AUTH_PASSWORD"),
		ProxyBinary: deps.ProxyBinary,
	}
}

func routesForEntry(ctx context.Context, e registry.Entry, basePolicy proxyctl.BasicAuthInput) []proxyctl.Route {
	if e.Direct {
		// --direct: reachable only via its tunnel URL (spec.md:181); no
		// proxy route is emitted for this entry.
		return nil
	}
	hosts := append([]string{}, e.Hosts...)
	if e.TunnelURL != "" {
		if h := hostFromURL(e.TunnelURL); h != "" {
			hosts = append(hosts, h)
		}
	}
	hosts = proxyctl.ExpandHosts(hosts)
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}

	headers := securityResponseHeaders(e.SecurityHeaders)
	isHostRoute := len(e.Paths) == 0

	var routes []proxyctl.Route
	for _, host := range hosts {
		if isHostRoute {
			routes = append(routes, basicAuthRoute(ctx, e, basePolicy, proxyctl.Route{
				Host: host, Dial: e.Dial, Priority: e.Priority, IngressTag: e.IngressTag,
				DeleteHeaders: e.DeleteResponseHeaders, ResponseHeaders: headers,
			}, true))
			continue
		}
		for _, p := range e.Paths {
			routes = append(routes, basicAuthRoute(ctx, e, basePolicy, proxyctl.Route{
				Host: host, PathPrefix: p.Path, StripPrefix: p.StripPrefix, Dial: e.Dial, Priority: e.Priority,
				IngressTag: e.IngressTag, DeleteHeaders: e.DeleteResponseHeaders, ResponseHeaders: headers,
			}, false))
		}
	}
	return routes
}

// basicAuthRoute layers the entry's basicAuth override onto the project
// policy and stamps the resulting requirement/hash/realm onto r (spec
// §4.6: per-service overrides can disable auth or restrict enforcement to
// only host routes or only path routes).
func basicAuthRoute(ctx context.Context, e registry.Entry, basePolicy proxyctl.BasicAuthInput, r proxyctl.Route, isHostRoute bool) proxyctl.Route {
	in := basePolicy
	if e.BasicAuth != nil {
		in.ServiceMode = e.BasicAuth.Mode
		in.OverrideRoutes = e.BasicAuth.Routes
		if e.BasicAuth.Realm != "" {
			in.Realm = e.BasicAuth.Realm
		}
	}
	required, hash, realm, err := proxyctl.ApplyBasicAuth(ctx, in, isHostRoute)
	if err != nil {
		log.Warnf("%s: basic-auth hash failed: %v", e.ID, err)
		return r
	}
	r.BasicAuthRequired = required
	r.BasicAuthHash = hash
	r.BasicAuthRealm = realm
	return r
}

// securityResponseHeaders translates a registry entry's SecurityHeaders
// policy into the literal response headers the proxy renders.
func securityResponseHeaders(sh *registry.SecurityHeaders) map[string]string {
	if sh == nil {
		return nil
	}
	headers := map[string]string{}
	if sh.HSTS {
		headers["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
	}
	if sh.FrameOptions {
		headers["X-Frame-Options"] = "DENY"
	}
	if !sh.Compression {
		headers["Content-Encoding"] = "identity"
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

func hostFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func sweepReadiness(ctx context.Context, deps Deps, entries []registry.Entry, failures *asderrors.Aggregate) {
	for _, e := range entries {
		if e.HealthCheck == nil {
			continue
		}
		spec, ok := readinessSpecForHealthCheck(e)
		if !ok {
			continue
		}
		err := readiness.Wait(ctx, readiness.DefaultBudget().CIMultiplied(), spec)
		result := registry.HealthOK
		if err != nil {
			result = registry.HealthWarn
			failures.Add(asderrors.Wrapf(asderrors.KindTransient, e.ID, err, "readiness sweep"))
		}
		if markErr := deps.Registry.MarkHealth(e.ID, result, time.Now()); markErr != nil {
			log.Warnf("%s: failed to record health result: %v", e.ID, markErr)
		}
	}
}

func readinessSpecForHealthCheck(e registry.Entry) (readiness.Spec, bool) {
	hc := e.HealthCheck
	switch {
	case hc.HTTPPath != "":
		return readiness.Spec{HTTP: &readiness.HTTPCheck{URL: "http://" + e.Dial + hc.HTTPPath}}, true
	case hc.TCPPort != 0:
		host, _, err := net.SplitHostPort(e.Dial)
		if err != nil {
			host = e.Dial
		}
		return readiness.Spec{TCP: &readiness.TCPCheck{HostPort: fmt.Sprintf("%s:%d", host, hc.TCPPort)}}, true
	default:
		return readiness.Spec{}, false
	}
}
