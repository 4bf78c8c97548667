// Package config loads the project configuration file and plugin
// manifests (spec §6), the YAML inputs the reconciler merges into a
// declared set before any registry or proxy state is touched.
package config

// ServiceDecl is a user- or plugin-provided ServiceDeclaration (spec §3).
// An overlay is a ServiceDecl with no Dial; it refines a plugin-provided
// service of the same ID rather than creating a duplicate.
type ServiceDecl struct {
	Dial                  string             `yaml:"dial,omitempty"`
	Hosts                 []string           `yaml:"hosts,omitempty"`
	Paths                 []RoutePath        `yaml:"paths,omitempty"`
	Public                bool               `yaml:"public,omitempty"`
	Direct                bool               `yaml:"direct,omitempty"`
	Subdomain             string             `yaml:"subdomain,omitempty"`
	TunnelProtocol        string             `yaml:"tunnelProtocol,omitempty"`
	Priority              int                `yaml:"priority,omitempty"`
	BasicAuth             *BasicAuthDecl     `yaml:"basicAuth,omitempty"`
	SecurityHeaders       *SecurityHeaders   `yaml:"securityHeaders,omitempty"`
	IframeOrigin          string             `yaml:"iframeOrigin,omitempty"`
	DeleteResponseHeaders []string           `yaml:"deleteResponseHeaders,omitempty"`
	IngressTag            string             `yaml:"ingressTag,omitempty"`
	Env                   map[string]string  `yaml:"env,omitempty"`
	HealthCheck           *HealthCheckDecl   `yaml:"healthCheck,omitempty"`
}

type RoutePath struct {
	Path        string `yaml:"path"`
	StripPrefix bool   `yaml:"stripPrefix,omitempty"`
}

type BasicAuthDecl struct {
	Mode   string   `yaml:"mode,omitempty"`
	Realm  string   `yaml:"realm,omitempty"`
	Routes []string `yaml:"routes,omitempty"`
}

type SecurityHeaders struct {
	HSTS         bool `yaml:"hsts,omitempty"`
	FrameOptions bool `yaml:"frameOptions,omitempty"`
	Compression  bool `yaml:"compression,omitempty"`
}

type HealthCheckDecl struct {
	HTTPPath string `yaml:"httpPath,omitempty"`
	TCPPort  int    `yaml:"tcpPort,omitempty"`
	Command  string `yaml:"command,omitempty"`
}

// AutomationStep is one step of a named task's ordered step list.
type AutomationStep struct {
	Run         string            `yaml:"run"`
	Background  bool              `yaml:"background,omitempty"`
	WaitFor     string            `yaml:"waitFor,omitempty"`
	TimeoutSecs int               `yaml:"timeout,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
}

// CaddyPolicy is the project's network.caddy settings.
type CaddyPolicy struct {
	TLSPolicy string           `yaml:"tlsPolicy,omitempty"`
	BasicAuth *BasicAuthPolicy `yaml:"basic_auth,omitempty"`
}

type BasicAuthPolicy struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Realm    string `yaml:"realm,omitempty"`
}

// NetworkConfig is the project's network.* section.
type NetworkConfig struct {
	Caddy    CaddyPolicy            `yaml:"caddy,omitempty"`
	Services map[string]ServiceDecl `yaml:"services,omitempty"`
}

// TunnelsConfig is the project's default tunnel mode plus per-service
// overrides, keyed by service id.
type TunnelsConfig struct {
	Mode      string            `yaml:"mode,omitempty"`
	Overrides map[string]string `yaml:"overrides,omitempty"`
}

// ProjectInfo is the config's `project` block.
type ProjectInfo struct {
	Name    string   `yaml:"name"`
	Domain  string   `yaml:"domain,omitempty"`
	Plugins []string `yaml:"plugins,omitempty"`
}

// ProjectConfig is the top-level project configuration file, a YAML
// document at the project root (spec §6).
type ProjectConfig struct {
	Version    int                       `yaml:"version"`
	Project    ProjectInfo               `yaml:"project"`
	Features   map[string]bool           `yaml:"features,omitempty"`
	Network    NetworkConfig             `yaml:"network,omitempty"`
	Automation map[string][]AutomationStep `yaml:"automation,omitempty"`
	Tunnels    TunnelsConfig             `yaml:"tunnels,omitempty"`
}

// PluginManifest is a plugin module's net.manifest.yaml: the same
// service-declaration fields as user declarations, with template macros
// allowed for dial ports and secrets.
type PluginManifest struct {
	Name     string                 `yaml:"name"`
	Version  string                 `yaml:"version,omitempty"`
	Services map[string]ServiceDecl `yaml:"services,omitempty"`
}
