// Package registry is the durable JSON store of declared and discovered
// services with optimistic locking (spec §4.8).
package registry

import "time"

// HealthResult is the tagged-variant outcome of a readiness sweep.
type HealthResult string

const (
	HealthOK      HealthResult = "ok"
	HealthWarn    HealthResult = "warn"
	HealthStop    HealthResult = "stop"
	HealthUnknown HealthResult = "unknown"
	HealthPending HealthResult = "pending"
)

// ProcessKind tags how the registry entry's backing process was started.
type ProcessKind string

const (
	ProcessContainer ProcessKind = "container"
	ProcessBinary    ProcessKind = "binary"
)

// RouteRule is a path-prefix route, per spec §3 ServiceDeclaration.paths.
type RouteRule struct {
	Path         string `json:"path"`
	StripPrefix  bool   `json:"stripPrefix,omitempty"`
}

// BasicAuth describes a per-service override of the project's basic-auth
// policy.
type BasicAuth struct {
	Mode   string   `json:"mode,omitempty"` // "inherit" | "override"
	Realm  string   `json:"realm,omitempty"`
	Routes []string `json:"routes,omitempty"` // "host" | "path"
}

// SecurityHeaders controls response-header rules for a route.
type SecurityHeaders struct {
	HSTS           bool `json:"hsts,omitempty"`
	FrameOptions   bool `json:"frameOptions,omitempty"`
	Compression    bool `json:"compression,omitempty"`
}

// HealthCheck describes how to probe a service for readiness.
type HealthCheck struct {
	HTTPPath string `json:"httpPath,omitempty"`
	TCPPort  int    `json:"tcpPort,omitempty"`
	Command  string `json:"command,omitempty"`
}

// Entry is the union the reconciler maintains: declaration fields plus
// runtime state (spec §3 RegistryEntry).
type Entry struct {
	ID       string   `json:"id"`
	Dial     string   `json:"dial,omitempty"`
	Hosts    []string `json:"hosts,omitempty"`
	Paths    []RouteRule `json:"paths,omitempty"`

	Public          bool             `json:"public,omitempty"`
	Direct          bool             `json:"direct,omitempty"` // true skips reverse-proxy routing; tunnel-only (spec.md:181 `expose --direct`)
	Subdomain       string           `json:"subdomain,omitempty"`
	TunnelProtocol  string           `json:"tunnelProtocol,omitempty"` // "http" | "tcp"
	Priority        int              `json:"priority,omitempty"`
	BasicAuth       *BasicAuth       `json:"basicAuth,omitempty"`
	SecurityHeaders *SecurityHeaders `json:"securityHeaders,omitempty"`
	IframeOrigin    string           `json:"iframeOrigin,omitempty"`
	DeleteResponseHeaders []string   `json:"deleteResponseHeaders,omitempty"`
	IngressTag      string           `json:"ingressTag,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	HealthCheck     *HealthCheck     `json:"healthCheck,omitempty"`

	Source     string            `json:"source,omitempty"` // "" for declared, else docker/port-scan/plugin
	DetectedAt *time.Time        `json:"detectedAt,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`

	TunnelURL       string       `json:"tunnelUrl,omitempty"`
	TunnelSessionID string       `json:"tunnelSessionId,omitempty"`
	TunnelLastError string       `json:"tunnelLastError,omitempty"`
	LastHealthAt    *time.Time   `json:"lastHealthAt,omitempty"`
	LastHealthResult HealthResult `json:"lastHealthResult,omitempty"`
	ProcessKind     ProcessKind  `json:"processKind,omitempty"`
	ProcessID       int          `json:"processId,omitempty"`
	AllocatedPort   int          `json:"allocatedPort,omitempty"`

	// Rev is bumped on every upsert, giving callers an optimistic-lock
	// token: a caller reading an Entry and writing it back can detect
	// whether another writer raced it.
	Rev int `json:"rev"`
}

// Clone returns a deep-enough copy for safe mutation by a caller before
// Upsert.
func (e Entry) Clone() Entry {
	clone := e
	clone.Hosts = append([]string(nil), e.Hosts...)
	clone.Paths = append([]RouteRule(nil), e.Paths...)
	clone.DeleteResponseHeaders = append([]string(nil), e.DeleteResponseHeaders...)
	if e.Env != nil {
		clone.Env = make(map[string]string, len(e.Env))
		for k, v := range e.Env {
			clone.Env[k] = v
		}
	}
	if e.Labels != nil {
		clone.Labels = make(map[string]string, len(e.Labels))
		for k, v := range e.Labels {
			clone.Labels[k] = v
		}
	}
	return clone
}
