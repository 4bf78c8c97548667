// Package proxyctl owns the local reverse proxy: rendering the desired
// route set, diffing it against the proxy's live admin API, and falling
// back to a fully-rendered static config when the admin API is
// unreachable (spec §4.6).
package proxyctl

import "strconv"

// Route is one desired reverse-proxy route, matched on (Host, PathPrefix,
// Priority) and carrying everything the admin API PATCH or the static
// config renderer needs.
type Route struct {
	Host              string            `json:"host"`
	PathPrefix        string            `json:"pathPrefix,omitempty"`
	Priority          int               `json:"priority"`
	Dial              string            `json:"dial"`
	StripPrefix       bool              `json:"stripPrefix,omitempty"`
	BasicAuthRequired bool              `json:"basicAuthRequired,omitempty"`
	BasicAuthHash     string            `json:"basicAuthHash,omitempty"`
	BasicAuthRealm    string            `json:"basicAuthRealm,omitempty"`
	ResponseHeaders   map[string]string `json:"responseHeaders,omitempty"`
	DeleteHeaders     []string          `json:"deleteHeaders,omitempty"`
	IngressTag        string            `json:"ingressTag,omitempty"`
}

func (r Route) key() string {
	return r.Host + "|" + r.PathPrefix + "|" + strconv.Itoa(r.Priority)
}

// ExpandHosts drops empty strings produced by unresolved tunnel macros
// (spec §4.6, §4.7): a service remains reachable on localhost alone when
// no tunnel URL is yet known.
func ExpandHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

// Diff computes the routes that must be added/updated and the routes
// that must be removed to bring live up to the desired set, matching by
// (host, pathPrefix, priority).
func Diff(desired, live []Route) (upsert, remove []Route) {
	liveByKey := make(map[string]Route, len(live))
	for _, r := range live {
		liveByKey[r.key()] = r
	}
	desiredByKey := make(map[string]Route, len(desired))
	for _, r := range desired {
		desiredByKey[r.key()] = r
		if existing, ok := liveByKey[r.key()]; !ok || !equalRoute(existing, r) {
			upsert = append(upsert, r)
		}
	}
	for _, r := range live {
		if _, ok := desiredByKey[r.key()]; !ok {
			remove = append(remove, r)
		}
	}
	return upsert, remove
}

func equalRoute(a, b Route) bool {
	if a.Dial != b.Dial || a.StripPrefix != b.StripPrefix || a.BasicAuthRequired != b.BasicAuthRequired ||
		a.BasicAuthHash != b.BasicAuthHash || a.BasicAuthRealm != b.BasicAuthRealm || a.IngressTag != b.IngressTag {
		return false
	}
	if len(a.ResponseHeaders) != len(b.ResponseHeaders) {
		return false
	}
	for k, v := range a.ResponseHeaders {
		if b.ResponseHeaders[k] != v {
			return false
		}
	}
	if len(a.DeleteHeaders) != len(b.DeleteHeaders) {
		return false
	}
	for i, h := range a.DeleteHeaders {
		if b.DeleteHeaders[i] != h {
			return false
		}
	}
	return true
}
