package proxyctl

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// FileRenderer writes a minimal, host-grouped static proxy config
// (Caddyfile-like) to a fixed path, for use when the admin API is
// unreachable or API mode is disabled.
type FileRenderer struct {
	Path string
}

func (r FileRenderer) Render(routes []Route) error {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Host != sorted[j].Host {
			return sorted[i].Host < sorted[j].Host
		}
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].PathPrefix < sorted[j].PathPrefix
	})

	var b strings.Builder
	currentHost := ""
	for _, rt := range sorted {
		if rt.Host != currentHost {
			if currentHost != "" {
				b.WriteString("}\n\n")
			}
			fmt.Fprintf(&b, "%s {\n", rt.Host)
			currentHost = rt.Host
		}
		path := rt.PathPrefix
		if path == "" {
			path = "/*"
		}
		fmt.Fprintf(&b, "  handle %s {\n", path)
		if rt.StripPrefix && rt.PathPrefix != "" {
			fmt.Fprintf(&b, "    uri strip_prefix %s\n", rt.PathPrefix)
		}
		if rt.BasicAuthRequired && rt.BasicAuthHash != "" {
			fmt.Fprintf(&b, "    basicauth %q {\n      %s\n    }\n", rt.BasicAuthRealm, rt.BasicAuthHash)
		}
		headerKeys := make([]string, 0, len(rt.ResponseHeaders))
		for k := range rt.ResponseHeaders {
			headerKeys = append(headerKeys, k)
		}
		sort.Strings(headerKeys)
		for _, k := range headerKeys {
			fmt.Fprintf(&b, "    header %s %q\n", k, rt.ResponseHeaders[k])
		}
		for _, h := range rt.DeleteHeaders {
			fmt.Fprintf(&b, "    header -%s\n", h)
		}
		if rt.IngressTag != "" {
			fmt.Fprintf(&b, "    header X-Asd-Ingress %q\n", rt.IngressTag)
		}
		fmt.Fprintf(&b, "    reverse_proxy %s\n", rt.Dial)
		b.WriteString("  }\n")
	}
	if currentHost != "" {
		b.WriteString("}\n")
	}

	tmp := r.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.Path)
}
