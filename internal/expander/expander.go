// Package expander evaluates the `${{ macro.* }}` / `${{ env.* }}` /
// legacy `${…}` template grammar used in project config and plugin
// manifests (spec §4.7).
package expander

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	log "github.com/schollz/logger"
)

// EnvLookup resolves a name against the in-memory env map first, then the
// process environment, returning "" if absent.
type EnvLookup func(name string) string

// CredentialInfo is the subset of an active tunnel credential the expander
// needs for macro.tunnelHost / exposedOrigin* evaluation (spec §4.7).
type CredentialInfo struct {
	ClientID string
	Host     string
	Port     int
	// Localhost is true when the credential implies a local-only tunnel
	// gateway (no real DNS), in which case exposedOrigin* reads
	// ASD_TUNNEL_SERVER_HTTP_PORT instead of assuming port 443.
	Localhost bool
}

// Context carries everything a single Expand call needs: lookups,
// allocation scope, and the declaration-local subdomain used by the
// parameterless exposedOrigin*() forms. One Context is owned by exactly
// one reconcile pass (spec §5, §9).
type Context struct {
	Env              EnvLookup
	PersistEnv       func(key, value string)
	Scope            *PortScope
	Credential       *CredentialInfo
	ServiceSubdomain string
	ProxyBinary      string
	Ctx              context.Context
}

var (
	reDouble = regexp.MustCompile(`\$\{\{\s*(.*?)\s*\}\}`)
	reLegacy = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reCall   = regexp.MustCompile(`^([a-zA-Z_][\w]*)\.([a-zA-Z_][\w]*)\((.*)\)$`)
)

// Expand performs a single pure pass over s, resolving every `${{ … }}`
// and legacy `${VAR}` occurrence. Unresolved tunnel macros evaluate to ""
// and never abort the pass (spec §4.7).
func Expand(ec Context, s string) string {
	if ec.Ctx == nil {
		ec.Ctx = context.Background()
	}
	out := reDouble.ReplaceAllStringFunc(s, func(m string) string {
		expr := reDouble.FindStringSubmatch(m)[1]
		val, err := evalExpr(ec, expr)
		if err != nil {
			log.Debugf("expander: %s -> %v", expr, err)
			return ""
		}
		return val
	})
	out = reLegacy.ReplaceAllStringFunc(out, func(m string) string {
		name := reLegacy.FindStringSubmatch(m)[1]
		return ec.lookupEnv(name)
	})
	return out
}

func (ec Context) lookupEnv(name string) string {
	if ec.Env == nil {
		return ""
	}
	return ec.Env(name)
}

func evalExpr(ec Context, expr string) (string, error) {
	expr = strings.TrimSpace(expr)

	if strings.HasPrefix(expr, "!env.") {
		name := strings.TrimPrefix(expr, "!env.")
		if ec.lookupEnv(name) == "" {
			return "true", nil
		}
		return "", nil
	}
	if strings.HasPrefix(expr, "env.") {
		return ec.lookupEnv(strings.TrimPrefix(expr, "env.")), nil
	}

	if m := reCall.FindStringSubmatch(expr); m != nil {
		namespace, fn, argStr := m[1], m[2], m[3]
		args := parseArgs(argStr)
		return dispatch(ec, namespace, fn, args)
	}

	// Bare identifier inside ${{ }}: treated the same as env.NAME.
	return ec.lookupEnv(expr), nil
}

// arg is a single parsed macro argument, either positional or named.
type arg struct {
	name  string
	value string
}

func parseArgs(s string) []arg {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []arg
	for _, part := range splitTopLevelCommas(s) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "="); idx > 0 && !strings.HasPrefix(part, "\"") {
			out = append(out, arg{name: strings.TrimSpace(part[:idx]), value: unquote(strings.TrimSpace(part[idx+1:]))})
		} else {
			out = append(out, arg{value: unquote(part)})
		}
	}
	return out
}

func splitTopLevelCommas(s string) []string {
	var out []string
	depth := 0
	start := 0
	inQuote := false
	for i, r := range s {
		switch r {
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		case ',':
			if depth == 0 && !inQuote {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func argByName(args []arg, name string, positional int) (string, bool) {
	for _, a := range args {
		if a.name == name {
			return a.value, true
		}
	}
	count := 0
	for _, a := range args {
		if a.name != "" {
			continue
		}
		if count == positional {
			return a.value, true
		}
		count++
	}
	return "", false
}

func dispatch(ec Context, namespace, fn string, args []arg) (string, error) {
	switch namespace {
	case "core":
		return dispatchCore(fn)
	case "macro":
		return dispatchMacro(ec, fn, args)
	default:
		return "", fmt.Errorf("unknown namespace %q", namespace)
	}
}

func dispatchCore(fn string) (string, error) {
	switch fn {
	case "isDockerAvailable":
		if isDockerAvailable() {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("unknown core function %q", fn)
	}
}

func dispatchMacro(ec Context, fn string, args []arg) (string, error) {
	switch fn {
	case "getRandomPort":
		return macroGetRandomPort(ec, args)
	case "getRandomPorts":
		return macroGetRandomPorts(ec, args)
	case "getPortRange":
		return macroGetPortRange(ec, args)
	case "getRandomString":
		return macroGetRandomString(args)
	case "bcrypt":
		return macroBcrypt(ec, args)
	case "bcryptEnv":
		return macroBcryptEnv(ec, args)
	case "tunnelHost":
		return macroTunnelHost(ec, args)
	case "tunnelClientId":
		return macroTunnelClientID(ec)
	case "tunnelEndpoint":
		return macroTunnelEndpoint(ec)
	case "exposedOrigin":
		return macroExposedOrigin(ec, args, false)
	case "exposedOriginWithAuth":
		return macroExposedOrigin(ec, args, true)
	default:
		return "", fmt.Errorf("unknown macro %q — diagnostic path, not silently accepted", fn)
	}
}

func macroGetRandomPort(ec Context, args []arg) (string, error) {
	if ec.Scope == nil {
		return "", fmt.Errorf("no port scope in this expansion context")
	}
	name, _ := argByName(args, "name", 0)
	r := rangeFromArgs(args)
	p, err := ec.Scope.GetRandomPort(name, r)
	if err != nil {
		return "", err
	}
	maybePersist(ec, args, name, strconv.Itoa(p), 2)
	return strconv.Itoa(p), nil
}

func macroGetRandomPorts(ec Context, args []arg) (string, error) {
	if ec.Scope == nil {
		return "", fmt.Errorf("no port scope in this expansion context")
	}
	nStr, _ := argByName(args, "n", 0)
	n, err := strconv.Atoi(nStr)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("getRandomPorts: invalid n %q", nStr)
	}
	sep, ok := argByName(args, "sep", 1)
	if !ok {
		sep = ","
	}
	r := rangeFromArgs(args)
	ports, err := ec.Scope.GetRandomPorts(n, r)
	if err != nil {
		return "", err
	}
	strs := make([]string, len(ports))
	for i, p := range ports {
		strs[i] = strconv.Itoa(p)
	}
	return strings.Join(strs, sep), nil
}

func macroGetPortRange(ec Context, args []arg) (string, error) {
	if ec.Scope == nil {
		return "", fmt.Errorf("no port scope in this expansion context")
	}
	sizeStr, _ := argByName(args, "size", 0)
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size <= 0 {
		return "", fmt.Errorf("getPortRange: invalid size %q", sizeStr)
	}
	r := rangeFromMinMax(args)
	name, _ := argByName(args, "name", 3)
	ports, err := ec.Scope.GetPortRange(size, r, name)
	if err != nil {
		return "", err
	}
	first := strconv.Itoa(ports[0])
	maybePersist(ec, args, name, first, 4)
	strs := make([]string, len(ports))
	for i, p := range ports {
		strs[i] = strconv.Itoa(p)
	}
	return strings.Join(strs, ","), nil
}

func rangeFromArgs(args []arg) PortRange {
	r := DefaultPortRange()
	if v, ok := argByName(args, "range", 1); ok {
		parts := strings.SplitN(v, "-", 2)
		if len(parts) == 2 {
			if min, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
				r.Min = min
			}
			if max, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				r.Max = max
			}
		}
	}
	return r
}

func rangeFromMinMax(args []arg) PortRange {
	r := DefaultPortRange()
	if v, ok := argByName(args, "min", 1); ok {
		if min, err := strconv.Atoi(v); err == nil {
			r.Min = min
		}
	}
	if v, ok := argByName(args, "max", 2); ok {
		if max, err := strconv.Atoi(v); err == nil {
			r.Max = max
		}
	}
	return r
}

func maybePersist(ec Context, args []arg, name, value string, persistPos int) {
	persist, _ := argByName(args, "persist", persistPos)
	if persist != "true" || name == "" || ec.PersistEnv == nil {
		return
	}
	ec.PersistEnv(name, value)
}

func macroGetRandomString(args []arg) (string, error) {
	lengthStr, _ := argByName(args, "length", 0)
	length, _ := strconv.Atoi(lengthStr)
	charset, _ := argByName(args, "charset", 1)
	prefix, _ := argByName(args, "prefix", 2)
	suffix, _ := argByName(args, "suffix", 3)
	return randomString(length, charset, prefix, suffix)
}

func macroBcrypt(ec Context, args []arg) (string, error) {
	password, ok := argByName(args, "password", 0)
	if !ok {
		return "", fmt.Errorf("bcrypt: missing password argument")
	}
	costStr, _ := argByName(args, "cost", 1)
	cost, _ := strconv.Atoi(costStr)
	return bcryptPassword(ec.Ctx, ec.ProxyBinary, password, cost)
}

func macroBcryptEnv(ec Context, args []arg) (string, error) {
	varName, ok := argByName(args, "varName", 0)
	if !ok {
		return "", fmt.Errorf("bcryptEnv: missing varName argument")
	}
	password := ec.lookupEnv(varName)
	if password == "" {
		return "", nil
	}
	return bcryptPassword(ec.Ctx, ec.ProxyBinary, password, 0)
}

func macroTunnelHost(ec Context, args []arg) (string, error) {
	if ec.Credential == nil {
		return "", nil
	}
	prefix, _ := argByName(args, "prefix", 0)
	if prefix == "" {
		prefix = ec.ServiceSubdomain
	}
	if prefix == "" {
		return "", fmt.Errorf("tunnelHost: no prefix and no enclosing service subdomain")
	}
	return fmt.Sprintf("%s-%s.%s", prefix, ec.Credential.ClientID, ec.Credential.Host), nil
}

func macroTunnelClientID(ec Context) (string, error) {
	if ec.Credential == nil {
		return "", nil
	}
	return ec.Credential.ClientID, nil
}

func macroTunnelEndpoint(ec Context) (string, error) {
	if ec.Credential == nil {
		return "", nil
	}
	return fmt.Sprintf("%s@%s:%d", ec.Credential.ClientID, ec.Credential.Host, ec.Credential.Port), nil
}

func macroExposedOrigin(ec Context, args []arg, withAuth bool) (string, error) {
	if ec.Credential == nil {
		return "", nil
	}
	prefix, explicit := argByName(args, "prefix", 0)
	if !explicit {
		prefix = ec.ServiceSubdomain
	}
	if prefix == "" {
		return "", fmt.Errorf("exposedOrigin: no prefix and no enclosing service subdomain")
	}
	host, err := macroTunnelHost(ec, []arg{{value: prefix}})
	if err != nil || host == "" {
		return "", err
	}

	scheme := "https"
	hostPort := host
	if ec.Credential.Localhost {
		scheme = "http"
		httpPort := ec.lookupEnv("ASD_TUNNEL_SERVER_HTTP_PORT")
		if httpPort != "" {
			hostPort = fmt.Sprintf("%s:%s", host, httpPort)
		}
	}

	origin := fmt.Sprintf("%s://%s", scheme, hostPort)
	if !withAuth {
		return origin, nil
	}
	user := ec.lookupEnv("ASD_BASIC_AUTH_USERNAME")
	pass := ec.lookupEnv("ASD_BASIC_AUTH_PASSWORD")
	if user == "" {
		return origin, nil
	}
	return fmt.Sprintf("%s://%s:%s@%s", scheme, user, pass, hostPort), nil
}
