package proxyctl

import (
	"context"

	"github.com/kfsoftware/asd/internal/expander"
)

// BasicAuthInput is the project-level policy plus a per-service override,
// as read from dotenv and the service declaration (spec §4.6).
type BasicAuthInput struct {
	Username       string
	Password       string
	Realm          string
	ProxyBinary    string
	ServiceMode    string   // "" (inherit) | "override"
	OverrideRoutes []string // "host" | "path", restricting enforcement scope
}

// ApplyBasicAuth computes the basic-auth fields for a Route: the
// plaintext password never reaches the rendered route set, only its
// bcrypt hash (spec §4.6).
func ApplyBasicAuth(ctx context.Context, in BasicAuthInput, isHostRoute bool) (required bool, hash, realm string, err error) {
	if in.Username == "" || in.Password == "" {
		return false, "", "", nil
	}
	if in.ServiceMode == "disabled" {
		return false, "", "", nil
	}
	if in.ServiceMode == "override" && len(in.OverrideRoutes) > 0 {
		if !routeScopeMatches(in.OverrideRoutes, isHostRoute) {
			return false, "", "", nil
		}
	}
	hashed, err := expander.BcryptPassword(ctx, in.ProxyBinary, in.Password, 0)
	if err != nil {
		return false, "", "", err
	}
	realm = in.Realm
	if realm == "" {
		realm = "asd"
	}
	return true, hashed, realm, nil
}

func routeScopeMatches(scope []string, isHostRoute bool) bool {
	for _, s := range scope {
		if (s == "host" && isHostRoute) || (s == "path" && !isHostRoute) {
			return true
		}
	}
	return false
}
