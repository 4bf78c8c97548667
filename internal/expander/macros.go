package expander

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand"
	"net"
	"os/exec"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func randInRange(r PortRange) int {
	span := r.Max - r.Min
	if span <= 0 {
		return r.Min
	}
	return r.Min + mathrand.Intn(span)
}

const (
	charsetAlnum      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	charsetAlpha      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	charsetNumeric    = "0123456789"
	charsetHex        = "0123456789abcdef"
)

func namedCharset(name string) string {
	switch name {
	case "alpha":
		return charsetAlpha
	case "numeric":
		return charsetNumeric
	case "hex":
		return charsetHex
	case "alnum", "":
		return charsetAlnum
	default:
		return charsetAlnum
	}
}

// randomString generates a CSPRNG string of length drawn from one of the
// four named alphabets, wrapped with an optional prefix/suffix (spec
// §4.7, macro.getRandomString).
func randomString(length int, charsetName, prefix, suffix string) (string, error) {
	if length <= 0 {
		length = 16
	}
	alphabet := namedCharset(charsetName)
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return prefix + string(buf) + suffix, nil
}

// bcryptPassword hashes password at cost, delegating to an external proxy
// binary's bcrypt subcommand when one is configured (the way the real
// Caddy binary exposes `caddy hash-password`), falling back to the
// built-in golang.org/x/crypto/bcrypt implementation otherwise.
func bcryptPassword(ctx context.Context, proxyBinary, password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if proxyBinary != "" {
		if hashed, err := bcryptViaBinary(ctx, proxyBinary, password, cost); err == nil {
			return hashed, nil
		}
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hashed), nil
}

// BcryptPassword exposes bcryptPassword for callers outside the expander
// (the proxy controller's basic-auth wiring) that need the same
// binary-or-fallback hashing policy without going through a template
// expression (spec §4.6 "Basic-auth handling").
func BcryptPassword(ctx context.Context, proxyBinary, password string, cost int) (string, error) {
	return bcryptPassword(ctx, proxyBinary, password, cost)
}

func bcryptViaBinary(ctx context.Context, proxyBinary, password string, cost int) (string, error) {
	cmd := exec.CommandContext(ctx, proxyBinary, "hash-password", "--plaintext", password, "--cost", fmt.Sprintf("%d", cost))
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return trimNewline(string(out)), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// isDockerAvailable best-effort-probes for a reachable Docker daemon via
// its default Unix socket, bounded by a short timeout.
func isDockerAvailable() bool {
	conn, err := net.DialTimeout("unix", "/var/run/docker.sock", 300*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
