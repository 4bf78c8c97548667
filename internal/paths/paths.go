// Package paths resolves the canonical absolute locations the rest of the
// tree reads and writes: the ASD home, the per-project workspace, the bin
// dir, and the log dir. Precedence is explicit env override, then a local
// .asd directory found by walking up the project tree, then an OS default.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	log "github.com/schollz/logger"
)

const maxAncestorWalk = 50

// Resolver computes the canonical paths for a single working directory.
// Construct one per command invocation via New so tests can substitute a
// fresh instance instead of relying on package-level state (spec §9,
// "global-process state").
type Resolver struct {
	cwd string
	env map[string]string

	warnedDoubled sync.Once
}

// New builds a Resolver rooted at cwd, reading overrides out of env (use
// os.Environ-derived maps in production, a literal map in tests).
func New(cwd string, env map[string]string) *Resolver {
	return &Resolver{cwd: cwd, env: env}
}

// NewFromOS builds a Resolver for the real process environment and current
// working directory.
func NewFromOS() (*Resolver, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	env := map[string]string{}
	for _, key := range []string{
		"ASD_HOME", "ASD_DIR_PATH", "ASD_WORKSPACE_DIR", "ASD_BIN_DIR", "ASD_BIN_LOCATION",
	} {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	return New(cwd, env), nil
}

// ASDHome returns the absolute path of the user-level ASD home: config.yaml,
// credentials, globally installed helper binaries.
func (r *Resolver) ASDHome() (string, error) {
	if v := r.env["ASD_DIR_PATH"]; v != "" {
		return r.ensureDir(mustAbs(v))
	}
	if v := r.env["ASD_HOME"]; v != "" {
		return r.ensureDir(mustAbs(v))
	}
	return r.ensureDir(osDefaultHome())
}

// ProjectWorkspace returns the absolute path of the per-project workspace
// (.asd/workspace under the project root), walking up at most
// maxAncestorWalk ancestors looking for an existing .asd directory before
// falling back to creating one under cwd.
func (r *Resolver) ProjectWorkspace() (string, error) {
	if v := r.env["ASD_WORKSPACE_DIR"]; v != "" {
		return r.ensureDir(mustAbs(v))
	}
	root, err := r.findProjectRoot()
	if err != nil {
		return "", err
	}
	ws := filepath.Join(root, ".asd", "workspace")
	r.warnIfDoubled(ws)
	return r.ensureDir(ws)
}

// BinDir returns where helper binaries should be installed: global (under
// ASDHome) or workspace-scoped, per ASD_BIN_LOCATION.
func (r *Resolver) BinDir() (string, error) {
	if v := r.env["ASD_BIN_DIR"]; v != "" {
		return r.ensureDir(mustAbs(v))
	}
	if r.env["ASD_BIN_LOCATION"] == "workspace" {
		ws, err := r.ProjectWorkspace()
		if err != nil {
			return "", err
		}
		return r.ensureDir(filepath.Join(ws, "bin"))
	}
	home, err := r.ASDHome()
	if err != nil {
		return "", err
	}
	return r.ensureDir(filepath.Join(home, "bin"))
}

// LogDir returns the workspace's logs directory.
func (r *Resolver) LogDir() (string, error) {
	ws, err := r.ProjectWorkspace()
	if err != nil {
		return "", err
	}
	return r.ensureDir(filepath.Join(ws, "logs"))
}

// RegistryPath returns the fixed path of the service registry JSON file.
func (r *Resolver) RegistryPath() (string, error) {
	ws, err := r.ProjectWorkspace()
	if err != nil {
		return "", err
	}
	netDir := filepath.Join(ws, "network")
	if _, err := r.ensureDir(netDir); err != nil {
		return "", err
	}
	return filepath.Join(netDir, "registry.json"), nil
}

// TunnelsDir returns the workspace's tunnels directory, where each
// tunnel session's PID and log files live.
func (r *Resolver) TunnelsDir() (string, error) {
	ws, err := r.ProjectWorkspace()
	if err != nil {
		return "", err
	}
	return r.ensureDir(filepath.Join(ws, "tunnels"))
}

// TunnelPIDFile returns the PID-file path for the named tunnel session.
func (r *Resolver) TunnelPIDFile(sessionID string) string {
	dir, err := r.TunnelsDir()
	if err != nil {
		dir = filepath.Join(r.cwd, ".asd", "workspace", "tunnels")
	}
	return filepath.Join(dir, sessionID+".pid")
}

// TunnelLogFile returns the log-file path for the named tunnel session.
func (r *Resolver) TunnelLogFile(sessionID string) string {
	dir, err := r.TunnelsDir()
	if err != nil {
		dir = filepath.Join(r.cwd, ".asd", "workspace", "tunnels")
	}
	return filepath.Join(dir, sessionID+".log")
}

// CaddyDir returns the workspace's caddy directory, where the reverse
// proxy's PID file, log file, and static config live.
func (r *Resolver) CaddyDir() (string, error) {
	ws, err := r.ProjectWorkspace()
	if err != nil {
		return "", err
	}
	return r.ensureDir(filepath.Join(ws, "caddy"))
}

// DotenvPath returns the project's .env file, which sits at the project
// root rather than under the workspace (it is a file the user and other
// tools also read).
func (r *Resolver) DotenvPath() (string, error) {
	root, err := r.findProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, ".env"), nil
}

// CredentialsPath returns the user-level credential store file, under
// the ASD home rather than the per-project workspace (spec §4.4, §6).
func (r *Resolver) CredentialsPath() (string, error) {
	home, err := r.ASDHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "credentials.json"), nil
}

// StatusSocketPath returns the workspace-scoped loopback socket the
// local admin status surface binds to (SPEC_FULL §11.1): a Unix domain
// socket on Unix, a fixed loopback TCP address on Windows, since
// Windows has no net.Listen("unix", ...) support.
func (r *Resolver) StatusSocketPath() (string, error) {
	ws, err := r.ProjectWorkspace()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		return "127.0.0.1:47631", nil
	}
	return filepath.Join(ws, "status.sock"), nil
}

// AdminSocketPath returns the workspace-scoped socket the multiplexed
// local admin control-plane binds to (SPEC_FULL §11.1): health-ping and
// status-query RPCs, distinct from the plain-HTTP status socket
// StatusSocketPath returns.
func (r *Resolver) AdminSocketPath() (string, error) {
	ws, err := r.ProjectWorkspace()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		return "127.0.0.1:47632", nil
	}
	return filepath.Join(ws, "admin.sock"), nil
}

func (r *Resolver) findProjectRoot() (string, error) {
	dir := r.cwd
	for i := 0; i < maxAncestorWalk; i++ {
		candidate := filepath.Join(dir, ".asd")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	// No existing .asd found within the walk budget: the project root is
	// the original cwd, and .asd will be created there on first use.
	return r.cwd, nil
}

func (r *Resolver) ensureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create dir %s: %w", path, err)
	}
	return path, nil
}

// warnIfDoubled logs once per process if the resolved path contains a
// doubled .asd/.asd segment, except for recognized CI layouts (detected via
// the CI env var, which legitimately nests sandboxes).
func (r *Resolver) warnIfDoubled(p string) {
	if os.Getenv("CI") != "" {
		return
	}
	if filepath.Base(filepath.Dir(filepath.Dir(p))) == ".asd" {
		r.warnedDoubled.Do(func() {
			log.Warnf("doubled .asd path detected: %s", p)
		})
	}
}

func mustAbs(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func osDefaultHome() string {
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("LocalAppData"); v != "" {
			return filepath.Join(v, "asd")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local", "asd")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "asd")
	default:
		if v := os.Getenv("XDG_DATA_HOME"); v != "" {
			return filepath.Join(v, "asd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "asd")
	}
}
