package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/kfsoftware/asd/internal/readiness"
)

func TestReclaimStaleRemovesDeadPID(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "daemon.pid")
	// A PID astronomically unlikely to be alive.
	if err := writePIDFile(pidFile, 999999); err != nil {
		t.Fatal(err)
	}

	removed, live, err := reclaimStale(pidFile)
	if err != nil {
		t.Fatalf("reclaimStale: %v", err)
	}
	if !removed || live != 0 {
		t.Fatalf("expected stale pid to be reclaimed, got removed=%v live=%d", removed, live)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("expected pid file to be gone")
	}
}

func TestReclaimStaleKeepsLivePID(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "daemon.pid")
	if err := writePIDFile(pidFile, os.Getpid()); err != nil {
		t.Fatal(err)
	}

	removed, live, err := reclaimStale(pidFile)
	if err != nil {
		t.Fatalf("reclaimStale: %v", err)
	}
	if removed || live != os.Getpid() {
		t.Fatalf("expected live pid to be kept, got removed=%v live=%d", removed, live)
	}
}

// TestStartThenAlreadyRunning exercises the already-running short circuit:
// starting a daemon twice against the same PID file should report
// already-running on the second call without spawning a second process.
func TestStartThenAlreadyRunning(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "daemon.pid")
	logFile := filepath.Join(dir, "daemon.log")

	spec := DaemonSpec{
		Name:       "sleepy",
		BinaryPath: "sleep",
		Argv:       []string{"5"},
		Env:        os.Environ(),
		PIDFile:    pidFile,
		LogFile:    logFile,
		Readiness:  readiness.Spec{TCP: &readiness.TCPCheck{HostPort: "127.0.0.1:1"}},
		Budget:     readiness.Budget{Timeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond},
		MinUptime:  0,
	}

	res, err := Start(context.Background(), spec)
	if err != nil && res.Status != StatusStarted {
		// TCP readiness against a closed port always fails, but the spec
		// says that still yields a valid "started" terminal status when
		// the process is alive (§9); Start only returns an error when the
		// process itself died.
		t.Fatalf("unexpected start failure: %v", err)
	}
	defer Stop(pidFile, true, 50*time.Millisecond)

	res2, err := Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if res2.Status != StatusAlreadyRunning {
		t.Fatalf("expected already-running, got %s", res2.Status)
	}
	if res2.PID != res.PID {
		t.Fatalf("expected same pid, got %d want %d", res2.PID, res.PID)
	}
}

func TestStopRemovesPIDFile(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "daemon.pid")
	logFile := filepath.Join(dir, "daemon.log")

	spec := DaemonSpec{
		Name:       "sleepy",
		BinaryPath: "sleep",
		Argv:       []string{"5"},
		Env:        os.Environ(),
		PIDFile:    pidFile,
		LogFile:    logFile,
		Readiness:  readiness.Spec{TCP: &readiness.TCPCheck{HostPort: "127.0.0.1:1"}},
		Budget:     readiness.Budget{Timeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond},
	}
	if _, err := Start(context.Background(), spec); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := Stop(pidFile, true, 50*time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed after stop")
	}

	res, err := Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	if res.Status == StatusAlreadyRunning {
		t.Fatalf("expected fresh start after stop, got already-running")
	}
	Stop(pidFile, true, 50*time.Millisecond)
}
