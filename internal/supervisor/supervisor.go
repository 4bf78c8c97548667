// Package supervisor implements the daemon and foreground process
// contracts: spawn, PID-file lifecycle, signal-escalated termination, and
// readiness-gated warmup with an optional single crash-retry (spec §4.3).
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/schollz/logger"

	"github.com/kfsoftware/asd/internal/asderrors"
	"github.com/kfsoftware/asd/internal/readiness"
)

// Status is the terminal outcome of a Start call.
type Status string

const (
	StatusAlreadyRunning Status = "already-running"
	StatusStarted        Status = "started"
	StatusFailed         Status = "failed"
)

// RetryPolicy gates the single warmup-crash retry.
type RetryPolicy string

const (
	RetryOnFailure RetryPolicy = "on-failure"
	RetryNever     RetryPolicy = "never"
)

// DaemonSpec describes a single supervised daemon.
type DaemonSpec struct {
	Name       string
	BinaryPath string
	Argv       []string
	Env        []string
	Cwd        string
	PIDFile    string
	LogFile    string

	Readiness   readiness.Spec
	Budget      readiness.Budget
	MinUptime   time.Duration
	RetryPolicy RetryPolicy
}

// Result describes the outcome of a Start call.
type Result struct {
	Status Status
	PID    int
}

const startupSettleDelay = 150 * time.Millisecond

// Start implements the daemon contract of spec §4.3.
func Start(ctx context.Context, spec DaemonSpec) (Result, error) {
	if removed, livePID, err := reclaimOrReportRunning(spec.PIDFile); err != nil {
		return Result{}, asderrors.New(asderrors.KindTransient, spec.Name, err)
	} else if !removed && livePID != 0 {
		return Result{Status: StatusAlreadyRunning, PID: livePID}, nil
	}

	res, startedAt, err := spawnOnce(spec)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}

	readyErr := waitReady(ctx, spec)
	if readyErr == nil {
		return res, nil
	}

	uptime := time.Since(startedAt)
	processAlive := isAlive(res.PID)

	if processAlive && uptime < spec.MinUptime && spec.RetryPolicy == RetryOnFailure {
		log.Warnf("%s: readiness not reached within min uptime, retrying once", spec.Name)
		_ = stopProcess(res.PID, spec.PIDFile, true, 2*time.Second)
		retrySpec := spec
		retrySpec.RetryPolicy = RetryNever
		return Start(ctx, retrySpec)
	}

	if !processAlive {
		_ = removePIDFile(spec.PIDFile)
		return Result{Status: StatusFailed}, asderrors.Wrapf(asderrors.KindSpawn, spec.Name, readyErr, "daemon exited before becoming ready")
	}

	// Readiness timed out but the process is alive: per spec §9 this is a
	// valid terminal "started" status — callers may re-probe.
	return res, nil
}

// IsAlive reports whether pid names a live process, for callers outside
// this package that need to distinguish a degraded-but-alive daemon from
// one that has already exited (spec §4.5 failure semantics).
func IsAlive(pid int) bool {
	return isAlive(pid)
}

// WaitExit polls pid until it is no longer alive or ctx is cancelled.
// The spawned daemon is detached (its *os.Process handle was released at
// spawn time per spec §4.3 step 4), so this is a liveness poll rather
// than a wait(2) on an owned child.
func WaitExit(ctx context.Context, pid int) error {
	const pollInterval = 2 * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if !isAlive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func reclaimOrReportRunning(pidFile string) (removed bool, livePID int, err error) {
	return reclaimStale(pidFile)
}

func spawnOnce(spec DaemonSpec) (Result, time.Time, error) {
	binary := spec.BinaryPath
	if !filepath.IsAbs(binary) {
		resolved, err := exec.LookPath(binary)
		if err != nil {
			return Result{}, time.Time{}, asderrors.Wrapf(asderrors.KindSpawn, spec.Name, err, "resolve binary %s on PATH", binary)
		}
		binary = resolved
	}

	logFile, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Result{}, time.Time{}, asderrors.Wrapf(asderrors.KindSpawn, spec.Name, err, "open log file %s", spec.LogFile)
	}
	defer logFile.Close()

	cmd := exec.Command(binary, spec.Argv...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Cwd
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{}
	setProcGroup(cmd.SysProcAttr)

	if err := cmd.Start(); err != nil {
		return Result{}, time.Time{}, asderrors.Wrapf(asderrors.KindSpawn, spec.Name, err, "spawn %s", binary)
	}

	pid := cmd.Process.Pid
	// Release so the parent can exit independently of the child; the PID
	// file, not a goroutine wait, now owns the daemon's lifecycle.
	if err := cmd.Process.Release(); err != nil {
		log.Warnf("%s: failed to release process handle: %v", spec.Name, err)
	}

	if err := writePIDFile(spec.PIDFile, pid); err != nil {
		return Result{}, time.Time{}, asderrors.Wrapf(asderrors.KindSpawn, spec.Name, err, "write pid file")
	}

	startedAt := time.Now()
	time.Sleep(startupSettleDelay)
	if !isAlive(pid) {
		_ = removePIDFile(spec.PIDFile)
		return Result{Status: StatusFailed}, startedAt, asderrors.New(asderrors.KindSpawn, spec.Name, fmt.Errorf("process exited immediately after spawn"))
	}

	return Result{Status: StatusStarted, PID: pid}, startedAt, nil
}

func waitReady(ctx context.Context, spec DaemonSpec) error {
	budget := spec.Budget
	if budget.Timeout == 0 {
		budget = readiness.DefaultBudget()
	}
	return readiness.Wait(ctx, budget.CIMultiplied(), spec.Readiness)
}

// Stop implements the two-phase termination contract (spec §4.3, §8
// "two-phase kill"): terminate the process group (or the bare PID when
// killGroup is false), wait gentleMs, then kill. The PID file is removed
// once the process is confirmed gone.
func Stop(pidFile string, killGroup bool, gentleMs time.Duration) error {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return err
	}
	if pid == 0 {
		return nil
	}
	return stopProcess(pid, pidFile, killGroup, gentleMs)
}

func stopProcess(pid int, pidFile string, killGroup bool, gentleMs time.Duration) error {
	err := terminate(pid, killGroup, func() { time.Sleep(gentleMs) })
	if err != nil {
		return asderrors.New(asderrors.KindTransient, "", err)
	}
	return removePIDFile(pidFile)
}

// RunForeground implements the foreground contract (spec §4.3): launch cmd
// under a cleanup wrapper that forwards termination signals to the whole
// process group, streaming stdout/stderr to the parent console and
// optionally teeing to a log file.
func RunForeground(ctx context.Context, binary string, argv []string, env []string, cwd string, teeLog io.Writer) error {
	cmd := exec.CommandContext(ctx, binary, argv...)
	cmd.Env = env
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{}
	setProcGroup(cmd.SysProcAttr)

	if teeLog != nil {
		cmd.Stdout = io.MultiWriter(os.Stdout, teeLog)
		cmd.Stderr = io.MultiWriter(os.Stderr, teeLog)
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return asderrors.Wrapf(asderrors.KindSpawn, "", err, "spawn %s", binary)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case sig := <-sigCh:
		log.Infof("forwarding %s to process group", sig)
		_ = terminate(cmd.Process.Pid, true, func() { time.Sleep(2 * time.Second) })
		return <-done
	case err := <-done:
		return err
	}
}
