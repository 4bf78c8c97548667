//go:build !windows

package supervisor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// isAlive reports whether pid names a live process, per the PID-file
// reclaim contract (spec §4.3 step 1-2). unix.Kill with signal 0 performs
// existence and permission checks without delivering a signal.
func isAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// setProcGroup configures a new process group for cmd's SysProcAttr so
// termination can target the whole tree. exec.Cmd requires the stdlib
// syscall.SysProcAttr type here; the process-group signal delivery itself
// goes through x/sys/unix in terminate below.
func setProcGroup(attr *syscall.SysProcAttr) {
	attr.Setpgid = true
}

// terminate implements the two-phase kill (spec §4.3): send a terminate
// signal to the process group (or the bare PID if killGroup is false),
// wait gentleMs, then send kill. Every syscall tolerates ESRCH ("process
// already gone") silently.
func terminate(pid int, killGroup bool, gentleNs func()) error {
	target := pid
	if killGroup {
		target = -pid
	}
	if err := unix.Kill(target, unix.SIGTERM); err != nil && err != unix.ESRCH {
		return err
	}
	gentleNs()
	if !isAlive(pid) {
		return nil
	}
	if err := unix.Kill(target, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}
