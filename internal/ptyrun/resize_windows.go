//go:build windows

package ptyrun

import "os"

// notifyResize is a no-op on Windows: there is no SIGWINCH, and
// creack/pty's pty.Start does not support conpty resize forwarding
// the way this package's Attach assumes.
func notifyResize(ch chan os.Signal) {}
