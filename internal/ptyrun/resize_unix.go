//go:build !windows

package ptyrun

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyResize subscribes ch to SIGWINCH, the terminal-resize signal
// every Unix-like OS delivers.
func notifyResize(ch chan os.Signal) {
	signal.Notify(ch, syscall.SIGWINCH)
}
