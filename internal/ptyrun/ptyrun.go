// Package ptyrun runs a command attached to a pseudo-terminal so its
// full-screen/interactive output (a shell, a REPL) streams correctly
// to the invoking terminal instead of the line-buffered output
// exec.Cmd.Run gives a plain pipe. Grounded in the teacher's foreground
// daemon mode (supervisor.RunForeground) and the nupi pty wrapper
// (internal/pty/wrapper.go), trimmed to the one shape the "terminal"
// helper service needs: attach, copy both directions, resize on SIGWINCH.
package ptyrun

import (
	"io"
	"os"
	"os/exec"
	"os/signal"

	"github.com/creack/pty"
)

// Attach starts argv0(argv...) inside a pty, wires stdin to the pty's
// input and the pty's output to stdout, propagates terminal resizes for
// the lifetime of the process, and blocks until the command exits.
func Attach(cmdName string, args []string, env []string, workDir string, stdin io.Reader, stdout io.Writer) error {
	c := exec.Command(cmdName, args...)
	if env != nil {
		c.Env = env
	}
	c.Dir = workDir

	f, err := pty.Start(c)
	if err != nil {
		return err
	}
	defer f.Close()

	sigCh := make(chan os.Signal, 1)
	notifyResize(sigCh)
	defer signal.Stop(sigCh)
	_ = pty.InheritSize(os.Stdin, f)
	go func() {
		for range sigCh {
			_ = pty.InheritSize(os.Stdin, f)
		}
	}()

	go io.Copy(f, stdin)
	copyDone := make(chan struct{})
	go func() {
		io.Copy(stdout, f)
		close(copyDone)
	}()

	err = c.Wait()
	<-copyDone
	return err
}
