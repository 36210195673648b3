//go:build unix

package lifecycle

import (
	"os"
	"os/signal"
	"syscall"
)

var (
	suspendSignals   = []os.Signal{syscall.SIGTSTP, syscall.SIGUSR1}
	terminateSignals = []os.Signal{syscall.SIGTERM, os.Interrupt}
)

// stopSelf stops the process the way the default SIGTSTP action would.
func stopSelf() {
	_ = syscall.Kill(os.Getpid(), syscall.SIGSTOP)
}

// raise restores default handling for sig and sends it to ourselves.
func raise(sig os.Signal) {
	signal.Reset(sig)
	if s, ok := sig.(syscall.Signal); ok {
		_ = syscall.Kill(os.Getpid(), s)
		return
	}
	os.Exit(1)
}
