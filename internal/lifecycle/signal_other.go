//go:build !unix

package lifecycle

import "os"

var (
	suspendSignals   []os.Signal
	terminateSignals = []os.Signal{os.Interrupt}
)

func stopSelf() {}

func raise(os.Signal) {
	os.Exit(1)
}
