//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

// terminationSignals lists the signals that start a graceful session.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func reasonForSignal(sig os.Signal) Reason {
	if sig == syscall.SIGTERM {
		return ReasonTerminate
	}
	return ReasonInterrupt
}
