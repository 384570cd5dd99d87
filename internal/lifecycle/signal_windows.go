//go:build windows

package lifecycle

import "os"

// terminationSignals lists the signals that start a graceful session.
// Windows only delivers os.Interrupt; console close events map onto it.
var terminationSignals = []os.Signal{os.Interrupt}

func reasonForSignal(os.Signal) Reason {
	return ReasonInterrupt
}
