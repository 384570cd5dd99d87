package lifecycle

import "time"

// Recorder observes coordinator progress, typically to export metrics.
type Recorder interface {
	StateChanged(state State)
	ResourceClosed(resource string, status ResourceStatus, elapsed time.Duration)
	SessionFinished(reason Reason, outcome Outcome, elapsed time.Duration)
	Crashed(reason Reason)
}

type nopRecorder struct{}

func (nopRecorder) StateChanged(State) {}
func (nopRecorder) ResourceClosed(string, ResourceStatus, time.Duration) {}
func (nopRecorder) SessionFinished(Reason, Outcome, time.Duration) {}
func (nopRecorder) Crashed(Reason) {}
