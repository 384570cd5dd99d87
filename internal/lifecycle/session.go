package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the coordinator's position in the shutdown state machine.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StateClosing
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateClosing:
		return "closing"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Reason names what triggered a shutdown or crash.
type Reason string

const (
	ReasonInterrupt Reason = "interrupt"
	ReasonTerminate Reason = "terminate"
	ReasonContext   Reason = "context"
	ReasonManual    Reason = "manual"

	// Crash-path reasons; these never drain resources.
	ReasonPanic          Reason = "uncaught_panic"
	ReasonUnhandledError Reason = "unhandled_error"
)

// Outcome is the terminal result of a session.
type Outcome string

const (
	OutcomePending Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// ExitCode maps the outcome to a process status.
func (o Outcome) ExitCode() int {
	if o == OutcomeSuccess {
		return 0
	}
	return 1
}

type ResourceStatus string

const (
	ResourceOpen    ResourceStatus = "open"
	ResourceClosing ResourceStatus = "closing"
	ResourceClosed  ResourceStatus = "closed"
	ResourceFailed  ResourceStatus = "failed"
)

// ResourceOutcome is the per-resource record of a session.
type ResourceOutcome struct {
	Name    string
	Status  ResourceStatus
	Started time.Time
	Elapsed time.Duration
	Err     error
}

// Session is one graceful shutdown attempt, from trigger to exit.
// It is safe for concurrent use; an abandoned close may still report into it after the deadline.
type Session struct {
	ID       string
	Reason   Reason
	Started  time.Time
	Deadline time.Time

	mu        sync.Mutex
	resources []ResourceOutcome
	outcome   Outcome
	err       error
	finished  time.Time
}

func newSession(reason Reason, deadline time.Duration, names []string) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Reason:    reason,
		Started:   now,
		Deadline:  now.Add(deadline),
		resources: make([]ResourceOutcome, len(names)),
	}
	for i, name := range names {
		s.resources[i] = ResourceOutcome{Name: name, Status: ResourceOpen}
	}

	return s
}

// Resources returns a snapshot of the per-resource outcomes in registration order.
func (s *Session) Resources() []ResourceOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ResourceOutcome(nil), s.resources...)
}

// Outcome returns OutcomePending until the session is finished.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.outcome
}

// Err returns the error that failed the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// ExitCode returns the process status the session resolves to.
func (s *Session) ExitCode() int {
	return s.Outcome().ExitCode()
}

// Elapsed returns the session duration, measured up to now while still running.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished.IsZero() {
		return time.Since(s.Started)
	}
	return s.finished.Sub(s.Started)
}

// inFlight names the resource currently closing, if any.
func (s *Session) inFlight() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.resources {
		if r.Status == ResourceClosing {
			return r.Name
		}
	}
	return ""
}

func (s *Session) markClosing(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resources[i].Status = ResourceClosing
	s.resources[i].Started = time.Now()
}

func (s *Session) markDone(i int, err error) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &s.resources[i]
	r.Elapsed = time.Since(r.Started)
	r.Err = err
	if err != nil {
		r.Status = ResourceFailed
	} else {
		r.Status = ResourceClosed
	}

	return r.Elapsed
}

// finish records the terminal outcome once; later calls are ignored.
func (s *Session) finish(outcome Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome != OutcomePending {
		return
	}

	s.outcome = outcome
	s.err = err
	s.finished = time.Now()
}
