package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Proton-105/shutdown-sequencer/internal/errors"
	"github.com/Proton-105/shutdown-sequencer/pkg/logger"
)

// DefaultDeadline bounds a graceful session when Config.Deadline is unset.
const DefaultDeadline = 10 * time.Second

// ErrSessionStarted is returned when resources are registered after shutdown began.
var ErrSessionStarted = errors.New("shutdown session already started")

// ErrorReporter receives classified failures, e.g. to forward them to Sentry.
type ErrorReporter interface {
	Handle(ctx context.Context, err error)
}

// Config tunes a Coordinator. Zero values pick defaults.
type Config struct {
	// Deadline bounds the whole graceful session, listener drain included.
	Deadline time.Duration

	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)

	// Signals overrides OS signal delivery in Run.
	Signals <-chan os.Signal

	Recorder Recorder
	Reporter ErrorReporter
}

// Coordinator sequences graceful shutdown: stop the listener, close resources
// one by one in registration order, then exit. At most one session runs per
// coordinator and the exit function is called exactly once.
type Coordinator struct {
	listener Listener
	log      *slog.Logger
	deadline time.Duration
	exitFn   func(int)
	signals  <-chan os.Signal
	recorder Recorder
	reporter ErrorReporter

	mu        sync.Mutex
	resources []Resource
	session   *Session

	state    atomic.Int32
	exitOnce sync.Once
	exitCode atomic.Int32
	done     chan struct{}

	tasksCtx    context.Context
	cancelTasks context.CancelFunc
}

// NewCoordinator constructs a coordinator for listener. A nil listener counts as already stopped.
func NewCoordinator(listener Listener, log *slog.Logger, cfg Config) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	tasksCtx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		listener:    listener,
		log:         log.With(slog.String("component", "shutdown")),
		deadline:    cfg.Deadline,
		exitFn:      cfg.Exit,
		signals:     cfg.Signals,
		recorder:    cfg.Recorder,
		reporter:    cfg.Reporter,
		done:        make(chan struct{}),
		tasksCtx:    tasksCtx,
		cancelTasks: cancel,
	}
}

// Register adds a named close function as the next resource.
func (c *Coordinator) Register(name string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}

	return c.Add(NewResource(name, fn))
}

// Add appends r to the close order. It fails once a session has started.
func (c *Coordinator) Add(r Resource) error {
	if r == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateIdle {
		return ErrSessionStarted
	}

	c.resources = append(c.resources, r)
	c.log.Debug("resource registered", slog.String("resource", r.Name()), slog.Int("position", len(c.resources)))

	return nil
}

// State reports the current state machine position.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Session returns the graceful session, or nil if none has started.
func (c *Coordinator) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session
}

// Done is closed right before the exit function is invoked.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// ExitCode is the code passed to the exit function; valid once Done is closed.
func (c *Coordinator) ExitCode() int {
	return int(c.exitCode.Load())
}

// Shutdown runs a graceful session for reason and exits. If a session is
// already running the trigger is ignored and nil is returned. With a real
// exit function Shutdown does not return.
func (c *Coordinator) Shutdown(reason Reason) *Session {
	// check-and-set before any suspension point so concurrent triggers cannot both win
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		c.log.Warn("shutdown already in progress, trigger ignored",
			slog.String("reason", string(reason)),
			slog.String("state", c.State().String()),
		)
		return nil
	}
	c.recorder.StateChanged(StateDraining)
	c.cancelTasks()

	c.mu.Lock()
	resources := append([]Resource(nil), c.resources...)
	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = r.Name()
	}
	sess := newSession(reason, c.deadline, names)
	c.session = sess
	c.mu.Unlock()

	ctx := logger.ContextWithCorrelationID(context.Background(), sess.ID)
	log := c.log.With(slog.String("session_id", sess.ID), slog.String("reason", string(reason)))
	log.Info("shutdown signal received, draining",
		slog.Duration("deadline", c.deadline),
		slog.Int("resource_count", len(resources)),
	)

	deadlineCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- c.sequence(deadlineCtx, log, sess, resources)
	}()

	var (
		outcome Outcome
		err     error
	)
	select {
	case err = <-result:
		switch {
		case deadlineCtx.Err() != nil:
			outcome, err = OutcomeTimeout, apperrors.NewDeadlineError(c.deadline, sess.inFlight())
		case err != nil:
			outcome = OutcomeFailure
		default:
			outcome = OutcomeSuccess
		}
	case <-deadlineCtx.Done():
		outcome, err = OutcomeTimeout, apperrors.NewDeadlineError(c.deadline, sess.inFlight())
	}

	sess.finish(outcome, err)
	c.recorder.SessionFinished(reason, outcome, sess.Elapsed())

	switch outcome {
	case OutcomeSuccess:
		log.Info("graceful shutdown complete", slog.Duration("elapsed", sess.Elapsed()))
	case OutcomeTimeout:
		c.report(ctx, err)
		log.Error("forcing shutdown due to timeout", slog.Duration("elapsed", sess.Elapsed()), slog.Any("error", err))
	default:
		log.Error("shutdown finished with errors", slog.Duration("elapsed", sess.Elapsed()), slog.Any("error", err))
	}

	c.exit(outcome.ExitCode())

	return sess
}

// sequence stops the listener and then closes resources strictly one after another.
// It stops starting new closes once ctx is done; a close that finishes after that is discarded.
func (c *Coordinator) sequence(ctx context.Context, log *slog.Logger, sess *Session, resources []Resource) error {
	if c.listener != nil {
		if err := c.listener.StopAccepting(ctx); err != nil {
			appErr := apperrors.NewListenerStopError(err)
			if ctx.Err() == nil {
				log.Error("failed to stop listener, skipping resource closes", slog.Any("error", err))
				c.report(ctx, appErr)
			}
			return appErr
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Info("listener stopped, no new requests are being accepted")

	if c.state.CompareAndSwap(int32(StateDraining), int32(StateClosing)) {
		c.recorder.StateChanged(StateClosing)
	}

	var errs []error
	for i, r := range resources {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := r.Name()
		sess.markClosing(i)
		log.Info("closing resource", slog.String("resource", name), slog.Int("position", i+1))

		err := closeResource(ctx, r)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		elapsed := sess.markDone(i, err)
		if err != nil {
			appErr := apperrors.NewResourceCloseError(name, err)
			log.Error("resource close failed", slog.String("resource", name), slog.Duration("elapsed", elapsed), slog.Any("error", err))
			c.report(ctx, appErr)
			c.recorder.ResourceClosed(name, ResourceFailed, elapsed)
			errs = append(errs, appErr)
			continue
		}

		log.Info("resource closed", slog.String("resource", name), slog.Duration("elapsed", elapsed))
		c.recorder.ResourceClosed(name, ResourceClosed, elapsed)
	}

	return errors.Join(errs...)
}

func closeResource(ctx context.Context, r Resource) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("close panicked: %v", rec)
		}
	}()

	return r.Close(ctx)
}

// Crash exits with status 1 immediately, without draining anything.
// It is safe to call while a graceful session is running.
func (c *Coordinator) Crash(reason Reason, fault any) {
	previous := State(c.state.Swap(int32(StateTerminal)))
	c.cancelTasks()

	appErr := apperrors.NewCrashError(string(reason), fault)

	ctx := context.Background()
	if sess := c.Session(); sess != nil {
		ctx = logger.ContextWithCorrelationID(ctx, sess.ID)
	}

	c.log.Error("fatal fault, exiting without draining",
		slog.String("reason", string(reason)),
		slog.String("previous_state", previous.String()),
		slog.Any("error", appErr),
	)
	c.report(ctx, appErr)
	c.recorder.Crashed(reason)

	c.exit(1)
}

func (c *Coordinator) exit(code int) {
	c.exitOnce.Do(func() {
		c.exitCode.Store(int32(code))
		c.state.Store(int32(StateTerminal))
		c.recorder.StateChanged(StateTerminal)
		c.log.Info("process exiting", slog.Int("exit_code", code))
		close(c.done)
		c.exitFn(code)
	})
}

func (c *Coordinator) report(ctx context.Context, err error) {
	if c.reporter != nil && err != nil {
		c.reporter.Handle(ctx, err)
	}
}
