package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
)

// Run waits for a termination signal or ctx cancellation, runs one graceful
// session and returns the exit code. Signals arriving while the session is
// in progress are logged and ignored.
func (c *Coordinator) Run(ctx context.Context) int {
	sigCh := c.signals
	if sigCh == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, terminationSignals...)
		defer signal.Stop(ch)
		sigCh = ch
	}

	ctxDone := ctx.Done()
	for {
		select {
		case sig := <-sigCh:
			c.log.Info("signal received", slog.String("signal", sig.String()))
			go c.Shutdown(reasonForSignal(sig))
		case <-ctxDone:
			ctxDone = nil
			go c.Shutdown(ReasonContext)
		case <-c.done:
			return c.ExitCode()
		}
	}
}

// Context is cancelled as soon as a session starts or the process crashes.
// Supervised tasks receive it.
func (c *Coordinator) Context() context.Context {
	return c.tasksCtx
}

// Go runs fn as a supervised background task. A panic in fn triggers the
// crash path with ReasonPanic; an error returned while no shutdown is in
// progress triggers it with ReasonUnhandledError.
func (c *Coordinator) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("supervised task panicked",
					slog.String("task", name),
					slog.String("stack", string(debug.Stack())),
				)
				c.Crash(ReasonPanic, r)
			}
		}()

		err := fn(c.tasksCtx)
		if err == nil {
			return
		}
		if c.State() != StateIdle && errors.Is(err, context.Canceled) {
			return
		}

		c.Crash(ReasonUnhandledError, fmt.Errorf("%s: %w", name, err))
	}()
}

// Recover turns a panic into the crash path. Use it directly in a defer:
//
//	defer coordinator.Recover()
func (c *Coordinator) Recover() {
	if r := recover(); r != nil {
		c.log.Error("uncaught panic", slog.String("stack", string(debug.Stack())))
		c.Crash(ReasonPanic, r)
	}
}
