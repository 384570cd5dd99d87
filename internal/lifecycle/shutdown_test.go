package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	errDBClose       = errors.New("database close failed")
	errListenerStuck = errors.New("listener refused to stop")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exitRecorder stands in for os.Exit.
type exitRecorder struct {
	mu    sync.Mutex
	codes []int
	ch    chan int
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{ch: make(chan int, 8)}
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	e.codes = append(e.codes, code)
	e.mu.Unlock()
	e.ch <- code
}

func (e *exitRecorder) calls() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func (e *exitRecorder) wait(t *testing.T, timeout time.Duration) int {
	t.Helper()
	select {
	case code := <-e.ch:
		return code
	case <-time.After(timeout):
		t.Fatalf("process did not exit within %s", timeout)
		return -1
	}
}

// eventLog records the order in which the listener and resources act.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeListener struct {
	events *eventLog
	delay  time.Duration
}

func (f *fakeListener) StopAccepting(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.events.add("listener:stopped")
	return nil
}

type mockListener struct {
	mock.Mock
}

func (m *mockListener) StopAccepting(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// fakeResource sleeps for delay without honoring ctx, like a close that cannot be interrupted.
type fakeResource struct {
	name   string
	delay  time.Duration
	err    error
	events *eventLog
	calls  atomic.Int32
}

func (r *fakeResource) Name() string { return r.name }

func (r *fakeResource) Close(ctx context.Context) error {
	r.calls.Add(1)
	r.events.add("start:" + r.name)
	time.Sleep(r.delay)
	r.events.add("end:" + r.name)
	return r.err
}

func newCoordinator(t *testing.T, listener Listener, deadline time.Duration, resources ...Resource) (*Coordinator, *exitRecorder) {
	t.Helper()

	exits := newExitRecorder()
	c := NewCoordinator(listener, testLogger(), Config{Deadline: deadline, Exit: exits.exit})
	for _, r := range resources {
		require.NoError(t, c.Add(r))
	}

	return c, exits
}

func TestCoordinator_ClosesInRegistrationOrder(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", delay: 20 * time.Millisecond, events: events}
	ws := &fakeResource{name: "websocket", delay: 20 * time.Millisecond, events: events}
	child := &fakeResource{name: "child", delay: 10 * time.Millisecond, events: events}

	c, exits := newCoordinator(t, &fakeListener{events: events}, 10*time.Second, db, ws, child)

	sess := c.Shutdown(ReasonTerminate)
	require.NotNil(t, sess)

	assert.Equal(t, []int{0}, exits.calls())
	assert.Equal(t, 0, c.ExitCode())
	assert.Equal(t, StateTerminal, c.State())
	assert.Equal(t, OutcomeSuccess, sess.Outcome())
	assert.NoError(t, sess.Err())
	assert.Equal(t, []string{
		"listener:stopped",
		"start:database", "end:database",
		"start:websocket", "end:websocket",
		"start:child", "end:child",
	}, events.snapshot())

	outcomes := sess.Resources()
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, ResourceClosed, o.Status, o.Name)
		if i > 0 {
			prev := outcomes[i-1]
			assert.False(t, o.Started.Before(prev.Started.Add(prev.Elapsed)), "%s started before %s finished", o.Name, prev.Name)
		}
	}
}

func TestCoordinator_FailedCloseStillAttemptsRemaining(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", err: errDBClose, events: events}
	ws := &fakeResource{name: "websocket", events: events}
	child := &fakeResource{name: "child", events: events}

	c, exits := newCoordinator(t, &fakeListener{events: events}, 10*time.Second, db, ws, child)

	sess := c.Shutdown(ReasonInterrupt)
	require.NotNil(t, sess)

	assert.Equal(t, []int{1}, exits.calls())
	assert.Equal(t, OutcomeFailure, sess.Outcome())
	assert.ErrorIs(t, sess.Err(), errDBClose)

	for _, r := range []*fakeResource{db, ws, child} {
		assert.EqualValues(t, 1, r.calls.Load(), r.name)
	}

	outcomes := sess.Resources()
	assert.Equal(t, ResourceFailed, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, errDBClose)
	assert.Equal(t, ResourceClosed, outcomes[1].Status)
	assert.Equal(t, ResourceClosed, outcomes[2].Status)
}

func TestCoordinator_DeadlineForcesExit(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", delay: 600 * time.Millisecond, events: events}
	ws := &fakeResource{name: "websocket", events: events}
	child := &fakeResource{name: "child", events: events}

	deadline := 100 * time.Millisecond
	c, exits := newCoordinator(t, &fakeListener{events: events}, deadline, db, ws, child)

	start := time.Now()
	sess := c.Shutdown(ReasonTerminate)
	elapsed := time.Since(start)
	require.NotNil(t, sess)

	assert.Equal(t, []int{1}, exits.calls())
	assert.Equal(t, OutcomeTimeout, sess.Outcome())
	assert.GreaterOrEqual(t, elapsed, deadline)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.ErrorContains(t, sess.Err(), "while closing database")

	// let the abandoned close finish; its result must be discarded
	time.Sleep(700 * time.Millisecond)

	assert.Zero(t, ws.calls.Load())
	assert.Zero(t, child.calls.Load())
	outcomes := sess.Resources()
	assert.Equal(t, ResourceClosing, outcomes[0].Status)
	assert.Equal(t, ResourceOpen, outcomes[1].Status)
	assert.Equal(t, ResourceOpen, outcomes[2].Status)
	assert.Equal(t, []int{1}, exits.calls())
}

func TestCoordinator_SlowListenerCountsAgainstDeadline(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", events: events}

	c, exits := newCoordinator(t, &fakeListener{events: events, delay: time.Second}, 50*time.Millisecond, db)

	sess := c.Shutdown(ReasonTerminate)
	require.NotNil(t, sess)

	assert.Equal(t, []int{1}, exits.calls())
	assert.Equal(t, OutcomeTimeout, sess.Outcome())
	assert.Zero(t, db.calls.Load())
}

func TestCoordinator_ListenerFailureSkipsResources(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", events: events}

	listener := &mockListener{}
	listener.On("StopAccepting", mock.Anything).Return(errListenerStuck).Once()

	c, exits := newCoordinator(t, listener, time.Second, db)

	sess := c.Shutdown(ReasonTerminate)
	require.NotNil(t, sess)

	assert.Equal(t, []int{1}, exits.calls())
	assert.Equal(t, OutcomeFailure, sess.Outcome())
	assert.ErrorIs(t, sess.Err(), errListenerStuck)
	assert.Zero(t, db.calls.Load())
	listener.AssertExpectations(t)
}

func TestCoordinator_NilListenerProceedsImmediately(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", events: events}

	c, exits := newCoordinator(t, nil, time.Second, db)

	c.Shutdown(ReasonManual)

	assert.Equal(t, []int{0}, exits.calls())
	assert.EqualValues(t, 1, db.calls.Load())
}

func TestCoordinator_ReentrantTriggersRunOneSession(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", delay: 50 * time.Millisecond, events: events}

	c, exits := newCoordinator(t, &fakeListener{events: events}, time.Second, db)

	var (
		wg       sync.WaitGroup
		sessions atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Shutdown(ReasonInterrupt) != nil {
				sessions.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, sessions.Load())
	assert.EqualValues(t, 1, db.calls.Load())
	assert.Equal(t, []int{0}, exits.calls())
}

func TestCoordinator_PanickingCloseIsRecorded(t *testing.T) {
	events := &eventLog{}
	ws := &fakeResource{name: "websocket", events: events}

	c, exits := newCoordinator(t, nil, time.Second,
		NewResource("database", func(context.Context) error { panic("driver bug") }),
		ws,
	)

	sess := c.Shutdown(ReasonTerminate)

	assert.Equal(t, []int{1}, exits.calls())
	assert.EqualValues(t, 1, ws.calls.Load())
	assert.ErrorContains(t, sess.Err(), "driver bug")
}

func TestCoordinator_CrashSkipsResources(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", events: events}

	c, exits := newCoordinator(t, &fakeListener{events: events}, time.Second, db)

	c.Crash(ReasonPanic, "nil map assignment")

	assert.Equal(t, []int{1}, exits.calls())
	assert.Equal(t, StateTerminal, c.State())
	assert.Nil(t, c.Shutdown(ReasonTerminate))
	assert.Zero(t, db.calls.Load())
	assert.Empty(t, events.snapshot())
	assert.Error(t, c.Context().Err())
}

func TestCoordinator_CrashDuringSessionExitsOnce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := NewResource("database", func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	c, exits := newCoordinator(t, nil, 5*time.Second, blocking)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		c.Shutdown(ReasonTerminate)
	}()

	<-started
	c.Crash(ReasonUnhandledError, errors.New("worker failed"))
	assert.Equal(t, 1, exits.wait(t, time.Second))

	close(release)
	<-finished

	assert.Equal(t, []int{1}, exits.calls())
}

func TestCoordinator_GoPanicTakesCrashPath(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", events: events}

	c, exits := newCoordinator(t, nil, time.Second, db)

	c.Go("worker", func(context.Context) error {
		var m map[string]int
		m["boom"]++
		return nil
	})

	assert.Equal(t, 1, exits.wait(t, time.Second))
	assert.Zero(t, db.calls.Load())
}

func TestCoordinator_GoUnhandledErrorTakesCrashPath(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", events: events}

	c, exits := newCoordinator(t, nil, time.Second, db)

	c.Go("http", func(context.Context) error {
		return errors.New("listen tcp :3000: address already in use")
	})

	assert.Equal(t, 1, exits.wait(t, time.Second))
	assert.Zero(t, db.calls.Load())
}

func TestCoordinator_GoCancelledTaskDoesNotCrash(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", events: events}

	c, exits := newCoordinator(t, nil, time.Second, db)

	stopped := make(chan struct{})
	c.Go("ticker", func(ctx context.Context) error {
		defer close(stopped)
		<-ctx.Done()
		return ctx.Err()
	})

	c.Shutdown(ReasonTerminate)
	<-stopped

	assert.Equal(t, []int{0}, exits.calls())
	assert.EqualValues(t, 1, db.calls.Load())
}

func TestCoordinator_RecoverTakesCrashPath(t *testing.T) {
	c, exits := newCoordinator(t, nil, time.Second)

	func() {
		defer c.Recover()
		panic("startup failed")
	}()

	assert.Equal(t, []int{1}, exits.calls())
}

func TestCoordinator_RunIgnoresRepeatedSignals(t *testing.T) {
	events := &eventLog{}
	db := &fakeResource{name: "database", delay: 50 * time.Millisecond, events: events}

	signals := make(chan os.Signal, 3)
	exits := newExitRecorder()
	c := NewCoordinator(&fakeListener{events: events}, testLogger(), Config{
		Deadline: time.Second,
		Exit:     exits.exit,
		Signals:  signals,
	})
	require.NoError(t, c.Add(db))

	signals <- os.Interrupt
	signals <- os.Interrupt
	signals <- os.Interrupt

	code := c.Run(context.Background())

	assert.Equal(t, 0, code)
	assert.Equal(t, []int{0}, exits.calls())
	assert.EqualValues(t, 1, db.calls.Load())
	require.NotNil(t, c.Session())
	assert.Equal(t, ReasonInterrupt, c.Session().Reason)
}

func TestCoordinator_RunShutsDownOnContextCancel(t *testing.T) {
	exits := newExitRecorder()
	c := NewCoordinator(nil, testLogger(), Config{
		Deadline: time.Second,
		Exit:     exits.exit,
		Signals:  make(chan os.Signal),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, c.Run(ctx))
	assert.Equal(t, ReasonContext, c.Session().Reason)
}

func TestCoordinator_AddAfterShutdown(t *testing.T) {
	c, _ := newCoordinator(t, nil, time.Second)
	c.Shutdown(ReasonManual)

	assert.ErrorIs(t, c.Add(NewResource("late", func(context.Context) error { return nil })), ErrSessionStarted)
	assert.NoError(t, c.Register("nil", nil))
}

type countingRecorder struct {
	mu       sync.Mutex
	states   []State
	closed   map[string]ResourceStatus
	outcomes []Outcome
	crashes  []Reason
}

func (r *countingRecorder) StateChanged(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *countingRecorder) ResourceClosed(name string, status ResourceStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		r.closed = make(map[string]ResourceStatus)
	}
	r.closed[name] = status
}

func (r *countingRecorder) SessionFinished(_ Reason, outcome Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *countingRecorder) Crashed(reason Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crashes = append(r.crashes, reason)
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Handle(_ context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func TestCoordinator_ReportsToRecorderAndReporter(t *testing.T) {
	rec := &countingRecorder{}
	rep := &recordingReporter{}
	exits := newExitRecorder()

	c := NewCoordinator(nil, testLogger(), Config{
		Deadline: time.Second,
		Exit:     exits.exit,
		Recorder: rec,
		Reporter: rep,
	})
	require.NoError(t, c.Register("database", func(context.Context) error { return errDBClose }))
	require.NoError(t, c.Register("websocket", func(context.Context) error { return nil }))

	c.Shutdown(ReasonTerminate)

	assert.Equal(t, []State{StateDraining, StateClosing, StateTerminal}, rec.states)
	assert.Equal(t, map[string]ResourceStatus{"database": ResourceFailed, "websocket": ResourceClosed}, rec.closed)
	assert.Equal(t, []Outcome{OutcomeFailure}, rec.outcomes)
	require.Len(t, rep.errs, 1)
	assert.ErrorIs(t, rep.errs[0], errDBClose)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func TestCoordinator_LogsEachTransition(t *testing.T) {
	events := &eventLog{}
	out := &syncBuffer{}
	exits := newExitRecorder()
	c := NewCoordinator(&fakeListener{events: events}, slog.New(slog.NewJSONHandler(out, nil)), Config{Deadline: 10 * time.Second, Exit: exits.exit})
	for _, name := range []string{"database", "websocket", "child"} {
		require.NoError(t, c.Add(&fakeResource{name: name, delay: 5 * time.Millisecond, events: events}))
	}

	c.Shutdown(ReasonInterrupt)

	var got []string
	for _, rec := range out.lines(t) {
		msg, _ := rec["msg"].(string)
		if resource, ok := rec["resource"].(string); ok {
			msg += " " + resource
		}
		got = append(got, msg)
	}

	assert.Equal(t, []string{
		"shutdown signal received, draining",
		"listener stopped, no new requests are being accepted",
		"closing resource database",
		"resource closed database",
		"closing resource websocket",
		"resource closed websocket",
		"closing resource child",
		"resource closed child",
		"graceful shutdown complete",
		"process exiting",
	}, got)
}
