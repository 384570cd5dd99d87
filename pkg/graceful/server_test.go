package graceful

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, handler http.Handler) (*Server, string, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(testLogger(), &http.Server{Handler: handler, ReadHeaderTimeout: time.Second})
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	return srv, ln.Addr().String(), served
}

func TestServer_StopAcceptingWaitsForInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv, addr, served := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))

	respCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/slow")
		if err == nil {
			respCh <- resp
		}
		close(respCh)
	}()
	<-entered
	assert.EqualValues(t, 1, srv.InFlight())

	stopped := make(chan error, 1)
	go func() { stopped <- srv.StopAccepting(context.Background()) }()

	assert.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return true
		}
		_ = conn.Close()
		return false
	}, time.Second, 10*time.Millisecond, "listener should stop accepting")

	select {
	case <-stopped:
		t.Fatal("StopAccepting returned while a request was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	require.NoError(t, <-stopped)
	resp := <-respCh
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NoError(t, <-served)
	assert.Zero(t, srv.InFlight())
}

func TestServer_StopAcceptingHonorsContext(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	srv, addr, _ := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	go func() {
		resp, err := http.Get("http://" + addr + "/stuck")
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := srv.StopAccepting(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, srv.StopAccepting(context.Background()), context.DeadlineExceeded, "result is sticky")
}

func TestServer_IdleStopsImmediately(t *testing.T) {
	srv, _, served := startServer(t, http.NotFoundHandler())

	start := time.Now()
	require.NoError(t, srv.StopAccepting(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.NoError(t, <-served)
}

func TestServer_ListenAndServeBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(testLogger(), &http.Server{Addr: ln.Addr().String(), ReadHeaderTimeout: time.Second})
	assert.Error(t, srv.ListenAndServe())
}

func TestServer_SetHandler(t *testing.T) {
	srv, addr, _ := startServer(t, nil)
	srv.SetHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(func() { _ = srv.StopAccepting(context.Background()) })

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
