package graceful

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

// Server wraps http.Server so it can act as the shutdown listener:
// StopAccepting closes the listening socket and waits for in-flight requests.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
	next       http.Handler

	inFlight atomic.Int64
	stopOnce sync.Once
	stopErr  error
}

// NewServer constructs a graceful server wrapper and installs it as srv's handler.
func NewServer(log *slog.Logger, srv *http.Server) *Server {
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		httpServer: srv,
		log:        log,
	}

	if srv != nil {
		s.next = srv.Handler
		srv.Handler = s
	}

	return s
}

// SetHandler replaces the wrapped handler. It must be called before serving.
func (s *Server) SetHandler(h http.Handler) {
	s.next = h
}

// ServeHTTP counts the request as in flight while delegating to the wrapped handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	next := s.next
	if next == nil {
		next = http.DefaultServeMux
	}
	next.ServeHTTP(w, r)
}

// ListenAndServe binds the configured address and serves until StopAccepting is called.
// It returns nil after a graceful stop.
func (s *Server) ListenAndServe() error {
	if s.httpServer == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	return s.Serve(ln)
}

// Serve accepts connections on ln until StopAccepting is called.
func (s *Server) Serve(ln net.Listener) error {
	if s.httpServer == nil {
		return nil
	}

	s.log.Info("http server listening", slog.String("addr", ln.Addr().String()))

	err := s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("http server error", slog.Any("error", err))
		return err
	}

	return nil
}

// StopAccepting stops accepting new connections and blocks until in-flight requests
// complete or ctx is done. Hijacked connections such as WebSockets are not tracked.
func (s *Server) StopAccepting(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.stopOnce.Do(func() {
		s.httpServer.SetKeepAlivesEnabled(false)
		s.log.Info("shutting down http server", slog.Int64("in_flight", s.inFlight.Load()))

		s.stopErr = s.httpServer.Shutdown(ctx)
		if s.stopErr != nil {
			s.log.Error("http server shutdown error", slog.Any("error", s.stopErr), slog.Int64("in_flight", s.inFlight.Load()))
		}
	})

	return s.stopErr
}

// InFlight reports the number of requests currently being served.
func (s *Server) InFlight() int64 {
	return s.inFlight.Load()
}
