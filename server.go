package wschain

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EndpointID identifies a Server in a ShutdownRegistry.
type EndpointID string

type serverOptions struct {
	addr   string
	logger Logger
}

type ServerOption func(*serverOptions)

// WithListenAddr overrides the default 127.0.0.1:0.
func WithListenAddr(addr string) ServerOption {
	return func(o *serverOptions) { o.addr = addr }
}

func WithServerLogger(logger Logger) ServerOption {
	return func(o *serverOptions) { o.logger = logger }
}

// Server is a listening HTTP endpoint whose accepted sockets are tracked,
// so that closing it can drain and then terminate them.
type Server struct {
	id      EndpointID
	srv     *http.Server
	ln      *trackingListener
	url     string
	logger  Logger
	grace   atomic.Int64
	closeMu sync.Mutex
	closed  bool
	served  chan struct{}
}

// NewServer starts serving handler on a loopback port.
func NewServer(handler http.Handler, opts ...ServerOption) (*Server, error) {
	o := serverOptions{addr: "127.0.0.1:0", logger: NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	ln, err := net.Listen("tcp", o.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", o.addr)
	}

	id := EndpointID(uuid.NewString())
	s := &Server{
		id:     id,
		srv:    &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		ln:     &trackingListener{Listener: ln, set: newSocketSet()},
		url:    "http://" + ln.Addr().String(),
		logger: o.logger.WithField("endpoint", id),
		served: make(chan struct{}),
	}

	go func() {
		defer close(s.served)
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("serve: %s", err)
		}
	}()

	s.logger.Debugf("listening on %s", s.url)

	return s, nil
}

func (s *Server) ID() EndpointID { return s.id }

// URL is the http:// base of the server.
func (s *Server) URL() string { return s.url }

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// OpenSockets reports how many accepted sockets are still open.
func (s *Server) OpenSockets() int { return s.ln.set.len() }

// Grace returns the current shutdown grace period.
func (s *Server) Grace() time.Duration { return time.Duration(s.grace.Load()) }

// raiseGrace keeps the largest grace period requested.
func (s *Server) raiseGrace(d time.Duration) {
	for {
		cur := s.grace.Load()
		if int64(d) <= cur || s.grace.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// Close shuts the server down, giving open sockets the grace period to
// close themselves first.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx. The grace period is reset to zero.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	grace := time.Duration(s.grace.Swap(0))
	forced := drain(ctx, s.ln.set, grace)
	if forced > 0 {
		s.logger.Infof("terminated %d socket(s) after %s grace", forced, grace)
	}

	err := s.srv.Close()
	<-s.served
	return err
}

// drain waits up to grace for the sockets open now to close themselves,
// then terminates whatever is still open. It returns how many sockets it
// terminated.
func drain(ctx context.Context, set *socketSet, grace time.Duration) int {
	awaiting := set.snapshot()

	if grace > 0 && len(awaiting) > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()

	wait:
		for {
			changed := set.changedC()
			if !set.anyOf(awaiting) {
				break
			}
			select {
			case <-changed:
			case <-timer.C:
				break wait
			case <-ctx.Done():
				break wait
			}
		}
	}

	remaining := set.snapshot()
	for _, c := range remaining {
		_ = c.Close()
	}
	return len(remaining)
}
