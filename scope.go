package wschain

import (
	"sync"
	"testing"

	"github.com/valyala/fasthttp"
)

type ScopeOption func(*Scope)

func WithTransport(t Transport) ScopeOption {
	return func(s *Scope) { s.transport = t }
}

func WithLogger(l Logger) ScopeOption {
	return func(s *Scope) { s.logger = l }
}

// WithShutdownRegistry shares a registry between scopes.
func WithShutdownRegistry(r *ShutdownRegistry) ScopeOption {
	return func(s *Scope) { s.registry = r }
}

func WithHTTPClient(c *fasthttp.Client) ScopeOption {
	return func(s *Scope) { s.httpClient = c }
}

// Scope groups the client connections it creates so that the ones left
// open can be found and closed at a test boundary.
type Scope struct {
	mu      sync.Mutex
	clients map[*Conn]func()

	transport  Transport
	logger     Logger
	registry   *ShutdownRegistry
	httpClient *fasthttp.Client
}

func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{clients: make(map[*Conn]func())}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = NopLogger()
	}
	if s.transport == nil {
		s.transport = NewWebsocketTransport(s.logger, nil)
	}
	if s.registry == nil {
		s.registry = NewShutdownRegistry()
	}
	if s.httpClient == nil {
		s.httpClient = &fasthttp.Client{}
	}
	return s
}

// Scoped returns a fresh scope sharing this one's transport, logger,
// registry and HTTP client but tracking its own connections.
func (s *Scope) Scoped() *Scope {
	return NewScope(
		WithTransport(s.transport),
		WithLogger(s.logger),
		WithShutdownRegistry(s.registry),
		WithHTTPClient(s.httpClient),
	)
}

func (s *Scope) Registry() *ShutdownRegistry { return s.registry }

// Request targets srv and registers it for shutdown with cfg.ShutdownDelay.
func (s *Scope) Request(srv *Server, cfg Config) *Request {
	s.registry.Register(srv, cfg.ShutdownDelay.Duration())
	return newRequest(s, srv.URL(), cfg)
}

// RequestURL targets an already running server by its http(s) base URL.
// Nothing is registered for shutdown.
func (s *Scope) RequestURL(base string, cfg Config) *Request {
	return newRequest(s, base, cfg)
}

func (s *Scope) track(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offClosing := c.On(EventClosing, s.forget)
	offClose := c.On(EventClose, s.forget)
	s.clients[c] = func() {
		offClosing()
		offClose()
	}
}

func (s *Scope) forget(c *Conn) {
	s.mu.Lock()
	off, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if ok {
		off()
	}
}

// OpenConnections reports how many tracked connections are connecting or
// open.
func (s *Scope) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for c := range s.clients {
		if c.IsOpen() {
			n++
		}
	}
	return n
}

// CloseAll closes every tracked connection that is still connecting or
// open and returns how many it closed. Connections are judged by their
// state at the time of the sweep.
func (s *Scope) CloseAll() int {
	s.mu.Lock()
	remaining := make([]*Conn, 0, len(s.clients))
	offs := make([]func(), 0, len(s.clients))
	for c, off := range s.clients {
		if c.IsOpen() {
			remaining = append(remaining, c)
		}
		offs = append(offs, off)
	}
	s.clients = make(map[*Conn]func())
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
	for _, c := range remaining {
		c.Close(0, "")
	}
	if len(remaining) > 0 {
		s.logger.Debugf("closed %d dangling connection(s)", len(remaining))
	}
	return len(remaining)
}

// NoDangling fails t at cleanup time if the scope still has open
// connections; they are closed either way.
func NoDangling(t testing.TB, s *Scope) {
	t.Helper()
	t.Cleanup(func() {
		if n := s.CloseAll(); n > 0 {
			t.Errorf("Found %d dangling connection(s) after test", n)
		}
	})
}
