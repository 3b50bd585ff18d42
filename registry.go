package wschain

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrUnknownEndpoint = errors.New("endpoint is not registered")

// ShutdownRegistry records which servers a set of scopes tests against and
// the grace period each should give its sockets on shutdown.
type ShutdownRegistry struct {
	mu        sync.Mutex
	endpoints map[EndpointID]*Server
}

func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{endpoints: make(map[EndpointID]*Server)}
}

// Register is idempotent per server; the stored grace only ever grows, to
// the largest value requested.
func (r *ShutdownRegistry) Register(s *Server, grace time.Duration) EndpointID {
	r.mu.Lock()
	r.endpoints[s.ID()] = s
	r.mu.Unlock()

	s.raiseGrace(grace)
	return s.ID()
}

// Release drops the registration and its grace period.
func (r *ShutdownRegistry) Release(id EndpointID) {
	r.mu.Lock()
	s, ok := r.endpoints[id]
	delete(r.endpoints, id)
	r.mu.Unlock()

	if ok {
		s.grace.Store(0)
	}
}

// Grace returns the registered grace period for id.
func (r *ShutdownRegistry) Grace(id EndpointID) (time.Duration, error) {
	s, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return s.Grace(), nil
}

// Shutdown drains and closes the registered server.
func (r *ShutdownRegistry) Shutdown(ctx context.Context, id EndpointID) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	return s.Shutdown(ctx)
}

// ShutdownAll shuts every registered server down concurrently and releases
// them.
func (r *ShutdownRegistry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	servers := make([]*Server, 0, len(r.endpoints))
	for _, s := range r.endpoints {
		servers = append(servers, s)
	}
	r.endpoints = make(map[EndpointID]*Server)
	r.mu.Unlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		first error
	)
	for _, s := range servers {
		wg.Add(1)
		go func(s *Server) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				errMu.Lock()
				if first == nil {
					first = err
				}
				errMu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return first
}

func (r *ShutdownRegistry) lookup(id EndpointID) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.endpoints[id]
	if !ok {
		return nil, errors.Wrap(ErrUnknownEndpoint, string(id))
	}
	return s, nil
}
