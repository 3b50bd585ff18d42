package wschain

import (
	"net"
	"sync"
)

// socketSet tracks accepted sockets. Every removal closes the current
// changed channel, which lets waiters block instead of polling.
type socketSet struct {
	mu      sync.Mutex
	conns   map[*trackedConn]struct{}
	changed chan struct{}
}

func newSocketSet() *socketSet {
	return &socketSet{
		conns:   make(map[*trackedConn]struct{}),
		changed: make(chan struct{}),
	}
}

func (s *socketSet) add(c *trackedConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *socketSet) remove(c *trackedConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[c]; !ok {
		return
	}
	delete(s.conns, c)
	close(s.changed)
	s.changed = make(chan struct{})
}

// changedC returns a channel closed on the next removal.
func (s *socketSet) changedC() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *socketSet) snapshot() []*trackedConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*trackedConn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// anyOf reports whether any of conns is still tracked.
func (s *socketSet) anyOf(conns []*trackedConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range conns {
		if _, ok := s.conns[c]; ok {
			return true
		}
	}
	return false
}

func (s *socketSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// trackedConn removes itself from its set when closed, including after
// an HTTP handler hijacked it.
type trackedConn struct {
	net.Conn
	set  *socketSet
	once sync.Once
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.set.remove(c) })
	return err
}

type trackingListener struct {
	net.Listener
	set *socketSet
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	tc := &trackedConn{Conn: conn, set: l.set}
	l.set.add(tc)
	return tc, nil
}
