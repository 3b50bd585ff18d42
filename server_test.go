package wschain

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ShutdownWaitsForGrace(t *testing.T) {
	srv := newEchoServer(t)
	scope := NewScope()
	req := scope.Request(srv, Config{ShutdownDelay: Duration(200 * time.Millisecond)})

	conn, err := req.WS(context.Background(), "/echo").ExpectText("hello").Conn()
	require.NoError(t, err)
	require.Equal(t, 1, srv.OpenSockets())

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- srv.Close() }()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, conn.IsOpen())
	assert.Equal(t, 1, srv.OpenSockets())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 0, srv.OpenSockets())
	assert.Equal(t, time.Duration(0), srv.Grace())

	select {
	case <-conn.Closed():
	case <-time.After(time.Second):
		t.Fatal("client never saw the socket close")
	}
	ev, _ := conn.CloseEvent()
	assert.Equal(t, CloseAbnormal, ev.Code)
	assert.Equal(t, 0, scope.CloseAll())
}

func TestServer_ShutdownEndsWhenSocketsClose(t *testing.T) {
	srv := newEchoServer(t)
	scope := NewScope()
	req := scope.Request(srv, Config{ShutdownDelay: Duration(5 * time.Second)})

	ch := req.WS(context.Background(), "/echo").ExpectText("hello")
	require.NoError(t, ch.Err())

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- srv.Close() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ch.Close().ExpectClosed(0).Err())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown waited for the whole grace period")
	}
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestServer_NoGraceTerminatesImmediately(t *testing.T) {
	srv := newEchoServer(t)
	scope := NewScope()
	req := scope.Request(srv, Config{})

	conn, err := req.WS(context.Background(), "/echo").ExpectText("hello").Conn()
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, srv.Close())
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-conn.Closed():
	case <-time.After(time.Second):
		t.Fatal("client never saw the socket close")
	}

	// closing again is a no-op
	assert.NoError(t, srv.Close())
}

func TestServer_ShutdownContext(t *testing.T) {
	srv := newEchoServer(t)
	scope := NewScope()
	req := scope.Request(srv, Config{ShutdownDelay: Duration(5 * time.Second)})

	_, err := req.WS(context.Background(), "/echo").ExpectText("hello").Conn()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, srv.OpenSockets())
}

func TestSocketSet_ChangedOnRemove(t *testing.T) {
	set := newSocketSet()
	a, b := net.Pipe()
	defer b.Close()

	tc := &trackedConn{Conn: a, set: set}
	set.add(tc)
	assert.Equal(t, 1, set.len())
	assert.True(t, set.anyOf([]*trackedConn{tc}))

	changed := set.changedC()
	require.NoError(t, tc.Close())

	select {
	case <-changed:
	default:
		t.Fatal("removal did not signal")
	}
	assert.Equal(t, 0, set.len())
	assert.False(t, set.anyOf([]*trackedConn{tc}))

	// second close does not signal again
	changed = set.changedC()
	_ = tc.Close()
	select {
	case <-changed:
		t.Fatal("double close signalled")
	default:
	}
}
