package wschain

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockConn(transport Transport) *Conn {
	return newConn(NopLogger(), transport, "ws://test", nil, http.Header{}, nil, Config{})
}

func TestConn_CloseWhileConnecting(t *testing.T) {
	wire := newMockWire()
	release := make(chan struct{})

	transport := &mockTransport{tapDial: func() { <-release }}
	transport.On("Dial", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(wire, nil, nil)

	c := newMockConn(transport)

	var closing int
	c.On(EventClosing, func(*Conn) { closing++ })

	opened := make(chan error, 1)
	go func() { opened <- c.open(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateConnecting, c.State())
	c.Close(4000, "early")
	c.Close(4001, "ignored")
	assert.Equal(t, 1, closing)

	close(release)
	require.NoError(t, <-opened)

	select {
	case <-c.Closed():
	case <-time.After(time.Second):
		t.Fatal("pending close was not honoured")
	}
	assert.Equal(t, 1, closing)
	ev, ok := c.CloseEvent()
	require.True(t, ok)
	assert.Equal(t, CloseEvent{Code: 4000, Reason: "early"}, ev)
}

func TestConn_OpenFailure(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Dial", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &http.Response{StatusCode: http.StatusUnauthorized}, websocket.ErrBadHandshake)

	c := newMockConn(transport)

	var events []EventType
	for _, ev := range []EventType{EventOpen, EventClose} {
		c.On(ev, func(*Conn) { events = append(events, ev) })
	}

	err := c.open(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Unexpected server response: 401", err.Error())
	assert.Equal(t, StateClosed, c.State())
	assert.False(t, c.IsOpen())
	assert.Equal(t, []EventType{EventClose}, events)

	ev, _ := c.CloseEvent()
	assert.Equal(t, CloseAbnormal, ev.Code)

	_, err = c.Upgrade(context.Background())
	assert.Error(t, err)
}

func TestConn_UpgradeAndLifecycle(t *testing.T) {
	wire := newMockWire()
	wire.subprotocol = "v2"
	resp := &http.Response{StatusCode: http.StatusSwitchingProtocols, Header: http.Header{"X-A": {"1"}}}

	transport := &mockTransport{}
	transport.On("Dial", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(wire, resp, nil)

	c := newMockConn(transport)
	require.NoError(t, c.open(context.Background()))
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, "v2", c.Subprotocol())

	got, err := c.Upgrade(context.Background())
	require.NoError(t, err)
	assert.Same(t, resp, got)

	c.Close(CloseNormal, "bye")
	<-c.Closed()
	assert.Equal(t, StateClosed, c.State())

	// idempotent
	c.Close(CloseNormal, "again")
	ev, _ := c.CloseEvent()
	assert.Equal(t, CloseEvent{Code: CloseNormal, Reason: "bye"}, ev)
}

func TestConn_CloseTimeoutDropsSocket(t *testing.T) {
	wire := newMockWire()
	wire.echoClose = false

	transport := &mockTransport{}
	transport.On("Dial", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(wire, nil, nil)

	c := newMockConn(transport)
	c.closeTimeout = 20 * time.Millisecond
	require.NoError(t, c.open(context.Background()))

	c.Close(CloseNormal, "")
	assert.Equal(t, StateClosing, c.State())

	select {
	case <-c.Closed():
	case <-time.After(time.Second):
		t.Fatal("socket was not dropped")
	}
	ev, _ := c.CloseEvent()
	assert.Equal(t, CloseAbnormal, ev.Code)
	assert.NoError(t, c.Err())
}

func TestConn_Terminate(t *testing.T) {
	wire := newMockWire()
	transport := &mockTransport{}
	transport.On("Dial", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(wire, nil, nil)

	c := newMockConn(transport)
	require.NoError(t, c.open(context.Background()))

	c.Terminate()
	<-c.Closed()

	ev, _ := c.CloseEvent()
	assert.Equal(t, CloseAbnormal, ev.Code)
	assert.NoError(t, c.Err())

	err := c.Send(context.Background(), []byte("x"), false)
	assert.ErrorIs(t, err, ErrSendAfterClose)
}

func TestConn_TerminateWhileConnecting(t *testing.T) {
	wire := newMockWire()
	release := make(chan struct{})

	transport := &mockTransport{tapDial: func() { <-release }}
	transport.On("Dial", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(wire, nil, nil)

	c := newMockConn(transport)

	var closing int
	c.On(EventClosing, func(*Conn) { closing++ })

	opened := make(chan error, 1)
	go func() { opened <- c.open(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateConnecting, c.State())
	assert.Nil(t, c.Wire())
	assert.Empty(t, c.Subprotocol())
	c.Terminate()

	close(release)
	require.NoError(t, <-opened)

	select {
	case <-c.Closed():
	case <-time.After(time.Second):
		t.Fatal("terminate while connecting was not honoured")
	}
	assert.Equal(t, 1, closing)

	// no-op once closed
	assert.NotPanics(t, c.Terminate)
}
