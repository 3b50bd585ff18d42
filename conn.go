package wschain

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	CloseNormal         = websocket.CloseNormalClosure
	CloseGoingAway      = websocket.CloseGoingAway
	CloseNoStatus       = websocket.CloseNoStatusReceived
	CloseAbnormal       = websocket.CloseAbnormalClosure
	defaultCloseTimeout = time.Second
	writeWait           = time.Second
)

type connClosedError struct {
	event CloseEvent
}

func (e connClosedError) Error() string {
	return "connection closed: " + e.event.String()
}

// Conn is one client connection. It is driven by exactly one Chain; its
// lifecycle only moves forward (connecting, open, closing, closed).
type Conn struct {
	id           string
	url          string
	protocols    []string
	header       http.Header
	filters      filterPipeline
	transport    Transport
	logger       Logger
	defaults     Config
	closeTimeout time.Duration

	wire     WireConn
	state    atomic.Int32
	messages *BlockingQueue[Message]
	writeMu  sync.Mutex
	emitter  *EventEmitterCallback[EventType, *Conn]

	closeMu        sync.Mutex
	closeRequested atomic.Bool
	closeReq       CloseEvent
	closingEmitted atomic.Bool

	firstErr     error
	firstErrOnce sync.Once
	failed       chan struct{}

	closeEvent  CloseEvent
	closeOnce   sync.Once
	closedCtx   context.Context
	closeCancel context.CancelFunc

	upgrade     *http.Response
	upgradeOnce sync.Once
	upgraded    chan struct{}
}

func newConn(
	logger Logger,
	transport Transport,
	url string,
	protocols []string,
	header http.Header,
	filters filterPipeline,
	defaults Config,
) *Conn {
	id := uuid.NewString()
	closedCtx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:           id,
		url:          url,
		protocols:    protocols,
		header:       header,
		filters:      filters,
		transport:    transport,
		defaults:     defaults,
		closeTimeout: defaultCloseTimeout,
		logger:       logger.WithField("conn", id),
		messages:     NewBlockingQueue[Message](),
		emitter:      NewEventEmitter[EventType, *Conn](),
		failed:       make(chan struct{}),
		closedCtx:    closedCtx,
		closeCancel:  cancel,
		upgraded:     make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) URL() string { return c.url }

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// IsOpen reports whether the connection is connecting or open.
func (c *Conn) IsOpen() bool {
	s := c.State()
	return s == StateConnecting || s == StateOpen
}

// Header returns the handshake headers the connection was opened with.
func (c *Conn) Header() http.Header { return c.header.Clone() }

// Wire exposes the underlying socket. Nil until open.
func (c *Conn) Wire() WireConn {
	if c.State() == StateConnecting {
		return nil
	}
	return c.wire
}

// Subprotocol returns the negotiated subprotocol, if any.
func (c *Conn) Subprotocol() string {
	if c.State() == StateConnecting || c.wire == nil {
		return ""
	}
	return c.wire.Subprotocol()
}

// Closed is closed once the close event has been received.
func (c *Conn) Closed() <-chan struct{} { return c.closedCtx.Done() }

// CloseEvent returns the close code and reason once the connection closed.
func (c *Conn) CloseEvent() (CloseEvent, bool) {
	select {
	case <-c.Closed():
		return c.closeEvent, true
	default:
		return CloseEvent{}, false
	}
}

// Failed is closed when the first error after open is recorded.
func (c *Conn) Failed() <-chan struct{} { return c.failed }

// Err returns the first error recorded after open, if any.
func (c *Conn) Err() error {
	select {
	case <-c.failed:
		return c.firstErr
	default:
		return nil
	}
}

// Upgrade returns the handshake response once the connection has opened.
func (c *Conn) Upgrade(ctx context.Context) (*http.Response, error) {
	select {
	case <-c.upgraded:
		return c.upgrade, nil
	case <-c.Closed():
		select {
		case <-c.upgraded:
			return c.upgrade, nil
		default:
		}
		return nil, connClosedError{event: c.closeEvent}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// On subscribes to lifecycle events.
func (c *Conn) On(event EventType, fn func(*Conn)) (off func()) {
	return c.emitter.On(event, fn)
}

func (c *Conn) open(ctx context.Context) error {
	c.logger.Debugf("opening connection to %s", c.url)

	wire, resp, err := c.transport.Dial(ctx, c.url, c.protocols, c.header)
	if err != nil {
		failure := newConnectionFailure(c.url, resp, err)
		c.logger.Debugf("connection to %s failed: %s", c.url, failure)
		c.finish(CloseEvent{Code: CloseAbnormal})
		return failure
	}

	c.wire = wire
	c.upgradeOnce.Do(func() {
		c.upgrade = resp
		close(c.upgraded)
	})
	c.state.Store(int32(StateOpen))
	c.emitter.Emit(EventOpen, c)

	go c.read()

	if c.closeRequested.Load() {
		c.closeMu.Lock()
		req := c.closeReq
		c.closeMu.Unlock()
		c.Close(req.Code, req.Reason)
	}

	return nil
}

func (c *Conn) read() {
	for {
		messageType, bts, err := c.wire.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var m Message
		if messageType == websocket.BinaryMessage {
			m = NewBinaryMessage(bts)
		} else {
			m = NewTextMessage(bts)
		}

		if !c.filters.admit(m) {
			c.logger.Debugf("<= [%s] filtered", m.Type())
			continue
		}

		c.logger.Debugf("<= [%s] %d bytes", m.Type(), len(bts))
		c.messages.Push(m)
	}
}

func (c *Conn) handleReadError(err error) {
	if ev, ok := closeCodeOf(err); ok {
		c.logger.Debugf("<= [CLOSE] %s", ev)
		c.finish(ev)
		return
	}

	if c.State() == StateOpen {
		c.logger.Errorf("error occurred on websocket read: %s", err)
		c.fail(errors.Wrap(err, "connection error"))
	}
	c.finish(CloseEvent{Code: CloseAbnormal})
}

func (c *Conn) fail(err error) {
	c.firstErrOnce.Do(func() {
		c.firstErr = err
		close(c.failed)
		c.emitter.Emit(EventError, c)
	})
}

func (c *Conn) finish(ev CloseEvent) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		if c.wire != nil {
			_ = c.wire.Close()
		}
		c.closeEvent = ev
		c.closeCancel()
		c.emitter.Emit(EventClose, c)
	})
}

// Close starts the closing handshake. It is idempotent and never fails;
// a code of 0 sends a close frame without status. If the peer does not
// answer within the close timeout the socket is dropped.
func (c *Conn) Close(code int, reason string) {
	if c.State() == StateConnecting {
		c.closeMu.Lock()
		first := !c.closeRequested.Load()
		if first {
			c.closeReq = CloseEvent{Code: code, Reason: reason}
			c.closeRequested.Store(true)
		}
		c.closeMu.Unlock()

		// open re-checks the request after publishing StateOpen.
		if c.State() == StateConnecting {
			if first {
				c.emitClosing()
			}
			return
		}
	}
	if c.State() != StateOpen {
		return
	}

	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return
	}
	c.emitClosing()

	c.logger.Debugf("=> [CLOSE] %d %q", code, reason)

	c.writeMu.Lock()
	err := c.wire.WriteControl(websocket.CloseMessage, closePayload(code, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Debugf("close frame not sent: %s", err)
		_ = c.wire.Close()
		return
	}

	time.AfterFunc(c.closeTimeout, func() {
		if c.State() != StateClosed {
			c.logger.Warnf("no close reply within %s, dropping socket", c.closeTimeout)
			_ = c.wire.Close()
		}
	})
}

// emitClosing fires EventClosing at most once.
func (c *Conn) emitClosing() {
	if c.closingEmitted.CompareAndSwap(false, true) {
		c.emitter.Emit(EventClosing, c)
	}
}

// Terminate drops the socket without a closing handshake.
func (c *Conn) Terminate() {
	switch c.State() {
	case StateConnecting:
		c.Close(0, "")
		return
	case StateClosed:
		return
	}
	// wire is published before the state leaves connecting
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	c.emitClosing()
	_ = c.wire.Close()
}

// Send writes one data frame.
func (c *Conn) Send(ctx context.Context, data []byte, binary bool) error {
	if c.State() != StateOpen {
		return c.sendAfterClose(ctx)
	}

	mt := websocket.TextMessage
	if binary {
		mt = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	_ = c.wire.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.wire.WriteMessage(mt, data)
	c.writeMu.Unlock()

	if err != nil {
		if c.State() != StateOpen {
			return c.sendAfterClose(ctx)
		}
		return errors.Wrap(err, "send")
	}

	if binary {
		c.logger.Debugf("=> [BIN] %s", stringifyBinary(data))
	} else {
		c.logger.Debugf("=> [TEXT] %s", data)
	}
	return nil
}

// Ping writes a ping control frame.
func (c *Conn) Ping(ctx context.Context, data []byte) error {
	if c.State() != StateOpen {
		return c.sendAfterClose(ctx)
	}

	c.writeMu.Lock()
	err := c.wire.WriteControl(websocket.PingMessage, data, time.Now().Add(writeWait))
	c.writeMu.Unlock()

	if err != nil {
		return errors.Wrap(err, "ping")
	}
	c.logger.Debugln("=> [PING]")
	return nil
}

// sendAfterClose waits for the close event so the error can name it.
func (c *Conn) sendAfterClose(ctx context.Context) error {
	select {
	case <-c.Closed():
	case <-ctx.Done():
		return newChainError(ErrSendAfterClose, ctx.Err(),
			"Cannot send message; connection is %s", c.State())
	}
	return newChainError(ErrSendAfterClose, nil,
		"Cannot send message; connection closed with %d %q", c.closeEvent.Code, c.closeEvent.Reason)
}

// next pops the next admitted message, racing the close future. A message
// already buffered wins over an already received close.
func (c *Conn) next(ctx context.Context, timeout time.Duration) (Message, error) {
	popCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := context.AfterFunc(c.closedCtx, func() {
		cancel(connClosedError{event: c.closeEvent})
	})
	defer stop()

	return c.messages.Pop(popCtx, timeout)
}
