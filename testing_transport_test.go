package wschain

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/mock"
)

type mockTransport struct {
	mock.Mock

	tapDial func()
}

func (m *mockTransport) Dial(
	ctx context.Context,
	url string,
	protocols []string,
	header http.Header,
) (WireConn, *http.Response, error) {
	if m.tapDial != nil {
		m.tapDial()
	}
	args := m.Called(ctx, url, protocols, header)

	var (
		wire WireConn
		resp *http.Response
	)
	if v := args.Get(0); v != nil {
		wire = v.(WireConn)
	}
	if v := args.Get(1); v != nil {
		resp = v.(*http.Response)
	}
	return wire, resp, args.Error(2)
}

type wireFrame struct {
	messageType int
	data        []byte
	err         error
}

// mockWire is a scripted WireConn. Inbound frames are queued with the push
// helpers; writes are recorded. With echoClose set, a close frame written
// by the client is answered with the same code.
type mockWire struct {
	inbound     chan wireFrame
	closed      chan struct{}
	closeOnce   sync.Once
	echoClose   bool
	subprotocol string

	mu      sync.Mutex
	written []wireFrame
}

func newMockWire() *mockWire {
	return &mockWire{
		inbound:   make(chan wireFrame, 64),
		closed:    make(chan struct{}),
		echoClose: true,
	}
}

func (w *mockWire) ReadMessage() (int, []byte, error) {
	select {
	case f := <-w.inbound:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.messageType, f.data, nil
	case <-w.closed:
		return 0, nil, net.ErrClosed
	}
}

func (w *mockWire) WriteMessage(messageType int, data []byte) error {
	select {
	case <-w.closed:
		return net.ErrClosed
	default:
	}

	w.mu.Lock()
	w.written = append(w.written, wireFrame{messageType: messageType, data: data})
	w.mu.Unlock()
	return nil
}

func (w *mockWire) WriteControl(messageType int, data []byte, _ time.Time) error {
	if err := w.WriteMessage(messageType, data); err != nil {
		return err
	}
	if messageType == websocket.CloseMessage && w.echoClose {
		code, reason := websocket.CloseNoStatusReceived, ""
		if len(data) >= 2 {
			code, reason = int(data[0])<<8|int(data[1]), string(data[2:])
		}
		w.pushClose(code, reason)
	}
	return nil
}

func (w *mockWire) SetWriteDeadline(time.Time) error { return nil }

func (w *mockWire) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}

func (w *mockWire) Subprotocol() string { return w.subprotocol }

func (w *mockWire) pushText(s string) {
	w.inbound <- wireFrame{messageType: websocket.TextMessage, data: []byte(s)}
}

func (w *mockWire) pushBinary(b []byte) {
	w.inbound <- wireFrame{messageType: websocket.BinaryMessage, data: b}
}

func (w *mockWire) pushClose(code int, reason string) {
	w.inbound <- wireFrame{err: &websocket.CloseError{Code: code, Text: reason}}
}

func (w *mockWire) pushError(err error) {
	w.inbound <- wireFrame{err: err}
}

func (w *mockWire) frames() []wireFrame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]wireFrame(nil), w.written...)
}
