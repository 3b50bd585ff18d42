package wschain

import (
	"context"
	"net/http"
	"time"
)

type (
	// WireConn is the framed socket a Transport hands back. *websocket.Conn
	// from github.com/fasthttp/websocket satisfies it.
	WireConn interface {
		ReadMessage() (messageType int, p []byte, err error)
		WriteMessage(messageType int, data []byte) error
		WriteControl(messageType int, data []byte, deadline time.Time) error
		SetWriteDeadline(t time.Time) error
		Close() error
		Subprotocol() string
	}

	// Transport opens connections. A non-nil response is returned whenever
	// the server answered the handshake, even on failure.
	Transport interface {
		Dial(ctx context.Context, url string, protocols []string, header http.Header) (WireConn, *http.Response, error)
	}

	TransportFunc func(ctx context.Context, url string, protocols []string, header http.Header) (WireConn, *http.Response, error)
)

func (f TransportFunc) Dial(ctx context.Context, url string, protocols []string, header http.Header) (WireConn, *http.Response, error) {
	return f(ctx, url, protocols, header)
}
