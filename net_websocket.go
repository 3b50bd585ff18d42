package wschain

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

// maxFailureBody bounds how much of a rejected handshake body is kept.
const maxFailureBody = 1024

type websocketTransport struct {
	dialer *websocket.Dialer
	logger Logger
}

// NewWebsocketTransport dials with the given dialer. A nil dialer uses a
// copy of websocket.DefaultDialer.
func NewWebsocketTransport(logger Logger, dialer *websocket.Dialer) Transport {
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 10 * time.Second
		dialer = &d
	}
	return &websocketTransport{
		dialer: dialer,
		logger: logger.WithField("net", "ws_transport"),
	}
}

func (t *websocketTransport) Dial(
	ctx context.Context,
	url string,
	protocols []string,
	header http.Header,
) (WireConn, *http.Response, error) {
	d := *t.dialer
	d.Subprotocols = protocols

	conn, resp, err := d.DialContext(ctx, url, header)
	if err = t.handleDialError(resp, err); err != nil {
		t.logger.Debugf("connection err to %s: %s", url, err)
		return nil, resp, err
	}

	t.logger.Debugf("success opening connection to %s", url)

	return conn, resp, nil
}

func (t *websocketTransport) handleDialError(resp *http.Response, err error) error {
	if err == nil {
		return nil
	}

	if resp != nil && resp.Body != nil {
		bts, readErr := io.ReadAll(io.LimitReader(resp.Body, maxFailureBody))
		_ = resp.Body.Close()
		if readErr == nil {
			resp.Body = io.NopCloser(bytes.NewReader(bts))
		}
	}

	if errors.Is(err, websocket.ErrBadHandshake) {
		return err
	}

	return errors.Wrap(err, "dial")
}

// closeCodeOf extracts the close code/reason from a read error. ok is false
// for anything but a close frame.
func closeCodeOf(err error) (CloseEvent, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		// a dropped socket carries no reason on the wire
		if ce.Code == websocket.CloseAbnormalClosure {
			return CloseEvent{Code: ce.Code}, true
		}
		return CloseEvent{Code: ce.Code, Reason: ce.Text}, true
	}
	return CloseEvent{}, false
}

func closePayload(code int, reason string) []byte {
	if code == 0 {
		return []byte{}
	}
	return websocket.FormatCloseMessage(code, reason)
}
