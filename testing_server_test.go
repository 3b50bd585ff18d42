package wschain

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin:  func(*http.Request) bool { return true },
	Subprotocols: []string{"show-test-headers"},
}

// echoHandler greets every connection, then echoes: text comes back as
// "echo <text>", JSON objects verbatim and binary prefixed with 111.
// "trigger-server-close" makes the server close with 4321 "Oops".
func echoHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/404", http.NotFound)

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/body", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		_, _ = io.Copy(w, r.Body)
	})

	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, http.Header{"X-Upgrade-Test": {"yes"}})
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := "hello"
		switch {
		case conn.Subprotocol() == "show-test-headers":
			greeting = "show-test-headers protocol:" + r.Header.Get("X-Foo")
		case r.Header.Get("X-Special-Header") != "":
			greeting = "special!"
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(greeting)); err != nil {
			return
		}

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if mt == websocket.BinaryMessage {
				_ = conn.WriteMessage(websocket.BinaryMessage, append([]byte{111}, data...))
				continue
			}

			s := string(data)
			switch {
			case s == "trigger-server-close":
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(4321, "Oops"),
					time.Now().Add(time.Second),
				)
				// wait for the close reply
				_, _, _ = conn.ReadMessage()
				return
			case strings.HasPrefix(s, "{"):
				_ = conn.WriteMessage(websocket.TextMessage, data)
			default:
				_ = conn.WriteMessage(websocket.TextMessage, []byte("echo "+s))
			}
		}
	})

	return mux
}

func newEchoServer(t testing.TB) *Server {
	t.Helper()

	srv, err := NewServer(echoHandler())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}
