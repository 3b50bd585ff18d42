package wschain

import (
	"context"
	"net/http"
	"strings"
)

type dialOptions struct {
	protocols []string
	header    http.Header
}

type DialOption func(*dialOptions)

// WithProtocols requests subprotocols during the handshake.
func WithProtocols(protocols ...string) DialOption {
	return func(o *dialOptions) { o.protocols = append(o.protocols, protocols...) }
}

// WithHeader adds one handshake header, keeping the key as given.
func WithHeader(key, value string) DialOption {
	return func(o *dialOptions) { o.header[key] = append(o.header[key], value) }
}

// WithHeaders adds handshake headers, keeping the keys as given.
func WithHeaders(h map[string]string) DialOption {
	return func(o *dialOptions) {
		for k, v := range h {
			o.header[k] = append(o.header[k], v)
		}
	}
}

// Request is bound to one server base URL. It opens WebSocket chains and
// plain HTTP requests against it.
type Request struct {
	scope *Scope
	base  string
	cfg   Config
}

func newRequest(scope *Scope, base string, cfg Config) *Request {
	return &Request{scope: scope, base: strings.TrimSuffix(base, "/"), cfg: cfg}
}

// BaseURL returns the http(s) base of the request.
func (r *Request) BaseURL() string { return r.base }

// WS returns a chain for a WebSocket connection to path. Nothing is dialled
// until the first operation is chained.
func (r *Request) WS(ctx context.Context, path string, opts ...DialOption) *Chain {
	o := dialOptions{header: http.Header{}}
	for _, opt := range opts {
		opt(&o)
	}

	return newChain(
		ctx,
		r.scope.logger,
		r.scope.transport,
		r.cfg,
		wsURL(r.base)+path,
		o.protocols,
		o.header,
		r.scope.track,
	)
}

func wsURL(base string) string {
	if strings.HasPrefix(base, "http") {
		return "ws" + strings.TrimPrefix(base, "http")
	}
	return base
}

func (r *Request) Get(path string) *HTTPChain { return r.http(http.MethodGet, path) }

func (r *Request) Post(path string) *HTTPChain { return r.http(http.MethodPost, path) }

func (r *Request) Put(path string) *HTTPChain { return r.http(http.MethodPut, path) }

func (r *Request) Patch(path string) *HTTPChain { return r.http(http.MethodPatch, path) }

func (r *Request) Delete(path string) *HTTPChain { return r.http(http.MethodDelete, path) }

func (r *Request) Head(path string) *HTTPChain { return r.http(http.MethodHead, path) }

func (r *Request) http(method, path string) *HTTPChain {
	return newHTTPChain(r.scope.httpClient, r.scope.logger, method, r.base+path)
}
