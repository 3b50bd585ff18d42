package wschain

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPResponse is a detached copy of a response received by an HTTPChain.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPChain describes one plain HTTP request and the assertions made on
// its response. Nothing is sent until Do.
type HTTPChain struct {
	client  *fasthttp.Client
	logger  Logger
	method  string
	url     string
	header  [][2]string
	body    []byte
	checks  []func(*HTTPResponse) error
	timeout time.Duration
	err     error
}

func newHTTPChain(client *fasthttp.Client, logger Logger, method, url string) *HTTPChain {
	return &HTTPChain{
		client:  client,
		logger:  logger.WithField("http", method+" "+url),
		method:  method,
		url:     url,
		timeout: defaultHTTPTimeout,
	}
}

func (h *HTTPChain) Set(key, value string) *HTTPChain {
	h.header = append(h.header, [2]string{key, value})
	return h
}

// Send sets the body. Strings and byte slices are sent as-is, anything
// else as JSON.
func (h *HTTPChain) Send(body any) *HTTPChain {
	switch b := body.(type) {
	case string:
		h.body = []byte(b)
	case []byte:
		h.body = b
	default:
		data, err := jsonPayload(body)
		if err != nil {
			h.err = err
			return h
		}
		h.body = data
		h.header = append(h.header, [2]string{"Content-Type", "application/json"})
	}
	return h
}

func (h *HTTPChain) Timeout(d time.Duration) *HTTPChain {
	h.timeout = d
	return h
}

// Expect asserts the status code.
func (h *HTTPChain) Expect(status int) *HTTPChain {
	h.checks = append(h.checks, func(r *HTTPResponse) error {
		if r.StatusCode != status {
			return newChainError(ErrExpectationMismatch, nil,
				"Expected status %d, got %d", status, r.StatusCode)
		}
		return nil
	})
	return h
}

// ExpectBody asserts the body. expected may be a string, a
// *regexp.Regexp, or any other value compared against the body as JSON.
func (h *HTTPChain) ExpectBody(expected any) *HTTPChain {
	h.checks = append(h.checks, func(r *HTTPResponse) error {
		switch e := expected.(type) {
		case string:
			if string(r.Body) != e {
				return newChainError(ErrExpectationMismatch, nil,
					"Expected body %s, got %s", stringify(e), stringify(string(r.Body)))
			}
			return nil
		case *regexp.Regexp:
			if !e.Match(r.Body) {
				return newChainError(ErrExpectationMismatch, nil,
					"Expected body matching /%s/, got %s", e, stringify(string(r.Body)))
			}
			return nil
		}

		got, err := AsJSON(NewTextMessage(r.Body))
		if err != nil {
			return err
		}
		want, err := normalizeJSON(expected)
		if err != nil {
			return err
		}
		if !assert.ObjectsAreEqual(want, got) {
			return newChainError(ErrExpectationMismatch, nil,
				"Expected body %s, got %s", stringify(want), stringify(got))
		}
		return nil
	})
	return h
}

// ExpectHeader asserts a response header value.
func (h *HTTPChain) ExpectHeader(key, value string) *HTTPChain {
	h.checks = append(h.checks, func(r *HTTPResponse) error {
		if got := r.Header.Get(key); got != value {
			return newChainError(ErrExpectationMismatch, nil,
				"Expected header %s %q, got %q", key, value, got)
		}
		return nil
	})
	return h
}

// Do sends the request and runs the assertions in order. The response is
// returned even when an assertion fails.
func (h *HTTPChain) Do(ctx context.Context) (*HTTPResponse, error) {
	if h.err != nil {
		return nil, h.err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.url)
	req.Header.SetMethod(h.method)
	for _, kv := range h.header {
		req.Header.Set(kv[0], kv[1])
	}
	if h.body != nil {
		req.SetBody(h.body)
	}

	deadline := time.Now().Add(h.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := h.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, errors.Wrapf(err, "%s %s", h.method, h.url)
	}
	h.logger.Debugf("<= %d", resp.StatusCode())

	out := &HTTPResponse{
		StatusCode: resp.StatusCode(),
		Header:     http.Header{},
		Body:       append([]byte(nil), resp.Body()...),
	}
	resp.Header.VisitAll(func(k, v []byte) {
		out.Header.Add(string(k), string(v))
	})

	for _, check := range h.checks {
		if err := check(out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Err is Do without the response.
func (h *HTTPChain) Err(ctx context.Context) error {
	_, err := h.Do(ctx)
	return err
}
