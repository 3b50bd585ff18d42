package wschain

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrConfiguration         = errors.New("configuration error")
	ErrConnectionFailure     = errors.New("connection cannot be established")
	ErrExpectationMismatch   = errors.New("expectation not met")
	ErrConnectionClosedEarly = errors.New("connection closed before expectation was met")
	ErrSendAfterClose        = errors.New("connection is not open")
	ErrTimeout               = errors.New("timeout")
	ErrConversion            = errors.New("message conversion failed")
	ErrNotText               error = &chainError{kind: ErrConversion, msg: "Expected text message, got binary"}
	ErrNotBinary             error = &chainError{kind: ErrConversion, msg: "Expected binary message, got text"}
	ErrQueueClosed           = errors.New("queue has been closed")
)

// chainError is the error type surfaced by chain steps. Its message is the
// user-facing diagnostic; kind classifies it for errors.Is.
type chainError struct {
	kind  error
	msg   string
	cause error
}

func (e *chainError) Error() string { return e.msg }

func (e *chainError) Unwrap() error { return e.cause }

func (e *chainError) Is(target error) bool {
	if e.kind == target {
		return true
	}
	return errors.Is(e.kind, target)
}

func newChainError(kind error, cause error, format string, args ...any) error {
	return &chainError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func configurationError(format string, args ...any) error {
	return newChainError(ErrConfiguration, nil, format, args...)
}

// ConnectionFailure reports a connection that never reached the open state.
type ConnectionFailure struct {
	URL        string
	StatusCode int
	Response   *http.Response
	err        error
}

func (e *ConnectionFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("Unexpected server response: %d", e.StatusCode)
	}
	if e.err != nil {
		return e.err.Error()
	}
	return ErrConnectionFailure.Error()
}

func (e *ConnectionFailure) Unwrap() error { return e.err }

func (e *ConnectionFailure) Is(target error) bool { return target == ErrConnectionFailure }

func newConnectionFailure(url string, resp *http.Response, err error) *ConnectionFailure {
	f := &ConnectionFailure{URL: url, Response: resp, err: err}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		f.StatusCode = resp.StatusCode
	}
	return f
}

// timeoutError is returned by BlockingQueue.Pop when no value arrived in time.
type timeoutError struct {
	after fmt.Stringer
}

func (e timeoutError) Error() string { return "timeout after " + e.after.String() }

func (e timeoutError) Is(target error) bool { return target == ErrTimeout }
