package wschain

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type chainState byte

const (
	stateConfiguring chainState = iota
	stateActive
	stateSettled
)

const errReconfigure = "WebSocket has already been established; cannot change configuration"

// stepResult is the settled outcome of one step. done is closed once conn
// and err are final.
type stepResult struct {
	done chan struct{}
	conn *Conn
	err  error
}

// Chain is a script of operations against one connection. Every chained
// call appends a step; steps run strictly in declaration order, and the
// first failure closes the connection and skips every later step.
//
// The connection is only dialled once the first operation is appended (or
// the chain is awaited), so Set, Unset and the filter calls made before
// that shape the handshake.
type Chain struct {
	ctx       context.Context
	logger    Logger
	transport Transport
	cfg       Config
	url       string
	protocols []string
	header    http.Header
	filters   filterPipeline
	onConn    func(*Conn)

	mu       sync.Mutex
	state    chainState
	steps    int
	terminal bool
	tail     *stepResult
	conn     *Conn
}

func newChain(
	ctx context.Context,
	logger Logger,
	transport Transport,
	cfg Config,
	url string,
	protocols []string,
	header http.Header,
	onConn func(*Conn),
) *Chain {
	if header == nil {
		header = http.Header{}
	}
	return &Chain{
		ctx:       ctx,
		logger:    logger.WithField("url", url),
		transport: transport,
		cfg:       cfg,
		url:       url,
		protocols: protocols,
		header:    header,
		onConn:    onConn,
	}
}

// startLocked dials the connection if that has not happened yet. c.mu must
// be held.
func (c *Chain) startLocked() {
	if c.tail != nil {
		return
	}
	c.state = stateActive

	conn := newConn(c.logger, c.transport, c.url, c.protocols, c.header.Clone(), c.filters, c.cfg)
	c.conn = conn
	if c.onConn != nil {
		c.onConn(conn)
	}

	res := &stepResult{done: make(chan struct{})}
	c.tail = res

	go func() {
		defer close(res.done)
		if err := conn.open(c.ctx); err != nil {
			res.err = err
			c.settle()
			return
		}
		res.conn = conn
	}()
}

func (c *Chain) settle() {
	c.mu.Lock()
	c.state = stateSettled
	c.mu.Unlock()
}

func (c *Chain) then(op operation) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(op)
	return c
}

func (c *Chain) appendLocked(op operation) {
	if c.terminal {
		res := &stepResult{
			done: make(chan struct{}),
			conn: c.conn,
			err:  configurationError("chain already finished by ExpectConnectionError; cannot add %s", op),
		}
		close(res.done)
		c.tail = res
		c.steps++
		return
	}

	c.startLocked()
	prev := c.tail
	res := &stepResult{done: make(chan struct{})}
	c.tail = res
	c.steps++

	go c.run(prev, res, op)
}

func (c *Chain) run(prev, res *stepResult, op operation) {
	defer close(res.done)

	<-prev.done
	res.conn = prev.conn
	if prev.err != nil {
		res.err = prev.err
		return
	}

	conn := prev.conn
	if conn == nil {
		res.err = configurationError("no connection for %s", op)
		return
	}
	c.logger.Debugf("step %s", op)

	if err := c.race(conn, op); err != nil {
		c.logger.Errorf("step %s failed: %s", op, err)
		if conn.IsOpen() {
			conn.Close(0, "")
		}
		c.settle()
		res.err = err
	}
}

// race runs op against the connection's first post-open error. Whichever
// settles first decides the step.
func (c *Chain) race(conn *Conn, op operation) error {
	if err := conn.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		returned := false
		defer func() {
			if r := recover(); r != nil {
				errc <- errors.Errorf("%s panicked: %v", op, r)
				return
			}
			if !returned {
				errc <- errors.Errorf("%s exited without returning", op)
			}
		}()
		err := op.apply(ctx, conn)
		returned = true
		errc <- err
	}()

	select {
	case err := <-errc:
		// a socket error usually also fails the pending read; report the cause
		if cerr := conn.Err(); cerr != nil {
			return cerr
		}
		return err
	case <-conn.Failed():
		return conn.Err()
	}
}

// configure applies fn while the chain is still configuring. Afterwards it
// fails the chain instead and leaves the configuration untouched.
func (c *Chain) configure(fn func()) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateConfiguring {
		c.appendLocked(failOp{err: configurationError(errReconfigure)})
		return c
	}
	fn()
	return c
}

// findExistingHeader returns the key already used for header, compared
// case-insensitively, or its lower-case form.
func findExistingHeader(headers http.Header, header string) string {
	for k := range headers {
		if strings.EqualFold(k, header) {
			return k
		}
	}
	return strings.ToLower(header)
}

// Set sets a handshake header, replacing any existing header that differs
// only in case.
func (c *Chain) Set(header, value string) *Chain {
	return c.configure(func() {
		c.header[findExistingHeader(c.header, header)] = []string{value}
	})
}

// SetHeaders calls Set for every entry.
func (c *Chain) SetHeaders(headers map[string]string) *Chain {
	return c.configure(func() {
		for h, v := range headers {
			c.header[findExistingHeader(c.header, h)] = []string{v}
		}
	})
}

// Unset removes a handshake header, case-insensitively.
func (c *Chain) Unset(header string) *Chain {
	return c.configure(func() {
		delete(c.header, findExistingHeader(c.header, header))
	})
}

// Filter discards inbound messages rejected by fn before they can be read.
func (c *Chain) Filter(fn Filter) *Chain {
	return c.configure(func() {
		c.filters = append(c.filters, fn)
	})
}

func (c *Chain) FilterText(fn func(string) bool) *Chain { return c.Filter(TextFilter(fn)) }

func (c *Chain) FilterJSON(fn func(any) bool) *Chain { return c.Filter(JSONFilter(fn)) }

func (c *Chain) FilterBinary(fn func([]byte) bool) *Chain { return c.Filter(BinaryFilter(fn)) }

// Send writes v as text, or as binary when opts say so.
func (c *Chain) Send(v any, opts ...SendOptions) *Chain {
	var o SendOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	return c.then(sendOp{kind: payloadRaw, value: v, opts: o})
}

func (c *Chain) SendText(v any) *Chain { return c.then(sendOp{kind: payloadText, value: v}) }

// SendJSON writes v serialized with encoding/json.
func (c *Chain) SendJSON(v any) *Chain { return c.then(sendOp{kind: payloadJSON, value: v}) }

// SendBinary writes v as a binary frame. v may be a []byte, a byte array,
// a string or an []int.
func (c *Chain) SendBinary(v any) *Chain { return c.then(sendOp{kind: payloadBinary, value: v}) }

// SendCBOR writes v as a canonical CBOR binary frame.
func (c *Chain) SendCBOR(v any) *Chain { return c.then(sendOp{kind: payloadCBOR, value: v}) }

func (c *Chain) Ping(data []byte) *Chain { return c.then(pingOp{data: data}) }

// Wait pauses the chain for d.
func (c *Chain) Wait(d time.Duration) *Chain { return c.then(waitOp{d: d}) }

// Exec runs fn with the open connection. A returned error fails the step.
func (c *Chain) Exec(fn func(ctx context.Context, conn *Conn) error) *Chain {
	return c.then(execOp{fn: fn})
}

func (c *Chain) expect(name string, conv Conversion, expected any, normalize func(any) (any, error), scan bool, opts []ExpectOptions) *Chain {
	if conv == nil {
		conv = AsRaw
	}
	m, err := newMatcher(expected, normalize)
	if err != nil {
		return c.then(failOp{err: err})
	}
	var o ExpectOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	return c.then(expectOp{name: name, conv: conv, m: m, opts: o, scan: scan})
}

// ExpectMessage reads the next message, converts it and checks it against
// expected (see Matching for the accepted forms). A nil expected accepts
// any message that converts.
func (c *Chain) ExpectMessage(conv Conversion, expected any, opts ...ExpectOptions) *Chain {
	return c.expect("expectMessage", conv, expected, nil, false, opts)
}

// ExpectText expects a text message. expected may be a string, a
// *regexp.Regexp, a predicate or a Check.
func (c *Chain) ExpectText(expected any, opts ...ExpectOptions) *Chain {
	return c.expect("expectText", AsText, expected, nil, false, opts)
}

// ExpectJSON expects a JSON text message. Literal values are compared
// after a JSON round trip, so structs and maps compare by content.
func (c *Chain) ExpectJSON(expected any, opts ...ExpectOptions) *Chain {
	return c.expect("expectJSON", AsJSON, expected, normalizeJSON, false, opts)
}

func (c *Chain) ExpectBinary(expected any, opts ...ExpectOptions) *Chain {
	return c.expect("expectBinary", AsBinary, expected, binaryExpectation, false, opts)
}

func (c *Chain) ExpectCBOR(expected any, opts ...ExpectOptions) *Chain {
	return c.expect("expectCBOR", AsCBOR, expected, normalizeCBOR, false, opts)
}

// WaitForMessage skips messages until one converts and matches expected.
// Skipped messages, including ones that fail conversion, are listed if the
// wait fails.
func (c *Chain) WaitForMessage(conv Conversion, expected any, opts ...ExpectOptions) *Chain {
	return c.expect("waitForMessage", conv, expected, nil, true, opts)
}

func (c *Chain) WaitForText(expected any, opts ...ExpectOptions) *Chain {
	return c.expect("waitForText", AsText, expected, nil, true, opts)
}

func (c *Chain) WaitForJSON(expected any, opts ...ExpectOptions) *Chain {
	return c.expect("waitForJSON", AsJSON, expected, normalizeJSON, true, opts)
}

func (c *Chain) WaitForBinary(expected any, opts ...ExpectOptions) *Chain {
	return c.expect("waitForBinary", AsBinary, expected, binaryExpectation, true, opts)
}

func (c *Chain) WaitForCBOR(expected any, opts ...ExpectOptions) *Chain {
	return c.expect("waitForCBOR", AsCBOR, expected, normalizeCBOR, true, opts)
}

// Close starts the closing handshake without a status code.
func (c *Chain) Close() *Chain { return c.then(closeOp{}) }

func (c *Chain) CloseWith(code int, reason string) *Chain {
	return c.then(closeOp{code: code, reason: reason})
}

// ExpectClosed waits for the close event. A code of 0 accepts any code; the
// reason is only checked when given.
func (c *Chain) ExpectClosed(code int, reason ...string) *Chain {
	op := expectClosedOp{code: code}
	if len(reason) > 0 {
		op.reason = &reason[0]
	}
	return c.then(op)
}

// ExpectUpgrade checks the handshake response. Returning false fails.
func (c *Chain) ExpectUpgrade(check func(*http.Response) bool) *Chain {
	return c.then(expectUpgradeOp{check: check})
}

// ExpectConnectionError waits for the connection attempt and succeeds only
// if it fails. expected may be nil, a status code (int) or the exact error
// message. It must be the first call on the chain and finishes it.
func (c *Chain) ExpectConnectionError(expected any) error {
	c.mu.Lock()
	if c.steps > 0 || c.terminal {
		c.mu.Unlock()
		return configurationError("ExpectConnectionError must be the only operation on the chain")
	}
	c.startLocked()
	c.terminal = true
	tail := c.tail
	c.mu.Unlock()

	<-tail.done

	var err error
	if tail.err == nil {
		tail.conn.Close(0, "")
		err = newChainError(ErrExpectationMismatch, nil, "Expected connection failure, but succeeded")
	} else {
		err = checkConnectionError(tail.err, expected)
	}

	// the chain now settles with the inverted outcome, unless steps were
	// appended meanwhile; those already settled with a configuration error
	res := &stepResult{done: make(chan struct{}), conn: tail.conn, err: err}
	close(res.done)

	c.mu.Lock()
	c.state = stateSettled
	if c.tail == tail {
		c.tail = res
	}
	c.mu.Unlock()

	return err
}

func checkConnectionError(err error, expected any) error {
	var want string
	switch e := expected.(type) {
	case nil:
		return nil
	case int:
		if e == 0 {
			return nil
		}
		want = fmt.Sprintf("Unexpected server response: %d", e)
	case string:
		if e == "" {
			return nil
		}
		want = e
	default:
		want = fmt.Sprint(e)
	}

	if actual := err.Error(); actual != want {
		return newChainError(ErrExpectationMismatch, err,
			"Expected connection failure with message %q, got %q", want, actual)
	}
	return nil
}

// Err blocks until every step appended so far has settled and returns the
// first failure.
func (c *Chain) Err() error {
	_, err := c.Conn()
	return err
}

// Conn blocks like Err and also returns the connection.
func (c *Chain) Conn() (*Conn, error) {
	c.mu.Lock()
	c.startLocked()
	tail := c.tail
	conn := c.conn
	c.mu.Unlock()

	<-tail.done
	return conn, tail.err
}

// Done is closed once every step appended so far has settled.
func (c *Chain) Done() <-chan struct{} {
	c.mu.Lock()
	c.startLocked()
	tail := c.tail
	c.mu.Unlock()
	return tail.done
}

func binaryExpectation(v any) (any, error) {
	return binaryPayload(v)
}
