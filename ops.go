package wschain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// operation is one step of a chain, applied to an open connection.
type operation interface {
	apply(ctx context.Context, c *Conn) error
	String() string
}

type payloadKind byte

const (
	payloadRaw payloadKind = iota
	payloadText
	payloadJSON
	payloadBinary
	payloadCBOR
)

// SendOptions tunes Send.
type SendOptions struct {
	Binary bool
}

type sendOp struct {
	kind  payloadKind
	value any
	opts  SendOptions
}

func (o sendOp) apply(ctx context.Context, c *Conn) error {
	var (
		data   []byte
		binary bool
		err    error
	)

	switch o.kind {
	case payloadText:
		data = textPayload(o.value)
	case payloadJSON:
		data, err = jsonPayload(o.value)
	case payloadBinary:
		data, err = binaryPayload(o.value)
		binary = true
	case payloadCBOR:
		data, err = cborPayload(o.value)
		binary = true
	default:
		binary = o.opts.Binary
		if binary {
			data, err = binaryPayload(o.value)
		} else {
			data = textPayload(o.value)
		}
	}
	if err != nil {
		return err
	}

	return c.Send(ctx, data, binary)
}

func (o sendOp) String() string {
	names := [...]string{"send", "sendText", "sendJSON", "sendBinary", "sendCBOR"}
	return names[o.kind]
}

type pingOp struct {
	data []byte
}

func (o pingOp) apply(ctx context.Context, c *Conn) error { return c.Ping(ctx, o.data) }

func (o pingOp) String() string { return "ping" }

type waitOp struct {
	d time.Duration
}

func (o waitOp) apply(ctx context.Context, _ *Conn) error {
	t := time.NewTimer(o.d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o waitOp) String() string { return fmt.Sprintf("wait(%s)", o.d) }

type execOp struct {
	fn func(ctx context.Context, c *Conn) error
}

func (o execOp) apply(ctx context.Context, c *Conn) error {
	return o.fn(ctx, c)
}

func (o execOp) String() string { return "exec" }

type expectOp struct {
	name string
	conv Conversion
	m    *matcher
	opts ExpectOptions
	scan bool
}

func (o expectOp) apply(ctx context.Context, c *Conn) error {
	if o.scan {
		return waitForMessage(ctx, c, o.conv, o.m, o.opts)
	}
	return expectMessage(ctx, c, o.conv, o.m, o.opts)
}

func (o expectOp) String() string { return fmt.Sprintf("%s(%s)", o.name, o.m) }

type closeOp struct {
	code   int
	reason string
}

func (o closeOp) apply(_ context.Context, c *Conn) error {
	c.Close(o.code, o.reason)
	return nil
}

func (o closeOp) String() string { return fmt.Sprintf("close(%d)", o.code) }

type expectClosedOp struct {
	code   int
	reason *string
}

func (o expectClosedOp) apply(ctx context.Context, c *Conn) error {
	select {
	case <-c.Closed():
	case <-ctx.Done():
		return ctx.Err()
	}

	ev, _ := c.CloseEvent()
	if o.code != 0 && ev.Code != o.code {
		return newChainError(ErrExpectationMismatch, nil,
			"Expected close code %d, got %d %q", o.code, ev.Code, ev.Reason)
	}
	if o.reason != nil && ev.Reason != *o.reason {
		return newChainError(ErrExpectationMismatch, nil,
			"Expected close message %q, got %d %q", *o.reason, ev.Code, ev.Reason)
	}
	return nil
}

func (o expectClosedOp) String() string { return "expectClosed" }

type expectUpgradeOp struct {
	check func(*http.Response) bool
}

func (o expectUpgradeOp) apply(ctx context.Context, c *Conn) error {
	resp, err := c.Upgrade(ctx)
	if err != nil {
		return err
	}
	if o.check(resp) {
		return nil
	}

	var (
		status  int
		headers []byte
	)
	if resp != nil {
		status = resp.StatusCode
		headers, _ = json.Marshal(resp.Header)
	}
	return newChainError(ErrExpectationMismatch, nil,
		"Expected Upgrade matching assertion, got: status %d headers %s", status, headers)
}

func (o expectUpgradeOp) String() string { return "expectUpgrade" }

// failOp fails the chain with a fixed error, e.g. misuse detected when the
// step was declared.
type failOp struct {
	err error
}

func (o failOp) apply(context.Context, *Conn) error { return o.err }

func (o failOp) String() string { return "fail" }
