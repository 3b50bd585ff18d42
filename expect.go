package wschain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// ExpectOptions tunes a single expect or wait-for step. A zero Timeout
// falls back to the request defaults; no default means no deadline.
type ExpectOptions struct {
	Timeout time.Duration
}

// errCheckFalse marks a predicate that returned false.
var errCheckFalse = errors.New("check returned false")

// Check is a labelled predicate over a converted message value. The label
// is what diagnostics print in place of the expected value.
type Check struct {
	label string
	fn    func(v any) error
}

func (c Check) String() string {
	if c.label == "" {
		return "matching function"
	}
	return c.label
}

// Matching builds a Check from fn, which must be a func(T) bool,
// func(T) error or func(T). A bool result of false or a non-nil error is a
// mismatch; anything else passes.
func Matching(label string, fn any) Check {
	test, err := adaptPredicate(fn)
	if err != nil {
		return Check{label: label, fn: func(any) error { return err }}
	}
	return Check{label: label, fn: test}
}

func adaptPredicate(fn any) (func(any) error, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() != 1 || ft.NumOut() > 1 {
		return nil, errors.Errorf("unsupported check %T", fn)
	}

	errType := reflect.TypeOf((*error)(nil)).Elem()
	if ft.NumOut() == 1 && ft.Out(0).Kind() != reflect.Bool && ft.Out(0) != errType {
		return nil, errors.Errorf("unsupported check %T", fn)
	}

	in := ft.In(0)
	return func(v any) error {
		var arg reflect.Value
		switch {
		case v == nil:
			arg = reflect.Zero(in)
		case reflect.TypeOf(v).AssignableTo(in):
			arg = reflect.ValueOf(v)
		case reflect.TypeOf(v).ConvertibleTo(in):
			arg = reflect.ValueOf(v).Convert(in)
		default:
			return errors.Errorf("cannot apply %s to %T", ft, v)
		}

		out := fv.Call([]reflect.Value{arg})
		if len(out) == 0 {
			return nil
		}
		if out[0].Kind() == reflect.Bool {
			if !out[0].Bool() {
				return errCheckFalse
			}
			return nil
		}
		if out[0].IsNil() {
			return nil
		}
		return out[0].Interface().(error)
	}, nil
}

// matcher is the compiled form of an expected value.
type matcher struct {
	label string
	test  func(v any) error
}

// newMatcher compiles expected. normalize, when set, canonicalizes literal
// values into the shape the conversion produces.
func newMatcher(expected any, normalize func(any) (any, error)) (*matcher, error) {
	switch e := expected.(type) {
	case nil:
		return nil, nil
	case Check:
		return &matcher{label: e.String(), test: e.fn}, nil
	case *Check:
		return &matcher{label: e.String(), test: e.fn}, nil
	case *regexp.Regexp:
		return &matcher{
			label: "matching /" + e.String() + "/",
			test: func(v any) error {
				s, ok := v.(string)
				if !ok {
					s = stringify(v)
				}
				if !e.MatchString(s) {
					return errCheckFalse
				}
				return nil
			},
		}, nil
	}

	if reflect.TypeOf(expected).Kind() == reflect.Func {
		test, err := adaptPredicate(expected)
		if err != nil {
			return nil, configurationError("%s", err)
		}
		return &matcher{label: "matching function", test: test}, nil
	}

	want := expected
	if normalize != nil {
		n, err := normalize(expected)
		if err != nil {
			return nil, configurationError("cannot use %T as expected value: %s", expected, err)
		}
		want = n
	}

	return &matcher{
		label: stringify(want),
		test: func(v any) error {
			if !assert.ObjectsAreEqual(want, v) {
				return errCheckFalse
			}
			return nil
		},
	}, nil
}

func (m *matcher) String() string {
	if m == nil {
		return "any message"
	}
	return m.label
}

// stringify renders values for diagnostics: JSON for plain values, spaced
// hex for bytes and a label for checks.
func stringify(v any) string {
	switch t := v.(type) {
	case Check:
		return t.String()
	case *matcher:
		return t.String()
	case *regexp.Regexp:
		return "matching /" + t.String() + "/"
	case []byte:
		return stringifyBinary(t)
	case Message:
		return t.String()
	}
	if v != nil && reflect.TypeOf(v).Kind() == reflect.Func {
		return "matching function"
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func mismatch(m *matcher, v any, err error) error {
	if err == nil || errors.Is(err, errCheckFalse) {
		return newChainError(ErrExpectationMismatch, nil,
			"Expected message %s, got %s", m, stringify(v))
	}
	return newChainError(ErrExpectationMismatch, err,
		"Expected message %s, got %s: %s", m, stringify(v), err)
}

// receiveFailure describes a pop that produced no message.
func receiveFailure(m *matcher, err error) error {
	var closed connClosedError
	if errors.As(err, &closed) {
		return newChainError(ErrConnectionClosedEarly, err,
			"Expected message %s, but connection closed: %d %q", m, closed.event.Code, closed.event.Reason)
	}
	if errors.Is(err, ErrTimeout) {
		return newChainError(ErrTimeout, err, "Expected message %s, but got %s", m, err)
	}
	return newChainError(ErrConnectionClosedEarly, err, "Expected message %s, but got %s", m, err)
}

func expectMessage(ctx context.Context, c *Conn, conv Conversion, m *matcher, opts ExpectOptions) error {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.defaults.DefaultExpectOptions.Timeout.Duration()
	}

	msg, err := c.next(ctx, timeout)
	if err != nil {
		return receiveFailure(m, err)
	}

	v, err := conv(msg)
	if err != nil {
		return err
	}

	if m == nil {
		return nil
	}
	if err := m.test(v); err != nil {
		return mismatch(m, v, err)
	}
	return nil
}

// waitForMessage discards messages until one converts and matches. Messages
// that fail conversion count as non-matching rather than as errors.
func waitForMessage(ctx context.Context, c *Conn, conv Conversion, m *matcher, opts ExpectOptions) error {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.defaults.DefaultWaitForOptions.Timeout.Duration()
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	var rejected []string
	for {
		var remaining time.Duration
		var err error
		var msg Message

		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				err = timeoutError{after: timeout}
			}
		}
		if err == nil {
			msg, err = c.next(ctx, remaining)
			if errors.Is(err, ErrTimeout) {
				err = timeoutError{after: timeout}
			}
		}

		if err != nil {
			failure := receiveFailure(m, err)
			if len(rejected) == 0 {
				return failure
			}
			return newChainError(errorKind(failure), failure,
				"Received %d message(s) while waiting for %s, but none matched:\n  %s\n%s",
				len(rejected), m, strings.Join(rejected, "\n  "), failure)
		}

		v, err := conv(msg)
		if err != nil {
			rejected = append(rejected, fmt.Sprintf("%s (%s)", msg, err))
			continue
		}
		if m == nil {
			return nil
		}
		if err := m.test(v); err != nil {
			if errors.Is(err, errCheckFalse) {
				rejected = append(rejected, stringify(v))
			} else {
				rejected = append(rejected, fmt.Sprintf("%s (%s)", stringify(v), err))
			}
			continue
		}
		return nil
	}
}

func errorKind(err error) error {
	var ce *chainError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return err
}
