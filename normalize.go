package wschain

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Conversion turns an inbound message into the value checks run against.
type Conversion func(Message) (any, error)

var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// AsRaw passes the message through unchanged.
func AsRaw(m Message) (any, error) {
	return m, nil
}

// AsText yields the payload of a text message as a string.
func AsText(m Message) (any, error) {
	return text(m)
}

// AsJSON parses a text message as JSON. Objects decode to map[string]any and
// numbers to float64.
func AsJSON(m Message) (any, error) {
	s, err := text(m)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, newChainError(ErrConversion, err, "%s", err.Error())
	}
	return v, nil
}

// AsBinary yields the payload of a binary message.
func AsBinary(m Message) (any, error) {
	return binary(m)
}

// AsCBOR decodes a binary message as CBOR. Maps decode to map[string]any.
func AsCBOR(m Message) (any, error) {
	b, err := binary(m)
	if err != nil {
		return nil, err
	}
	var v any
	if err := cborDecMode.Unmarshal(b, &v); err != nil {
		return nil, newChainError(ErrConversion, err, "%s", err.Error())
	}
	return v, nil
}

func text(m Message) (string, error) {
	if m.IsBinary() {
		return "", ErrNotText
	}
	return string(m.Data()), nil
}

func binary(m Message) ([]byte, error) {
	if !m.IsBinary() {
		return nil, ErrNotBinary
	}
	return m.Data(), nil
}

// textPayload renders an outbound text payload.
func textPayload(v any) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case []byte:
		return t
	case fmt.Stringer:
		return []byte(t.String())
	default:
		return []byte(fmt.Sprint(v))
	}
}

// jsonPayload serializes v. Map keys come out sorted.
func jsonPayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(ErrConversion, err.Error())
	}
	return b, nil
}

func cborPayload(v any) ([]byte, error) {
	b, err := cborEncMode.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(ErrConversion, err.Error())
	}
	return b, nil
}

// binaryPayload normalizes byte slices, byte arrays, strings and integer
// slices to a byte view.
func binaryPayload(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case []int:
		out := make([]byte, len(t))
		for i, n := range t {
			out[i] = byte(n)
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return out, nil
	}
	return nil, errors.Wrapf(ErrConversion, "cannot send %T as binary", v)
}

// normalizeJSON round-trips v through encoding/json so literals compare
// equal to parsed payloads.
func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeCBOR(v any) (any, error) {
	b, err := cborEncMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := cborDecMode.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
