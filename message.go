package wschain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

type MessageType byte

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
	CloseMessage  MessageType = 8
	PingMessage   MessageType = 9
	PongMessage   MessageType = 10
)

func (t MessageType) Is(other MessageType) bool {
	return t == other
}

func (t MessageType) IsText() bool {
	return t.Is(TextMessage)
}

func (t MessageType) IsBinary() bool {
	return t.Is(BinaryMessage)
}

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "TEXT"
	case BinaryMessage:
		return "BIN"
	case CloseMessage:
		return "CLOSE"
	case PingMessage:
		return "PING"
	case PongMessage:
		return "PONG"
	default:
		return fmt.Sprintf("TYPE(%d)", byte(t))
	}
}

// Message is an inbound data frame. It is immutable and delivered to at most
// one reader.
type Message interface {
	Type() MessageType
	Data() []byte
	IsBinary() bool
	String() string
}

type message struct {
	MessageType MessageType
	MessageData []byte
}

func (m message) Type() MessageType {
	return m.MessageType
}

func (m message) Data() []byte {
	return m.MessageData
}

func (m message) IsBinary() bool {
	return m.MessageType.IsBinary()
}

func (m message) String() string {
	if m.IsBinary() {
		return "binary " + stringifyBinary(m.MessageData)
	}
	return "text " + stringify(string(m.MessageData))
}

func NewMessage(mt MessageType, data []byte) Message {
	return message{MessageType: mt, MessageData: data}
}

func NewTextMessage(data []byte) Message {
	return NewMessage(TextMessage, data)
}

func NewBinaryMessage(data []byte) Message {
	return NewMessage(BinaryMessage, data)
}

// CloseEvent is the resolved value of a connection's close future.
type CloseEvent struct {
	Code   int
	Reason string
}

func (e CloseEvent) String() string {
	return fmt.Sprintf("%d %q", e.Code, e.Reason)
}

// stringifyBinary renders bytes as spaced hex groups: [01 ab ff].
func stringifyBinary(b []byte) string {
	h := hex.EncodeToString(b)
	var sb strings.Builder
	sb.Grow(len(h) + len(h)/2 + 2)
	sb.WriteByte('[')
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(h[i : i+2])
	}
	sb.WriteByte(']')
	return sb.String()
}
