// Package hub fans detector status, fall events and preview frames out to
// dashboard websocket clients using a channel-based broadcast loop.
package hub

import (
	"encoding/json"

	"github.com/teslashibe/fallwatch/pkg/protocol"
)

// MessageType indicates the websocket frame type a message is written as.
type MessageType int

const (
	// JSONMessage is written as a text frame
	JSONMessage MessageType = iota
	// BinaryMessage is written as a binary frame (JPEG previews)
	BinaryMessage
)

// Message is one broadcast payload.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Encode wraps data in a protocol envelope of type t.
func Encode(t protocol.MessageType, data any) (Message, error) {
	msg, err := protocol.NewMessage(t, data)
	if err != nil {
		return Message{}, err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(raw), nil
}
