package terminal

import (
	"encoding/json"
	"errors"
	"unicode/utf8"
)

// MessageType tags a Message on the wire.
type MessageType string

const (
	TypeStdout MessageType = "stdout"
	TypeStdin  MessageType = "stdin"
	TypeError  MessageType = "error"
	TypeResize MessageType = "resize"
)

// ErrUnknownMessage is returned for client messages that are not stdin or
// resize.
var ErrUnknownMessage = errors.New("unknown message type")

// Message is a single framed terminal message.
type Message struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`
	Cols uint16      `json:"cols,omitempty"`
	Rows uint16      `json:"rows,omitempty"`
}

func stdoutMessage(data string) Message { return Message{Type: TypeStdout, Data: data} }
func errorMessage(text string) Message  { return Message{Type: TypeError, Data: text} }

// DecodeClientMessage parses a client frame. Only stdin and resize are
// accepted.
func DecodeClientMessage(b []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, err
	}
	switch msg.Type {
	case TypeStdin:
		return Message{Type: TypeStdin, Data: msg.Data}, nil
	case TypeResize:
		if msg.Cols == 0 || msg.Rows == 0 {
			return Message{}, errors.New("resize requires cols and rows")
		}
		return Message{Type: TypeResize, Cols: msg.Cols, Rows: msg.Rows}, nil
	default:
		return Message{}, ErrUnknownMessage
	}
}

// splitUTF8 returns the longest prefix of b that does not end in a partial
// UTF-8 sequence, and the trailing bytes to carry into the next read. PTY
// reads can cut a multi-byte character in half; JSON strings cannot carry
// the halves.
func splitUTF8(b []byte) (complete, rest []byte) {
	// A UTF-8 sequence is at most 4 bytes, so only the tail needs checking.
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			// ASCII byte: nothing after it can be a partial start.
			return b, nil
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-i:]) {
				return b, nil
			}
			return b[:len(b)-i], b[len(b)-i:]
		}
	}
	return b, nil
}
