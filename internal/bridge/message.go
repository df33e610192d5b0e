package bridge

import (
	"context"
	"encoding/base64"
)

// MessageType discriminates endpoint messages.
type MessageType string

const (
	// Endpoint to bridge.
	TypeAudio        MessageType = "audio"
	TypePlaybackDone MessageType = "playback_done"

	// Bridge to endpoint. TypeAudio is used in both directions.
	TypeStatus    MessageType = "status"
	TypeListening MessageType = "listening"
	TypeDone      MessageType = "done"
)

// Message is one JSON frame exchanged with the endpoint. Data carries
// base64-encoded audio; Text carries status text.
type Message struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`
	Text string      `json:"text,omitempty"`
}

// StatusMessage tells the endpoint what the bridge is doing.
func StatusMessage(text string) Message {
	return Message{Type: TypeStatus, Text: text}
}

// AudioMessage carries an encoded audio payload.
func AudioMessage(audio []byte) Message {
	return Message{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString(audio)}
}

// ListeningMessage tells the endpoint to start recording.
func ListeningMessage() Message { return Message{Type: TypeListening} }

// DoneMessage tells the endpoint the exchange is over.
func DoneMessage() Message { return Message{Type: TypeDone} }

// PlaybackDoneMessage is sent by the endpoint when audio playback finished.
func PlaybackDoneMessage() Message { return Message{Type: TypePlaybackDone} }

// Audio decodes the payload of an audio message.
func (m Message) Audio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Data)
}

// Conn is one live duplex connection to the endpoint. Receive is called from
// a single goroutine; Send may be called concurrently with Receive.
type Conn interface {
	// Receive blocks for the next message. It returns io.EOF when the peer
	// closed the connection normally.
	Receive(ctx context.Context) (Message, error)

	// Send delivers one message.
	Send(ctx context.Context, msg Message) error

	// RemoteAddr describes the peer for logs.
	RemoteAddr() string
}
