package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/voxbridge/domain/entities"
)

// ErrUnknownProvider is returned when a provider id is not configured
var ErrUnknownProvider = errors.New("unknown provider")

// Provider abstracts an upstream realtime voice API
type Provider interface {
	// Info returns the static description broadcast in the handshake
	Info() entities.ProviderInfo
	// Connect opens an upstream session. It returns only after the upstream
	// handshake is acknowledged, or fails when the setup deadline elapses.
	Connect(ctx context.Context, config SessionConfig) (Connection, error)
}

// Connection is one live upstream session.
//
// Send is fire-and-forget: failures surface through the OnError handler.
// Disconnect is idempotent and no handler fires after it has been called.
type Connection interface {
	Send(message Message)
	OnAudio(handler func(audio []byte))
	OnTranscription(handler func(t entities.Transcription))
	OnTurnComplete(handler func())
	OnInterrupted(handler func())
	OnError(handler func(err error))
	// Interrupt signals end of input or barge-in without closing the connection
	Interrupt()
	Disconnect(ctx context.Context) error
}

// MessageType defines what a Message carries
type MessageType string

const (
	MessageTypeAudio MessageType = "audio"
	MessageTypeText  MessageType = "text"
)

// Message is client input forwarded to a provider
type Message struct {
	Type    MessageType
	Data    []byte
	Content string
}

// AudioMessage wraps raw PCM16 bytes
func AudioMessage(data []byte) Message {
	return Message{Type: MessageTypeAudio, Data: data}
}

// TextMessage wraps a text turn
func TextMessage(content string) Message {
	return Message{Type: MessageTypeText, Content: content}
}

// TranscriptionFlags toggles upstream transcription per direction
type TranscriptionFlags struct {
	Input  bool `json:"input" yaml:"input"`
	Output bool `json:"output" yaml:"output"`
}

// ToolDefinition is a function declaration offered to the model
type ToolDefinition struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// SessionConfig is passed to Provider.Connect
type SessionConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
	History           []entities.Transcription
	Transcription     TranscriptionFlags
	Tools             []ToolDefinition
}
