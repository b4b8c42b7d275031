package websocket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/voxbridge/domain/entities"
)

// MessageType defines the type of a unified protocol message
type MessageType string

// Client to gateway
const (
	MessageTypeSelectProvider MessageType = "select_provider"
	MessageTypeAudio          MessageType = "audio"
	MessageTypeText           MessageType = "text"
	MessageTypeInterrupt      MessageType = "interrupt"
	MessageTypeReconnect      MessageType = "reconnect"
)

// Gateway to client
const (
	MessageTypeHandshake     MessageType = "handshake"
	MessageTypeSessionReady  MessageType = "session_ready"
	MessageTypeHistory       MessageType = "history"
	MessageTypeTranscription MessageType = "transcription"
	MessageTypeTurnComplete  MessageType = "turn_complete"
	MessageTypeInterrupted   MessageType = "interrupted"
	MessageTypeError         MessageType = "error"
)

// Error codes carried by error messages
const (
	ErrorCodeMessage         = "MESSAGE_ERROR"
	ErrorCodeInvalidProvider = "INVALID_PROVIDER"
	ErrorCodeProvider        = "PROVIDER_ERROR"
)

var (
	ErrMissingType = errors.New("message missing type field")
	ErrUnknownType = errors.New("unknown message type")
)

// ClientMessage is any message a client can send. Audio arrives in Data.
type ClientMessage struct {
	Type       MessageType `json:"type"`
	ProviderID string      `json:"providerId,omitempty"`
	VoiceID    string      `json:"voiceId,omitempty"`
	Content    string      `json:"content,omitempty"`
	SessionID  string      `json:"sessionId,omitempty"`
	Data       []byte      `json:"data,omitempty"`
}

// ParseClientMessage decodes one WebSocket frame. Binary frames are audio
// unless they hold a JSON document; text frames must be JSON.
func ParseClientMessage(frameType int, payload []byte) (ClientMessage, error) {
	if frameType == websocket.BinaryMessage {
		if looksLikeJSON(payload) {
			if msg, err := decodeClientMessage(payload); err == nil {
				return msg, nil
			}
		}
		return ClientMessage{Type: MessageTypeAudio, Data: payload}, nil
	}
	return decodeClientMessage(payload)
}

func looksLikeJSON(payload []byte) bool {
	return len(payload) > 0 && (payload[0] == '{' || payload[0] == '[')
}

func decodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(bytes.TrimSpace(payload), &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("failed to parse message: %w", err)
	}

	switch msg.Type {
	case "":
		return ClientMessage{}, ErrMissingType
	case MessageTypeSelectProvider, MessageTypeAudio, MessageTypeText, MessageTypeInterrupt, MessageTypeReconnect:
		return msg, nil
	default:
		return ClientMessage{}, fmt.Errorf("%w: %s", ErrUnknownType, msg.Type)
	}
}

// HandshakeMessage lists the configured providers
type HandshakeMessage struct {
	Type            MessageType             `json:"type"`
	Providers       []entities.ProviderInfo `json:"providers"`
	DefaultProvider string                  `json:"defaultProvider,omitempty"`
}

// SessionReadyMessage confirms a provider connection
type SessionReadyMessage struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"sessionId"`
	SampleRate int         `json:"sampleRate"`
}

// HistoryMessage carries the persisted conversation
type HistoryMessage struct {
	Type     MessageType              `json:"type"`
	Messages []entities.Transcription `json:"messages"`
}

// TranscriptionMessage forwards a provider transcription
type TranscriptionMessage struct {
	Type  MessageType   `json:"type"`
	Role  entities.Role `json:"role"`
	Text  string        `json:"text"`
	Final bool          `json:"final"`
}

// SignalMessage is a message with no payload
type SignalMessage struct {
	Type MessageType `json:"type"`
}

// ErrorMessage reports a session scoped failure
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// ServerMessage is the union of every gateway message, for decoding on the
// client side.
type ServerMessage struct {
	Type            MessageType              `json:"type"`
	Providers       []entities.ProviderInfo  `json:"providers,omitempty"`
	DefaultProvider string                   `json:"defaultProvider,omitempty"`
	SessionID       string                   `json:"sessionId,omitempty"`
	SampleRate      int                      `json:"sampleRate,omitempty"`
	Messages        []entities.Transcription `json:"messages,omitempty"`
	Role            entities.Role            `json:"role,omitempty"`
	Text            string                   `json:"text,omitempty"`
	Final           bool                     `json:"final,omitempty"`
	Code            string                   `json:"code,omitempty"`
	Message         string                   `json:"message,omitempty"`
}

// Transcription returns the transcription carried by a transcription message
func (m ServerMessage) Transcription() entities.Transcription {
	return entities.Transcription{Role: m.Role, Text: m.Text, Final: m.Final}
}

// ParseServerMessage decodes a gateway JSON message
func ParseServerMessage(payload []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("failed to parse server message: %w", err)
	}
	if msg.Type == "" {
		return ServerMessage{}, ErrMissingType
	}
	return msg, nil
}

// WriteData is one outbound frame
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

func jsonFrame(v any) (WriteData, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return WriteData{}, err
	}
	return WriteData{Type: websocket.TextMessage, Payload: payload}, nil
}
