// Package openai adapts the OpenAI Realtime WebSocket API to the gateway's
// provider contract.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/adapters/realtime"
	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
)

const (
	ProviderID        = "openai"
	DefaultModel      = "gpt-realtime-2025-08-28"
	DefaultURL        = "wss://api.openai.com/v1/realtime"
	SampleRate        = 24000
	transcriptionName = "whisper-1"
)

// DefaultVoices is the voice catalog advertised when none is configured
var DefaultVoices = []entities.Voice{
	{ID: "alloy", Name: "Alloy"},
	{ID: "echo", Name: "Echo"},
	{ID: "fable", Name: "Fable"},
	{ID: "onyx", Name: "Onyx"},
	{ID: "nova", Name: "Nova"},
	{ID: "shimmer", Name: "Shimmer"},
}

// Config holds the OpenAI provider configuration
type Config struct {
	APIKey string
	Model  string
	// URL overrides the realtime endpoint, without the model query
	URL    string
	Name   string
	Voices []entities.Voice
}

// Provider connects sessions to the OpenAI Realtime API
type Provider struct {
	config Config
	logger *zap.Logger
}

// NewProvider applies defaults and validates the configuration
func NewProvider(config Config, logger *zap.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.Name == "" {
		config.Name = ProviderID
	}
	if len(config.Voices) == 0 {
		config.Voices = DefaultVoices
	}

	return &Provider{config: config, logger: logger.With(zap.String("providerID", ProviderID))}, nil
}

func (p *Provider) Info() entities.ProviderInfo {
	return entities.ProviderInfo{
		ID:         ProviderID,
		Name:       p.config.Name,
		SampleRate: SampleRate,
		Voices:     p.config.Voices,
	}
}

// Connect dials the realtime endpoint, configures the session and replays history
func (p *Provider) Connect(ctx context.Context, config repositories.SessionConfig) (repositories.Connection, error) {
	model := config.Model
	if model == "" {
		model = p.config.Model
	}

	endpoint, err := url.Parse(p.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid OpenAI URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("model", model)
	endpoint.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.config.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	socket, err := realtime.Dial(ctx, endpoint.String(), header, p.logger)
	if err != nil {
		return nil, err
	}

	conn := &Connection{socket: socket, logger: p.logger}
	if err := conn.setup(p.sessionConfig(config), config.History); err != nil {
		socket.Close()
		return nil, err
	}
	socket.Listen(conn.handle)

	p.logger.Info("OpenAI realtime session opened",
		zap.String("model", model),
		zap.Int("history", len(config.History)))
	return conn, nil
}

func (p *Provider) sessionConfig(config repositories.SessionConfig) sessionConfig {
	voice := config.Voice
	if voice == "" {
		voice = p.Info().DefaultVoice()
	}

	sc := sessionConfig{
		Modalities:        []string{"audio", "text"},
		Voice:             voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     turnDetection{Type: "server_vad"},
		Instructions:      config.SystemInstruction,
	}
	if config.Transcription.Input {
		sc.InputAudioTranscription = &transcriptionSpec{Model: transcriptionName}
	}
	for _, t := range config.Tools {
		sc.Tools = append(sc.Tools, tool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return sc
}

// Connection is one OpenAI realtime session
type Connection struct {
	socket *realtime.Socket
	logger *zap.Logger
}

func (c *Connection) setup(session sessionConfig, history []entities.Transcription) error {
	if err := c.socket.WriteJSON(sessionUpdate{Type: eventSessionUpdate, Session: session}); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}

	for _, t := range history {
		if err := c.socket.WriteJSON(historyItem(t)); err != nil {
			return fmt.Errorf("replay history: %w", err)
		}
	}
	return nil
}

func historyItem(t entities.Transcription) itemCreate {
	role, contentType := "user", "input_text"
	if t.Role == entities.RoleAssistant {
		role, contentType = "assistant", "text"
	}
	return itemCreate{
		Type: eventItemCreate,
		Item: item{
			Type:    "message",
			Role:    role,
			Content: []itemContent{{Type: contentType, Text: t.Text}},
		},
	}
}

func (c *Connection) Send(message repositories.Message) {
	switch message.Type {
	case repositories.MessageTypeAudio:
		c.socket.Send(audioAppend{
			Type:  eventAudioAppend,
			Audio: base64.StdEncoding.EncodeToString(message.Data),
		})
	case repositories.MessageTypeText:
		c.socket.Send(historyItem(entities.Transcription{Role: entities.RoleUser, Text: message.Content}))
		c.socket.Send(bareEvent{Type: eventResponseCreate})
	}
}

func (c *Connection) Interrupt() {
	c.socket.Send(bareEvent{Type: eventResponseCancel})
}

func (c *Connection) Disconnect(ctx context.Context) error {
	return c.socket.Disconnect(ctx)
}

func (c *Connection) OnAudio(handler func(audio []byte)) {
	c.socket.OnAudio(handler)
}

func (c *Connection) OnTranscription(handler func(t entities.Transcription)) {
	c.socket.OnTranscription(handler)
}

func (c *Connection) OnTurnComplete(handler func()) {
	c.socket.OnTurnComplete(handler)
}

func (c *Connection) OnInterrupted(handler func()) {
	c.socket.OnInterrupted(handler)
}

func (c *Connection) OnError(handler func(err error)) {
	c.socket.OnError(handler)
}

func (c *Connection) handle(data []byte) {
	var event serverEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.socket.EmitError(fmt.Errorf("decode OpenAI event: %w", err))
		return
	}

	switch event.Type {
	case eventAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(event.Delta)
		if err != nil {
			c.logger.Warn("Dropping undecodable audio delta", zap.Error(err))
			return
		}
		c.socket.EmitAudio(audio)

	case eventInputTranscript:
		c.socket.EmitTranscription(entities.Transcription{Role: entities.RoleUser, Text: event.Transcript, Final: true})

	case eventTranscriptDelta:
		c.socket.EmitTranscription(entities.Transcription{Role: entities.RoleAssistant, Text: event.Delta})

	case eventTranscriptDone:
		// The done payload is the full transcript, not an increment
		c.socket.EmitTranscription(entities.Transcription{Role: entities.RoleAssistant, Text: event.Transcript, Final: true})

	case eventResponseDone:
		c.socket.EmitTurnComplete()

	case eventSpeechStarted:
		c.socket.EmitInterrupted()

	case eventError:
		message := "Unknown error"
		if event.Error != nil && event.Error.Message != "" {
			message = event.Error.Message
		}
		c.socket.EmitError(errors.New(message))
	}
}
