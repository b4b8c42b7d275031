// Package gemini adapts the Gemini Live BidiGenerateContent WebSocket API to
// the gateway's provider contract. Wire envelopes are the genai SDK types.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/voxbridge/adapters/realtime"
	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
)

const (
	ProviderID   = "gemini"
	DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	SampleRate   = 16000

	inputMIMEType       = "audio/pcm;rate=16000"
	defaultSetupTimeout = 15 * time.Second
)

// ErrGoAway is reported when the server announces it will close the session
var ErrGoAway = errors.New("Server requested disconnect")

// DefaultVoices is the voice catalog advertised when none is configured
var DefaultVoices = []entities.Voice{
	{ID: "Puck", Name: "Puck"},
	{ID: "Charon", Name: "Charon"},
	{ID: "Kore", Name: "Kore"},
	{ID: "Fenrir", Name: "Fenrir"},
	{ID: "Aoede", Name: "Aoede"},
}

// Config holds the Gemini provider configuration
type Config struct {
	APIKey       string
	Model        string
	URL          string
	Name         string
	Voices       []entities.Voice
	SetupTimeout time.Duration
}

// Provider connects sessions to the Gemini Live API
type Provider struct {
	config Config
	logger *zap.Logger
}

// NewProvider applies defaults and validates the configuration
func NewProvider(config Config, logger *zap.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("Google AI API key is required")
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
	if config.SetupTimeout <= 0 {
		config.SetupTimeout = defaultSetupTimeout
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

// clientMessage is the client envelope. Realtime input uses the send
// parameters type, which carries the audio and audioStreamEnd fields.
type clientMessage struct {
	Setup         *genai.LiveClientSetup                 `json:"setup,omitempty"`
	ClientContent *genai.LiveClientContent               `json:"clientContent,omitempty"`
	RealtimeInput *genai.LiveSendRealtimeInputParameters `json:"realtimeInput,omitempty"`
}

// Connect sends setup and waits for setupComplete
func (p *Provider) Connect(ctx context.Context, config repositories.SessionConfig) (repositories.Connection, error) {
	endpoint, err := url.Parse(p.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Gemini URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("key", p.config.APIKey)
	endpoint.RawQuery = query.Encode()

	socket, err := realtime.Dial(ctx, endpoint.String(), nil, p.logger)
	if err != nil {
		return nil, err
	}

	if err := socket.WriteJSON(clientMessage{Setup: p.setup(config)}); err != nil {
		socket.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	deadline := time.Now().Add(p.config.SetupTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	err = socket.ReadUntil(deadline, func(data []byte) bool {
		var msg genai.LiveServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return false
		}
		return msg.SetupComplete != nil
	})
	if err != nil {
		socket.Close()
		p.logger.Warn("Gemini setup failed", zap.Error(err))
		return nil, err
	}

	conn := &Connection{socket: socket, logger: p.logger}
	socket.Listen(conn.handle)

	p.logger.Info("Gemini live session opened", zap.String("model", p.model(config)))
	return conn, nil
}

func (p *Provider) model(config repositories.SessionConfig) string {
	if config.Model != "" {
		return config.Model
	}
	return p.config.Model
}

func (p *Provider) setup(config repositories.SessionConfig) *genai.LiveClientSetup {
	voice := config.Voice
	if voice == "" {
		voice = p.Info().DefaultVoice()
	}

	setup := &genai.LiveClientSetup{
		Model: "models/" + p.model(config),
		GenerationConfig: &genai.GenerationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}
	if config.SystemInstruction != "" {
		setup.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: config.SystemInstruction}},
		}
	}
	if config.Transcription.Input {
		setup.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if config.Transcription.Output {
		setup.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if len(config.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(config.Tools))
		for _, t := range config.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		setup.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return setup
}

// Connection is one Gemini live session
type Connection struct {
	socket *realtime.Socket
	logger *zap.Logger

	mu           sync.Mutex
	inputBuffer  strings.Builder
	outputBuffer strings.Builder
}

func (c *Connection) Send(message repositories.Message) {
	switch message.Type {
	case repositories.MessageTypeAudio:
		c.socket.Send(clientMessage{RealtimeInput: &genai.LiveSendRealtimeInputParameters{
			Audio: &genai.Blob{Data: message.Data, MIMEType: inputMIMEType},
		}})
	case repositories.MessageTypeText:
		c.socket.Send(clientMessage{ClientContent: &genai.LiveClientContent{
			Turns:        []*genai.Content{genai.NewContentFromText(message.Content, genai.RoleUser)},
			TurnComplete: true,
		}})
	}
}

// Interrupt ends the current audio stream
func (c *Connection) Interrupt() {
	c.socket.Send(clientMessage{RealtimeInput: &genai.LiveSendRealtimeInputParameters{AudioStreamEnd: true}})
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
	var msg genai.LiveServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.socket.EmitError(fmt.Errorf("decode Gemini message: %w", err))
		return
	}

	if content := msg.ServerContent; content != nil {
		c.handleContent(content)
	}

	if msg.GoAway != nil {
		c.logger.Warn("Gemini sent goAway", zap.Duration("timeLeft", msg.GoAway.TimeLeft))
		c.socket.EmitError(ErrGoAway)
	}
}

func (c *Connection) handleContent(content *genai.LiveServerContent) {
	if turn := content.ModelTurn; turn != nil {
		for _, part := range turn.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				c.socket.EmitAudio(part.InlineData.Data)
			}
		}
	}

	for _, t := range c.transcriptions(content) {
		c.socket.EmitTranscription(t)
	}

	if content.TurnComplete {
		c.socket.EmitTurnComplete()
	}
	if content.Interrupted {
		c.socket.EmitInterrupted()
	}
}

// transcriptions folds one server content into the per-role buffers and
// returns the updates to emit, in order.
//
// Both directions arrive as fragments. User text is finalized when assistant
// text starts, since the server sends no explicit end of the user turn.
// turnComplete finalizes both buffers; interrupted discards them.
func (c *Connection) transcriptions(content *genai.LiveServerContent) []entities.Transcription {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []entities.Transcription

	if in := content.InputTranscription; in != nil && in.Text != "" {
		c.inputBuffer.WriteString(in.Text)
		out = append(out, entities.Transcription{Role: entities.RoleUser, Text: c.inputBuffer.String()})
	}

	if o := content.OutputTranscription; o != nil && o.Text != "" {
		if c.inputBuffer.Len() > 0 {
			out = append(out, entities.Transcription{Role: entities.RoleUser, Text: c.inputBuffer.String(), Final: true})
			c.inputBuffer.Reset()
		}
		c.outputBuffer.WriteString(o.Text)
		out = append(out, entities.Transcription{Role: entities.RoleAssistant, Text: c.outputBuffer.String()})
	}

	if content.TurnComplete {
		if c.inputBuffer.Len() > 0 {
			out = append(out, entities.Transcription{Role: entities.RoleUser, Text: c.inputBuffer.String(), Final: true})
			c.inputBuffer.Reset()
		}
		if c.outputBuffer.Len() > 0 {
			out = append(out, entities.Transcription{Role: entities.RoleAssistant, Text: c.outputBuffer.String(), Final: true})
			c.outputBuffer.Reset()
		}
	}

	if content.Interrupted {
		c.inputBuffer.Reset()
		c.outputBuffer.Reset()
	}

	return out
}
