package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
	"github.com/satriahrh/voxbridge/internal/secure"
)

// SessionDefaults are applied to every provider connection
type SessionDefaults struct {
	SystemInstruction string
	Transcription     repositories.TranscriptionFlags
	Tools             []repositories.ToolDefinition
}

// ConnectPlan is everything the gateway needs to open a provider connection
type ConnectPlan struct {
	Provider repositories.Provider
	Info     entities.ProviderInfo
	Config   repositories.SessionConfig
	// Persisted is the stored history loaded for this connect, nil when none
	Persisted []entities.Transcription
}

// SessionService owns provider lookup and conversation persistence for live sessions
type SessionService struct {
	providers map[string]repositories.Provider
	infos     []entities.ProviderInfo
	store     repositories.SessionStore
	cipher    *secure.Cipher
	defaults  SessionDefaults
	logger    *zap.Logger
}

// NewSessionService creates a new session service. Providers are advertised
// in the order given; store and cipher may be nil.
func NewSessionService(
	providers []repositories.Provider,
	store repositories.SessionStore,
	cipher *secure.Cipher,
	defaults SessionDefaults,
	logger *zap.Logger,
) (*SessionService, error) {
	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}

	s := &SessionService{
		providers: make(map[string]repositories.Provider, len(providers)),
		infos:     make([]entities.ProviderInfo, 0, len(providers)),
		store:     store,
		cipher:    cipher,
		defaults:  defaults,
		logger:    logger,
	}
	for _, p := range providers {
		info := p.Info()
		if _, dup := s.providers[info.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", info.ID)
		}
		s.providers[info.ID] = p
		s.infos = append(s.infos, info)
	}
	return s, nil
}

// Providers returns the configured providers in handshake order
func (s *SessionService) Providers() []entities.ProviderInfo {
	out := make([]entities.ProviderInfo, len(s.infos))
	copy(out, s.infos)
	return out
}

// DefaultProvider is the id of the first configured provider
func (s *SessionService) DefaultProvider() string {
	return s.infos[0].ID
}

// Provider looks up a provider by id
func (s *SessionService) Provider(id string) (repositories.Provider, error) {
	p, ok := s.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %s not found: %w", id, repositories.ErrUnknownProvider)
	}
	return p, nil
}

// InputSampleRate is the rate client audio is recorded at for the given
// provider, or 16000 when none is selected.
func (s *SessionService) InputSampleRate(providerID string) int {
	if p, ok := s.providers[providerID]; ok {
		return p.Info().SampleRate
	}
	return 16000
}

// PrepareConnect creates the user's conversation on first use and resolves
// the instruction and history for a new provider connection. live is the
// session's in-memory history; it is used as the seed unless it is empty.
func (s *SessionService) PrepareConnect(
	ctx context.Context,
	session *entities.Session,
	user *entities.User,
	providerID string,
	voice string,
	live []entities.Transcription,
) (*ConnectPlan, error) {
	provider, err := s.Provider(providerID)
	if err != nil {
		return nil, err
	}
	info := provider.Info()

	if s.store != nil && session.ClaimConversation() {
		conv, err := s.store.Create(ctx, session.ID, user, info)
		if err != nil {
			// Streaming works without persistence
			s.logger.Error("Failed to create conversation",
				zap.String("sessionID", session.ID),
				zap.Error(err))
		} else {
			session.AttachConversation(conv)
		}
	}

	if voice == "" {
		voice = info.DefaultVoice()
	}

	plan := &ConnectPlan{
		Provider: provider,
		Info:     info,
		Config: repositories.SessionConfig{
			Voice:             voice,
			SystemInstruction: s.defaults.SystemInstruction,
			Transcription:     s.defaults.Transcription,
			Tools:             s.defaults.Tools,
		},
	}

	if s.store != nil && session.Conversation != nil {
		instruction, err := s.store.SystemInstruction(ctx, session.Conversation)
		if err != nil {
			s.logger.Warn("Failed to load system instruction",
				zap.String("sessionID", session.ID),
				zap.Error(err))
		} else if instruction != "" {
			plan.Config.SystemInstruction = instruction
		}

		persisted, err := s.history(ctx, session.Conversation)
		if err != nil {
			s.logger.Warn("Failed to load conversation history",
				zap.String("sessionID", session.ID),
				zap.Error(err))
		} else if len(persisted) > 0 {
			plan.Persisted = persisted
		}
	}

	seed := live
	if len(seed) == 0 {
		seed = plan.Persisted
	}
	plan.Config.History = append([]entities.Transcription(nil), seed...)

	return plan, nil
}

// Resolve looks up a previous conversation for reconnect. On success the
// session adopts the conversation's id; it is left untouched on failure.
func (s *SessionService) Resolve(ctx context.Context, session *entities.Session, user *entities.User, sessionID string) error {
	if s.store == nil {
		return repositories.ErrSessionNotFound
	}

	conv, err := s.store.Resolve(ctx, sessionID, user)
	if err != nil {
		return fmt.Errorf("resolve session %s: %w", sessionID, err)
	}
	session.Resume(conv)
	return nil
}

// SaveTranscription persists final transcriptions, encrypting the text when
// a cipher is configured. Partial transcriptions are ignored.
func (s *SessionService) SaveTranscription(ctx context.Context, session *entities.Session, t entities.Transcription) error {
	if !t.Final || s.store == nil || session.Conversation == nil {
		return nil
	}

	if s.cipher != nil {
		sealed, err := s.cipher.Encrypt(t.Text)
		if err != nil {
			return fmt.Errorf("encrypt transcription: %w", err)
		}
		t.Text = sealed
	}

	if err := s.store.SaveTranscription(ctx, session.Conversation, t); err != nil {
		return fmt.Errorf("save transcription: %w", err)
	}
	return nil
}

// EndSession notifies the store that the live session is gone
func (s *SessionService) EndSession(ctx context.Context, session *entities.Session, reason entities.EndReason) error {
	if s.store == nil || session.Conversation == nil {
		return nil
	}
	if err := s.store.End(ctx, session.Conversation, reason); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (s *SessionService) history(ctx context.Context, conv *entities.Conversation) ([]entities.Transcription, error) {
	stored, err := s.store.History(ctx, conv)
	if err != nil {
		return nil, err
	}
	if s.cipher == nil {
		return stored, nil
	}

	out := make([]entities.Transcription, len(stored))
	for i, t := range stored {
		t.Text = s.cipher.DecryptOrPlaceholder(t.Text)
		out[i] = t
	}
	return out, nil
}
