package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/satriahrh/voxbridge/adapters"
	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
	"github.com/satriahrh/voxbridge/internal/secure"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type stubProvider struct {
	info entities.ProviderInfo
}

func (p *stubProvider) Info() entities.ProviderInfo { return p.info }

func (p *stubProvider) Connect(ctx context.Context, config repositories.SessionConfig) (repositories.Connection, error) {
	return nil, errors.New("not used")
}

type countingStore struct {
	*adapters.MemorySessionStore
	creates int
}

func (c *countingStore) Create(ctx context.Context, id string, user *entities.User, provider entities.ProviderInfo) (*entities.Conversation, error) {
	c.creates++
	return c.MemorySessionStore.Create(ctx, id, user, provider)
}

func testProviders() []repositories.Provider {
	return []repositories.Provider{
		&stubProvider{info: entities.ProviderInfo{ID: "openai", Name: "OpenAI", SampleRate: 24000, Voices: []entities.Voice{{ID: "alloy", Name: "Alloy"}}}},
		&stubProvider{info: entities.ProviderInfo{ID: "gemini", Name: "Gemini", SampleRate: 16000, Voices: []entities.Voice{{ID: "Puck", Name: "Puck"}}}},
	}
}

func newService(t *testing.T, store repositories.SessionStore, cipher *secure.Cipher) *SessionService {
	t.Helper()
	svc, err := NewSessionService(testProviders(), store, cipher, SessionDefaults{
		SystemInstruction: "be brief",
		Transcription:     repositories.TranscriptionFlags{Input: true, Output: true},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	return svc
}

func TestNewSessionServiceValidation(t *testing.T) {
	if _, err := NewSessionService(nil, nil, nil, SessionDefaults{}, zap.NewNop()); err == nil {
		t.Error("expected error for empty provider list")
	}

	dup := append(testProviders(), testProviders()[0])
	if _, err := NewSessionService(dup, nil, nil, SessionDefaults{}, zap.NewNop()); err == nil {
		t.Error("expected error for duplicate provider id")
	}
}

func TestProviderLookup(t *testing.T) {
	svc := newService(t, nil, nil)

	infos := svc.Providers()
	if len(infos) != 2 || infos[0].ID != "openai" || infos[1].ID != "gemini" {
		t.Fatalf("providers = %+v", infos)
	}
	if svc.DefaultProvider() != "openai" {
		t.Errorf("default provider = %s", svc.DefaultProvider())
	}

	if _, err := svc.Provider("nope"); !errors.Is(err, repositories.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}

	tests := []struct {
		provider string
		want     int
	}{
		{"openai", 24000},
		{"gemini", 16000},
		{"", 16000},
	}
	for _, tt := range tests {
		if got := svc.InputSampleRate(tt.provider); got != tt.want {
			t.Errorf("InputSampleRate(%q) = %d, want %d", tt.provider, got, tt.want)
		}
	}
}

func TestPrepareConnectWithoutStore(t *testing.T) {
	svc := newService(t, nil, nil)
	session := entities.NewSession()
	user := &entities.User{ID: "u1"}

	plan, err := svc.PrepareConnect(context.Background(), session, user, "gemini", "", nil)
	if err != nil {
		t.Fatalf("PrepareConnect: %v", err)
	}
	if plan.Config.Voice != "Puck" {
		t.Errorf("voice = %s, want provider default", plan.Config.Voice)
	}
	if plan.Config.SystemInstruction != "be brief" {
		t.Errorf("instruction = %q", plan.Config.SystemInstruction)
	}
	if !plan.Config.Transcription.Input || !plan.Config.Transcription.Output {
		t.Error("transcription defaults not applied")
	}
	if plan.Persisted != nil || session.Conversation != nil {
		t.Error("no persistence expected without a store")
	}

	if _, err := svc.PrepareConnect(context.Background(), session, user, "nope", "", nil); !errors.Is(err, repositories.ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestPrepareConnectCreatesConversationOnce(t *testing.T) {
	store := &countingStore{MemorySessionStore: adapters.NewMemorySessionStore(
		adapters.WithInstructionResolver(func(userID string) string { return "per-user for " + userID }),
	)}
	svc := newService(t, store, nil)
	session := entities.NewSession()
	user := &entities.User{ID: "u1"}
	ctx := context.Background()

	plan, err := svc.PrepareConnect(ctx, session, user, "openai", "echo", nil)
	if err != nil {
		t.Fatalf("PrepareConnect: %v", err)
	}
	if plan.Config.Voice != "echo" {
		t.Errorf("voice = %s", plan.Config.Voice)
	}
	if plan.Config.SystemInstruction != "per-user for u1" {
		t.Errorf("store instruction should override default, got %q", plan.Config.SystemInstruction)
	}

	if _, err := svc.PrepareConnect(ctx, session, user, "gemini", "", nil); err != nil {
		t.Fatalf("PrepareConnect swap: %v", err)
	}
	if store.creates != 1 {
		t.Errorf("Create called %d times, want 1", store.creates)
	}
	if session.Conversation.ID != session.ID {
		t.Errorf("conversation id %s should match session id %s", session.Conversation.ID, session.ID)
	}
}

func TestPrepareConnectSeedsHistory(t *testing.T) {
	store := adapters.NewMemorySessionStore()
	svc := newService(t, store, nil)
	session := entities.NewSession()
	user := &entities.User{ID: "u1"}
	ctx := context.Background()

	if _, err := svc.PrepareConnect(ctx, session, user, "openai", "", nil); err != nil {
		t.Fatalf("PrepareConnect: %v", err)
	}
	stored := []entities.Transcription{
		{Role: entities.RoleUser, Text: "hello", Final: true},
		{Role: entities.RoleAssistant, Text: "hi there", Final: true},
	}
	for _, tr := range stored {
		if err := svc.SaveTranscription(ctx, session, tr); err != nil {
			t.Fatalf("SaveTranscription: %v", err)
		}
	}

	t.Run("empty live buffer uses persisted history", func(t *testing.T) {
		plan, err := svc.PrepareConnect(ctx, session, user, "gemini", "", nil)
		if err != nil {
			t.Fatalf("PrepareConnect: %v", err)
		}
		if len(plan.Persisted) != 2 || len(plan.Config.History) != 2 {
			t.Fatalf("persisted=%d history=%d", len(plan.Persisted), len(plan.Config.History))
		}
		if plan.Config.History[1].Text != "hi there" {
			t.Errorf("history order wrong: %+v", plan.Config.History)
		}
	})

	t.Run("live buffer is never clobbered", func(t *testing.T) {
		live := []entities.Transcription{{Role: entities.RoleUser, Text: "live only", Final: true}}
		plan, err := svc.PrepareConnect(ctx, session, user, "gemini", "", live)
		if err != nil {
			t.Fatalf("PrepareConnect: %v", err)
		}
		if len(plan.Config.History) != 1 || plan.Config.History[0].Text != "live only" {
			t.Errorf("history = %+v, want the live buffer", plan.Config.History)
		}
		if len(plan.Persisted) != 2 {
			t.Errorf("persisted history should still be reported")
		}
	})
}

func TestSaveTranscriptionEncrypts(t *testing.T) {
	cipher, err := secure.NewCipher(testKey)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	store := adapters.NewMemorySessionStore()
	svc := newService(t, store, cipher)
	session := entities.NewSession()
	user := &entities.User{ID: "u1"}
	ctx := context.Background()

	if _, err := svc.PrepareConnect(ctx, session, user, "openai", "", nil); err != nil {
		t.Fatalf("PrepareConnect: %v", err)
	}

	if err := svc.SaveTranscription(ctx, session, entities.Transcription{Role: entities.RoleUser, Text: "partial", Final: false}); err != nil {
		t.Fatalf("SaveTranscription partial: %v", err)
	}
	if err := svc.SaveTranscription(ctx, session, entities.Transcription{Role: entities.RoleUser, Text: "secret", Final: true}); err != nil {
		t.Fatalf("SaveTranscription: %v", err)
	}
	// Written directly so it bypasses encryption
	if err := store.SaveTranscription(ctx, session.Conversation, entities.Transcription{Role: entities.RoleAssistant, Text: "not-ciphertext", Final: true}); err != nil {
		t.Fatalf("store.SaveTranscription: %v", err)
	}

	raw, err := store.History(ctx, session.Conversation)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("stored %d messages, want 2 (partial ignored)", len(raw))
	}
	if raw[0].Text == "secret" || strings.Count(raw[0].Text, ":") != 2 {
		t.Errorf("stored text not encrypted: %q", raw[0].Text)
	}

	plan, err := svc.PrepareConnect(ctx, session, user, "gemini", "", nil)
	if err != nil {
		t.Fatalf("PrepareConnect: %v", err)
	}
	if plan.Persisted[0].Text != "secret" {
		t.Errorf("decrypted text = %q", plan.Persisted[0].Text)
	}
	if plan.Persisted[1].Text != secure.EncryptedPlaceholder {
		t.Errorf("undecryptable text = %q, want placeholder", plan.Persisted[1].Text)
	}
}

func TestResolveAndEnd(t *testing.T) {
	store := adapters.NewMemorySessionStore()
	svc := newService(t, store, nil)
	ctx := context.Background()
	owner := &entities.User{ID: "owner"}

	first := entities.NewSession()
	if _, err := svc.PrepareConnect(ctx, first, owner, "openai", "", nil); err != nil {
		t.Fatalf("PrepareConnect: %v", err)
	}
	if err := svc.EndSession(ctx, first, entities.EndReasonDisconnect); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	stranger := entities.NewSession()
	if err := svc.Resolve(ctx, stranger, &entities.User{ID: "other"}, first.Conversation.ID); !errors.Is(err, repositories.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for another user, got %v", err)
	}
	if stranger.Conversation != nil {
		t.Error("failed resolve must not attach a conversation")
	}

	second := entities.NewSession()
	if err := svc.Resolve(ctx, second, owner, first.Conversation.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if second.Conversation.ID != first.Conversation.ID {
		t.Error("resolved a different conversation")
	}
	if second.ID != first.ID {
		t.Errorf("resumed session id = %s, want %s", second.ID, first.ID)
	}
	if second.ClaimConversation() {
		t.Error("resolved session must not create another conversation")
	}

	if err := newService(t, nil, nil).Resolve(ctx, entities.NewSession(), owner, "x"); !errors.Is(err, repositories.ErrSessionNotFound) {
		t.Errorf("resolve without store: %v", err)
	}
}
