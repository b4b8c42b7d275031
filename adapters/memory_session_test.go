package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
)

var openaiInfo = entities.ProviderInfo{ID: "openai", Name: "openai", SampleRate: 24000}

func TestMemorySessionStore_CreateAndResolve(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(WithInstructionResolver(func(userID string) string {
		return "Greet " + userID
	}))
	alice := &entities.User{ID: "alice"}
	bob := &entities.User{ID: "bob"}

	conv, err := store.Create(ctx, "", alice, openaiInfo)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if conv.ProviderID != "openai" || conv.UserID != "alice" {
		t.Errorf("unexpected conversation: %+v", conv)
	}

	instruction, err := store.SystemInstruction(ctx, conv)
	if err != nil || instruction != "Greet alice" {
		t.Errorf("SystemInstruction = %q, %v", instruction, err)
	}

	tests := []struct {
		name    string
		id      string
		user    *entities.User
		wantErr error
	}{
		{"owner", conv.ID, alice, nil},
		{"other user", conv.ID, bob, repositories.ErrSessionNotFound},
		{"unknown id", "missing", alice, repositories.ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Resolve(ctx, tt.id, tt.user)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Resolve err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.ID != conv.ID {
				t.Errorf("Resolve returned %q", got.ID)
			}
		})
	}

	if _, err := store.Create(ctx, "", nil, openaiInfo); err == nil {
		t.Error("expected error for nil user")
	}
}

func TestMemorySessionStore_HistoryKeepsFinalOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	conv, _ := store.Create(ctx, "", &entities.User{ID: "u"}, openaiInfo)

	inputs := []entities.Transcription{
		{Role: entities.RoleUser, Text: "hel"},
		{Role: entities.RoleUser, Text: "hello", Final: true},
		{Role: entities.RoleAssistant, Text: "hi", Final: true},
	}
	for _, tr := range inputs {
		if err := store.SaveTranscription(ctx, conv, tr); err != nil {
			t.Fatalf("SaveTranscription failed: %v", err)
		}
	}

	history, err := store.History(ctx, conv)
	if err != nil {
		t.Fatal(err)
	}
	want := []entities.Transcription{inputs[1], inputs[2]}
	if len(history) != len(want) {
		t.Fatalf("history = %+v", history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, history[i], want[i])
		}
	}

	// The caller's copy is not the stored one
	if len(conv.Messages) != 0 {
		t.Error("store mutated the caller's conversation")
	}
}

func TestMemorySessionStore_EndAndExpire(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(WithTTL(time.Millisecond))
	user := &entities.User{ID: "u"}
	conv, _ := store.Create(ctx, "", user, openaiInfo)

	if err := store.End(ctx, conv, entities.EndReasonTimeout); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := store.Resolve(ctx, conv.ID, user); !errors.Is(err, repositories.ErrSessionNotFound) {
		t.Errorf("expired conversation resolved: %v", err)
	}
	if err := store.ExpireSessions(ctx); err != nil {
		t.Fatal(err)
	}
	if store.Count() != 0 {
		t.Errorf("Count = %d after expiry", store.Count())
	}
	if err := store.End(ctx, conv, entities.EndReasonDisconnect); !errors.Is(err, repositories.ErrSessionNotFound) {
		t.Errorf("End on expired conversation = %v", err)
	}
}
