package entities

import (
	"strings"
	"testing"
	"time"
)

func TestConversationCreation(t *testing.T) {
	conv := NewConversation("user-1", "openai")

	if conv.UserID != "user-1" {
		t.Errorf("Expected user ID user-1, got %s", conv.UserID)
	}

	if conv.Status != ConversationStatusActive {
		t.Errorf("Expected status %s, got %s", ConversationStatusActive, conv.Status)
	}

	if len(conv.Messages) != 0 {
		t.Errorf("Expected empty messages, got %d messages", len(conv.Messages))
	}

	if conv.ID == "" {
		t.Error("Expected generated ID")
	}
}

func TestAddMessageOnlyFinal(t *testing.T) {
	conv := NewConversation("user-1", "gemini")

	if conv.AddMessage(Transcription{Role: RoleUser, Text: "hel", Final: false}) {
		t.Error("Partial transcription should not be stored")
	}

	conv.AddMessage(Transcription{Role: RoleUser, Text: "hello", Final: true})
	conv.AddMessage(Transcription{Role: RoleAssistant, Text: "hi there", Final: true})

	if len(conv.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(conv.Messages))
	}

	history := conv.Transcriptions()
	if history[0].Role != RoleUser || history[0].Text != "hello" || !history[0].Final {
		t.Errorf("Unexpected first entry: %+v", history[0])
	}
	if history[1].Role != RoleAssistant || history[1].Text != "hi there" {
		t.Errorf("Unexpected second entry: %+v", history[1])
	}
}

func TestConversationExpiry(t *testing.T) {
	conv := NewConversation("user-1", "openai")

	if conv.IsExpired() {
		t.Error("Fresh conversation should not be expired")
	}

	conv.ExpiresAt = time.Now().Add(-time.Minute)
	if !conv.IsExpired() {
		t.Error("Conversation past ExpiresAt should be expired")
	}

	conv = NewConversation("user-1", "openai")
	conv.Terminate()
	if !conv.IsExpired() {
		t.Error("Terminated conversation should count as expired")
	}
}

func TestConversationValidate(t *testing.T) {
	tests := []struct {
		name    string
		conv    Conversation
		wantErr bool
	}{
		{"valid", Conversation{UserID: "u", Status: ConversationStatusActive}, false},
		{"missing user", Conversation{Status: ConversationStatusActive}, true},
		{"bad status", Conversation{UserID: "u", Status: "paused"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conv.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProviderInfoDefaultVoice(t *testing.T) {
	p := ProviderInfo{ID: "gemini", Voices: []Voice{{ID: "Puck"}, {ID: "Kore"}}}
	if p.DefaultVoice() != "Puck" {
		t.Errorf("Expected Puck, got %s", p.DefaultVoice())
	}
	if (ProviderInfo{}).DefaultVoice() != "" {
		t.Error("Expected empty default voice")
	}
}

func TestConversationCloneIsIndependent(t *testing.T) {
	conv := NewConversation("user-1", "openai")
	conv.AddMessage(Transcription{Role: RoleUser, Text: "one", Final: true})

	cp := conv.Clone()
	cp.AddMessage(Transcription{Role: RoleAssistant, Text: "two", Final: true})

	if len(conv.Messages) != 1 {
		t.Errorf("original modified through clone: %d messages", len(conv.Messages))
	}
	if len(cp.Messages) != 2 {
		t.Errorf("clone has %d messages, want 2", len(cp.Messages))
	}
}

func TestSessionClaimConversationOnce(t *testing.T) {
	s := NewSession()
	if !strings.HasPrefix(s.ID, "vox_") {
		t.Errorf("session id = %q", s.ID)
	}
	if !s.ClaimConversation() {
		t.Fatal("first claim should succeed")
	}
	if s.ClaimConversation() {
		t.Error("second claim should fail")
	}

	resumed := NewSession()
	resumed.AttachConversation(NewConversation("u", "openai"))
	if resumed.ClaimConversation() {
		t.Error("claim after attach should fail")
	}

	prior := NewConversation("u", "gemini")
	resumed.Resume(prior)
	if resumed.ID != prior.ID || resumed.Conversation != prior {
		t.Error("resume should adopt the conversation id")
	}
}
