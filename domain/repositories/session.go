package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/voxbridge/domain/entities"
)

// ErrSessionNotFound is returned when a conversation cannot be resolved
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists conversations across provider swaps and reconnects
type SessionStore interface {
	// Create starts a new conversation for the user on the given provider.
	// The conversation takes id when it is not empty.
	Create(ctx context.Context, id string, user *entities.User, provider entities.ProviderInfo) (*entities.Conversation, error)
	// Resolve finds a resumable conversation owned by the user
	Resolve(ctx context.Context, sessionID string, user *entities.User) (*entities.Conversation, error)
	// End is called once when the live session owning the conversation closes
	End(ctx context.Context, conv *entities.Conversation, reason entities.EndReason) error
	// History returns the stored final transcriptions in order
	History(ctx context.Context, conv *entities.Conversation) ([]entities.Transcription, error)
	// SaveTranscription appends a final transcription
	SaveTranscription(ctx context.Context, conv *entities.Conversation, t entities.Transcription) error
	// SystemInstruction returns a per-conversation instruction, or "" for none
	SystemInstruction(ctx context.Context, conv *entities.Conversation) (string, error)
}

// SessionExpirer is implemented by stores that can bulk-expire idle conversations
type SessionExpirer interface {
	ExpireSessions(ctx context.Context) error
}
