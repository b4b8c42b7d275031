package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConversationStatus represents the status of a persisted conversation
type ConversationStatus string

const (
	ConversationStatusActive     ConversationStatus = "active"
	ConversationStatusExpired    ConversationStatus = "expired"
	ConversationStatusTerminated ConversationStatus = "terminated"
)

// EndReason explains why a live session stopped using its conversation
type EndReason string

const (
	EndReasonDisconnect EndReason = "disconnect"
	EndReasonError      EndReason = "error"
	EndReasonTimeout    EndReason = "timeout"
)

// DefaultConversationTTL is how long an idle conversation stays resumable
const DefaultConversationTTL = 24 * time.Hour

// HistoryMessage is a stored final transcription
type HistoryMessage struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Role      Role      `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
}

// Conversation is the user session persisted by a session store.
// It survives provider hot-swaps and client reconnects.
type Conversation struct {
	ID                string             `json:"id" bson:"_id"`
	UserID            string             `json:"user_id" bson:"user_id"`
	ProviderID        string             `json:"provider_id" bson:"provider_id"`
	CreatedAt         time.Time          `json:"created_at" bson:"created_at"`
	LastActiveAt      time.Time          `json:"last_active_at" bson:"last_active_at"`
	ExpiresAt         time.Time          `json:"expires_at" bson:"expires_at"`
	Status            ConversationStatus `json:"status" bson:"status"`
	SystemInstruction string             `json:"system_instruction,omitempty" bson:"system_instruction,omitempty"`
	LastEndReason     EndReason          `json:"last_end_reason,omitempty" bson:"last_end_reason,omitempty"`
	Messages          []HistoryMessage   `json:"messages" bson:"messages"`
}

// NewConversation creates a new active conversation for a user
func NewConversation(userID, providerID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:           uuid.NewString(),
		UserID:       userID,
		ProviderID:   providerID,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(DefaultConversationTTL),
		Status:       ConversationStatusActive,
		Messages:     make([]HistoryMessage, 0),
	}
}

// AddMessage appends a final transcription. Partial transcriptions are ignored.
func (c *Conversation) AddMessage(t Transcription) bool {
	if !t.Final {
		return false
	}
	c.Messages = append(c.Messages, HistoryMessage{
		Timestamp: time.Now(),
		Role:      t.Role,
		Text:      t.Text,
	})
	c.UpdateLastActive()
	return true
}

// Transcriptions returns the stored history in chronological order
func (c *Conversation) Transcriptions() []Transcription {
	out := make([]Transcription, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, Transcription{Role: m.Role, Text: m.Text, Final: true})
	}
	return out
}

// Clone returns a copy that shares no slices with c
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = append(make([]HistoryMessage, 0, len(c.Messages)), c.Messages...)
	return &cp
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (c *Conversation) UpdateLastActive() {
	c.LastActiveAt = time.Now()
	c.ExpiresAt = c.LastActiveAt.Add(DefaultConversationTTL)
}

// IsExpired checks if the conversation can no longer be resumed
func (c *Conversation) IsExpired() bool {
	return time.Now().After(c.ExpiresAt) || c.Status != ConversationStatusActive
}

// Terminate marks the conversation as terminated
func (c *Conversation) Terminate() {
	c.Status = ConversationStatusTerminated
	c.UpdateLastActive()
}

// Expire marks the conversation as expired
func (c *Conversation) Expire() {
	c.Status = ConversationStatusExpired
}

// Validate validates the conversation data
func (c *Conversation) Validate() error {
	if c.UserID == "" {
		return errors.New("user_id is required")
	}

	switch c.Status {
	case ConversationStatusActive, ConversationStatusExpired, ConversationStatusTerminated:
	default:
		return errors.New("invalid conversation status")
	}

	return nil
}
