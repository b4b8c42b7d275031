package entities

import (
	"time"

	"github.com/google/uuid"
)

// Session is the lifetime of one client WebSocket connection.
// It is owned by the gateway and never shared across connections.
type Session struct {
	ID           string
	ProviderID   string
	CreatedAt    time.Time
	Conversation *Conversation

	conversationRequested bool
}

// NewSession allocates a live session with a fresh id
func NewSession() *Session {
	return &Session{
		ID:        "vox_" + uuid.NewString(),
		CreatedAt: time.Now(),
	}
}

// ClaimConversation reports whether this is the first request for a
// persisted conversation. It returns true at most once per session.
func (s *Session) ClaimConversation() bool {
	if s.conversationRequested || s.Conversation != nil {
		return false
	}
	s.conversationRequested = true
	return true
}

// AttachConversation binds a newly created conversation to the session
func (s *Session) AttachConversation(conv *Conversation) {
	s.Conversation = conv
	s.conversationRequested = true
}

// Resume binds a previous conversation and adopts its id
func (s *Session) Resume(conv *Conversation) {
	s.AttachConversation(conv)
	s.ID = conv.ID
}
