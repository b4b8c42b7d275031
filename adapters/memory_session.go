package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/satriahrh/voxbridge/domain/entities"
	"github.com/satriahrh/voxbridge/domain/repositories"
)

// MemorySessionStore is an in-process SessionStore. Conversations live until
// they expire or the process exits.
type MemorySessionStore struct {
	mu            sync.RWMutex
	conversations map[string]*entities.Conversation // id -> conversation
	owners        map[string][]string               // user id -> conversation ids
	ttl           time.Duration
	instruction   func(user string) string
}

// MemoryStoreOption configures a MemorySessionStore
type MemoryStoreOption func(*MemorySessionStore)

// WithTTL sets how long an idle conversation stays resumable
func WithTTL(ttl time.Duration) MemoryStoreOption {
	return func(m *MemorySessionStore) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithInstructionResolver supplies a per-user system instruction
func WithInstructionResolver(fn func(userID string) string) MemoryStoreOption {
	return func(m *MemorySessionStore) {
		m.instruction = fn
	}
}

// NewMemorySessionStore creates an empty store
func NewMemorySessionStore(opts ...MemoryStoreOption) *MemorySessionStore {
	m := &MemorySessionStore{
		conversations: make(map[string]*entities.Conversation),
		owners:        make(map[string][]string),
		ttl:           entities.DefaultConversationTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create implements repositories.SessionStore
func (m *MemorySessionStore) Create(ctx context.Context, id string, user *entities.User, provider entities.ProviderInfo) (*entities.Conversation, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}

	conv := entities.NewConversation(user.ID, provider.ID)
	if id != "" {
		conv.ID = id
	}
	conv.ExpiresAt = conv.LastActiveAt.Add(m.ttl)
	if m.instruction != nil {
		conv.SystemInstruction = m.instruction(user.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.conversations[conv.ID] = conv
	m.owners[user.ID] = append(m.owners[user.ID], conv.ID)

	return conv.Clone(), nil
}

// Resolve implements repositories.SessionStore
func (m *MemorySessionStore) Resolve(ctx context.Context, sessionID string, user *entities.User) (*entities.Conversation, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[sessionID]
	if !exists || conv.UserID != user.ID || conv.IsExpired() {
		return nil, repositories.ErrSessionNotFound
	}

	return conv.Clone(), nil
}

// End implements repositories.SessionStore
func (m *MemorySessionStore) End(ctx context.Context, conv *entities.Conversation, reason entities.EndReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.lookup(conv)
	if err != nil {
		return err
	}

	stored.LastEndReason = reason
	m.touch(stored)
	return nil
}

// History implements repositories.SessionStore
func (m *MemorySessionStore) History(ctx context.Context, conv *entities.Conversation) ([]entities.Transcription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, err := m.lookup(conv)
	if err != nil {
		return nil, err
	}
	return stored.Transcriptions(), nil
}

// SaveTranscription implements repositories.SessionStore
func (m *MemorySessionStore) SaveTranscription(ctx context.Context, conv *entities.Conversation, t entities.Transcription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.lookup(conv)
	if err != nil {
		return err
	}

	if stored.AddMessage(t) {
		m.touch(stored)
	}
	return nil
}

// SystemInstruction implements repositories.SessionStore
func (m *MemorySessionStore) SystemInstruction(ctx context.Context, conv *entities.Conversation) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, err := m.lookup(conv)
	if err != nil {
		return "", err
	}
	return stored.SystemInstruction, nil
}

// ExpireSessions marks idle conversations expired and forgets them
func (m *MemorySessionStore) ExpireSessions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, conv := range m.conversations {
		if conv.Status == entities.ConversationStatusActive && now.Before(conv.ExpiresAt) {
			continue
		}
		conv.Expire()
		delete(m.conversations, id)
		m.owners[conv.UserID] = removeID(m.owners[conv.UserID], id)
		if len(m.owners[conv.UserID]) == 0 {
			delete(m.owners, conv.UserID)
		}
	}
	return nil
}

// Count returns the number of stored conversations
func (m *MemorySessionStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// lookup must be called with the lock held
func (m *MemorySessionStore) lookup(conv *entities.Conversation) (*entities.Conversation, error) {
	if conv == nil {
		return nil, errors.New("conversation cannot be nil")
	}
	stored, exists := m.conversations[conv.ID]
	if !exists {
		return nil, repositories.ErrSessionNotFound
	}
	return stored, nil
}

func (m *MemorySessionStore) touch(conv *entities.Conversation) {
	conv.UpdateLastActive()
	conv.ExpiresAt = conv.LastActiveAt.Add(m.ttl)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
