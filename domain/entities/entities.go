package entities

import (
	"errors"
	"strings"
)

// Role identifies who produced a transcription
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Transcription is one user or assistant text update emitted during a turn.
// Partial updates (Final=false) are superseded by the next update for the same turn.
type Transcription struct {
	Role  Role   `json:"role" bson:"role"`
	Text  string `json:"text" bson:"text"`
	Final bool   `json:"final" bson:"final"`
}

// Voice is a selectable provider voice
type Voice struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

// ProviderInfo describes an upstream provider as advertised in the handshake
type ProviderInfo struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	SampleRate int     `json:"sampleRate"`
	Voices     []Voice `json:"voices"`
}

// DefaultVoice returns the first configured voice id, or "" when none exist
func (p ProviderInfo) DefaultVoice() string {
	if len(p.Voices) == 0 {
		return ""
	}
	return p.Voices[0].ID
}

// User is the identity resolved during the upgrade request
type User struct {
	ID     string         `json:"id"`
	Claims map[string]any `json:"claims,omitempty"`
}

// Validate validates the user identity
func (u *User) Validate() error {
	if u == nil {
		return errors.New("user is nil")
	}
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id is required")
	}
	return nil
}
