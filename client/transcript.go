package client

import (
	"strings"
	"unicode/utf8"

	"github.com/satriahrh/voxbridge/domain/entities"
)

// zombieLength is the trimmed length in characters below which a partial
// from the other role is treated as abandoned by an interruption.
const zombieLength = 5

// Transcript is the ordered message log built from streaming transcription
// events. It is owned by the manager goroutine.
type Transcript struct {
	messages []entities.Transcription
}

// Merge applies one transcription event to the log
func (t *Transcript) Merge(in entities.Transcription) {
	n := len(t.messages)
	if n == 0 {
		t.messages = append(t.messages, in)
		return
	}

	last := &t.messages[n-1]
	switch {
	case last.Role == in.Role && !last.Final:
		*last = in
	case last.Role == in.Role && strings.TrimSpace(last.Text) == strings.TrimSpace(in.Text):
		if !last.Final && in.Final {
			last.Final = true
		}
	case last.Role != in.Role && !last.Final && utf8.RuneCountInString(strings.TrimSpace(last.Text)) < zombieLength:
		*last = in
	default:
		t.messages = append(t.messages, in)
	}
}

// Replace swaps the whole log for an authoritative history
func (t *Transcript) Replace(history []entities.Transcription) {
	t.messages = append([]entities.Transcription(nil), history...)
}

// Clear empties the log
func (t *Transcript) Clear() {
	t.messages = nil
}

// Messages returns a copy of the log
func (t *Transcript) Messages() []entities.Transcription {
	return append([]entities.Transcription(nil), t.messages...)
}
