package recorder

import (
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var knownExtension = regexp.MustCompile(`(?i)\.(wav|mp3|mp4)$`)

// buildFilename expands a template. Supported tokens:
//
//	{id}        session id
//	{timestamp} UTC ISO-8601 time with ':' and '.' replaced by '-'
//	X           one random alphanumeric character
//	N           one random digit
//
// Any .wav/.mp3/.mp4 suffix is replaced by ext.
func buildFilename(template, sessionID string, now time.Time, ext string) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		switch {
		case strings.HasPrefix(template[i:], "{id}"):
			b.WriteString("{id}")
			i += len("{id}") - 1
		case strings.HasPrefix(template[i:], "{timestamp}"):
			b.WriteString("{timestamp}")
			i += len("{timestamp}") - 1
		case template[i] == 'X':
			b.WriteByte(alphanumeric[rand.IntN(len(alphanumeric))])
		case template[i] == 'N':
			b.WriteByte(byte('0' + rand.IntN(10)))
		default:
			b.WriteByte(template[i])
		}
	}

	timestamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format("2006-01-02T15:04:05.000Z07:00"))

	name := b.String()
	name = strings.ReplaceAll(name, "{id}", sessionID)
	name = strings.ReplaceAll(name, "{timestamp}", timestamp)
	name = knownExtension.ReplaceAllString(name, "")

	return name + ext
}
