// Package messenger implements the messaging-platform collaborator: the
// Telegram driver used in production and an in-memory Recorder.
package messenger

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is the longest text the platform accepts in one message.
const MaxMessageLen = 4000

// ErrBlocked means the recipient has blocked the bot or never started it.
var ErrBlocked = errors.New("recipient blocked the bot")

// Chunk splits text into pieces of at most limit runes, preferring to break
// at a newline and then at a space. Empty text yields a single empty chunk.
func Chunk(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		head := text[:cut]
		if i := strings.LastIndex(head, "\n"); i > 0 {
			cut = i + 1
		} else if i := strings.LastIndex(head, " "); i > 0 {
			cut = i + 1
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n "))
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}
