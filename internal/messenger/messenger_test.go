package messenger_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/personapack/botsuite/internal/messenger"
	"github.com/personapack/botsuite/pkg/models"
)

func TestChunk_Short(t *testing.T) {
	got := messenger.Chunk("hello", messenger.MaxMessageLen)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("Chunk(short) = %q", got)
	}
}

func TestChunk_PrefersNewlines(t *testing.T) {
	para := strings.Repeat("a", 30)
	text := para + "\n" + para + "\n" + para

	got := messenger.Chunk(text, 70)
	if len(got) != 2 {
		t.Fatalf("Chunk() = %d chunks, want 2: %q", len(got), got)
	}
	if got[0] != para+"\n"+para {
		t.Errorf("first chunk = %q", got[0])
	}
	if got[1] != para {
		t.Errorf("second chunk = %q", got[1])
	}
}

func TestChunk_RespectsLimitOnMultibyte(t *testing.T) {
	text := strings.Repeat("ж", 9000)
	chunks := messenger.Chunk(text, messenger.MaxMessageLen)
	if len(chunks) != 3 {
		t.Fatalf("Chunk() = %d chunks, want 3", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		n := utf8.RuneCountInString(c)
		if n > messenger.MaxMessageLen {
			t.Errorf("chunk %d has %d runes, over the limit", i, n)
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		total += n
	}
	if total != 9000 {
		t.Errorf("chunks carry %d runes, want 9000", total)
	}
}

func TestRecorder_Block(t *testing.T) {
	r := messenger.NewRecorder()
	ctx := context.Background()

	if _, err := r.Send(ctx, 1, models.Message{Text: "hi"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	r.Block(1)
	if _, err := r.Send(ctx, 1, models.Message{Text: "again"}); !errors.Is(err, messenger.ErrBlocked) {
		t.Errorf("Send() to blocked chat error = %v, want ErrBlocked", err)
	}
	if got := r.Sent(1); len(got) != 1 {
		t.Errorf("Sent(1) = %d messages, want 1", len(got))
	}
}
