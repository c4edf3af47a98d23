package channels

import (
	"strings"
	"testing"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	chunks := SplitMessage("hello", 100)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("got %v, want [hello]", chunks)
	}
}

func TestSplitChunkSizes(t *testing.T) {
	text := strings.Repeat("word ", 1000) // 5000 bytes
	limit := 400
	chunks := SplitMessage(text, limit)

	maxChunks := (len(text) + limit - 1) / limit
	// TrimSpace can add a couple of extra chunks worth of slack, but never
	// more than double.
	if len(chunks) > maxChunks*2 {
		t.Errorf("got %d chunks for %d bytes at limit %d", len(chunks), len(text), limit)
	}
	for i, c := range chunks {
		if len(c) > limit {
			t.Errorf("chunk %d is %d bytes, limit %d", i, len(c), limit)
		}
		if c == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestSplitReassembles(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 100)
	chunks := SplitMessage(text, 128)

	joined := strings.Join(chunks, " ")
	// Ignoring whitespace introduced/trimmed at split points, the content
	// must be preserved.
	normalize := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	if normalize(joined) != normalize(text) {
		t.Error("concatenated chunks do not reproduce the original text")
	}
}

func TestSplitNeverBreaksMultibyteRunes(t *testing.T) {
	text := strings.Repeat("日本語のテキストです。", 200)
	chunks := SplitMessage(text, 100)
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
		if !strings.Contains(text, c) {
			t.Errorf("chunk %d is not a substring - a rune was split", i)
		}
	}
}

func TestSplitPrefersNewlineBoundary(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
	chunks := SplitMessage(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[1], "b") {
		t.Errorf("split should land on the paragraph boundary, got %q", chunks[1])
	}
}

func TestEffectiveLimit(t *testing.T) {
	cases := []struct{ configured, hard, want int }{
		{0, 4096, 4096},
		{2000, 4096, 2000},
		{8000, 4096, 4096},
		{2000, 0, 2000},
		{0, 0, 0},
	}
	for _, c := range cases {
		if got := EffectiveLimit(c.configured, c.hard); got != c.want {
			t.Errorf("EffectiveLimit(%d, %d) = %d, want %d", c.configured, c.hard, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("no-op truncate changed string: %q", got)
	}
	got := Truncate(strings.Repeat("x", 50), 10)
	if len(got) > 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("Truncate = %q", got)
	}
}
