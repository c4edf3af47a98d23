package history

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/roelfdiedericks/clawgate/internal/types"
)

func entry(sender, body string) types.HistoryEntry {
	return types.HistoryEntry{Sender: sender, Body: body}
}

func TestFIFOEviction(t *testing.T) {
	s := New(3)
	for i := 0; i < 10; i++ {
		s.RecordTurn("conv", entry("u", fmt.Sprintf("msg-%d", i)))
	}
	if got := s.Len("conv"); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	prefix := s.BuildContextPrefix("conv", false)
	for _, want := range []string{"msg-7", "msg-8", "msg-9"} {
		if !strings.Contains(prefix, want) {
			t.Errorf("prefix missing %s:\n%s", want, prefix)
		}
	}
	if strings.Contains(prefix, "msg-6") {
		t.Errorf("oldest entries should be evicted first:\n%s", prefix)
	}
}

func TestLimitNeverExceeded(t *testing.T) {
	s := New(5)
	for i := 0; i < 100; i++ {
		s.RecordTurn("c", entry("u", "x"))
		if got := s.Len("c"); got > 5 {
			t.Fatalf("Len = %d after %d appends, limit 5", got, i+1)
		}
	}
}

func TestZeroLimitDisablesHistory(t *testing.T) {
	s := New(0)
	s.RecordTurn("c", entry("u", "hello"))
	if s.Enabled() {
		t.Error("limit 0 should report disabled")
	}
	if got := s.Len("c"); got != 0 {
		t.Errorf("Len = %d, want 0 (no storage when disabled)", got)
	}
	if got := s.BuildContextPrefix("c", false); got != "" {
		t.Errorf("context prefix should be empty when disabled, got %q", got)
	}
}

func TestClearIfReplied(t *testing.T) {
	s := New(10)
	s.RecordTurn("c", entry("a", "one"))
	s.RecordTurn("c", entry("b", "two"))
	s.ClearIfReplied("c")
	if got := s.Len("c"); got != 0 {
		t.Fatalf("Len after clear = %d, want 0", got)
	}
	// Untouched conversations keep their entries.
	s.RecordTurn("other", entry("a", "kept"))
	s.ClearIfReplied("c")
	if got := s.Len("other"); got != 1 {
		t.Errorf("unrelated conversation was cleared")
	}
}

func TestBuildContextPrefixExcludesCurrent(t *testing.T) {
	s := New(10)
	s.RecordTurn("c", entry("alice", "earlier"))
	s.RecordTurn("c", entry("bob", "current turn"))

	prefix := s.BuildContextPrefix("c", true)
	if !strings.Contains(prefix, "earlier") {
		t.Errorf("prefix should contain prior entries:\n%s", prefix)
	}
	if strings.Contains(prefix, "current turn") {
		t.Errorf("prefix must exclude the entry just appended:\n%s", prefix)
	}

	// Single entry + exclude = nothing to render.
	s2 := New(10)
	s2.RecordTurn("c", entry("bob", "only"))
	if got := s2.BuildContextPrefix("c", true); got != "" {
		t.Errorf("expected empty prefix, got %q", got)
	}
}

func TestPrefixIncludesIDAndChannel(t *testing.T) {
	s := New(10)
	s.RecordTurn("c", types.HistoryEntry{Sender: "alice", Body: "hi", MessageID: "m1", Channel: "general"})
	s.RecordTurn("c", entry("bob", "now"))
	prefix := s.BuildContextPrefix("c", true)
	if !strings.Contains(prefix, "id=m1") || !strings.Contains(prefix, "channel=general") {
		t.Errorf("prefix should carry message id and channel:\n%s", prefix)
	}
}

func TestConcurrentDistinctKeys(t *testing.T) {
	s := New(50)
	var wg sync.WaitGroup
	for k := 0; k < 8; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			key := fmt.Sprintf("conv-%d", k)
			for i := 0; i < 100; i++ {
				s.RecordTurn(key, entry("u", "m"))
				_ = s.BuildContextPrefix(key, false)
			}
		}(k)
	}
	wg.Wait()
	for k := 0; k < 8; k++ {
		if got := s.Len(fmt.Sprintf("conv-%d", k)); got != 50 {
			t.Errorf("conv-%d Len = %d, want 50", k, got)
		}
	}
}
