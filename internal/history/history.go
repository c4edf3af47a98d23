// Package history holds the per-conversation rolling context buffer.
//
// Group/guild turns accumulate here between replies; once the agent has seen
// and answered, the buffer is cleared so stale context does not leak into the
// next unrelated turn. Direct-message conversations never accumulate history.
// In-memory only; lifetime is the gateway process.
package history

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roelfdiedericks/clawgate/internal/types"
)

// Store owns the history buffers, keyed by conversation id. Constructed at
// startup and injected into the per-provider listeners. Append/truncate/clear
// are atomic per key; different keys never contend on one lock.
type Store struct {
	limit int
	convs sync.Map // conversation id -> *buffer
}

type buffer struct {
	mu      sync.Mutex
	entries []types.HistoryEntry
}

// New creates a store. A limit of 0 disables history entirely: no storage,
// no context injection.
func New(limit int) *Store {
	return &Store{limit: limit}
}

// Enabled reports whether history is being kept at all.
func (s *Store) Enabled() bool { return s.limit > 0 }

// RecordTurn appends an entry to the conversation's buffer, evicting from the
// front once the length exceeds the limit (FIFO).
func (s *Store) RecordTurn(conversationID string, e types.HistoryEntry) {
	if s.limit <= 0 {
		return
	}
	b := s.bufferFor(conversationID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if over := len(b.entries) - s.limit; over > 0 {
		b.entries = append([]types.HistoryEntry(nil), b.entries[over:]...)
	}
}

// Len returns the current number of entries for a conversation.
func (s *Store) Len(conversationID string) int {
	v, ok := s.convs.Load(conversationID)
	if !ok {
		return 0
	}
	b := v.(*buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// BuildContextPrefix renders the buffered entries as a "since your last
// reply" block to prepend to the agent turn. When excludeCurrent is true the
// most recent entry (the one just appended for this turn) is omitted.
// Returns "" when there is nothing to render.
func (s *Store) BuildContextPrefix(conversationID string, excludeCurrent bool) string {
	if s.limit <= 0 {
		return ""
	}
	v, ok := s.convs.Load(conversationID)
	if !ok {
		return ""
	}
	b := v.(*buffer)
	b.mu.Lock()
	entries := append([]types.HistoryEntry(nil), b.entries...)
	b.mu.Unlock()

	if excludeCurrent && len(entries) > 0 {
		entries = entries[:len(entries)-1]
	}
	if len(entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("[Messages since your last reply]\n")
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.Sender)
		if e.MessageID != "" || e.Channel != "" {
			sb.WriteString(" (")
			if e.MessageID != "" {
				fmt.Fprintf(&sb, "id=%s", e.MessageID)
			}
			if e.Channel != "" {
				if e.MessageID != "" {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "channel=%s", e.Channel)
			}
			sb.WriteString(")")
		}
		sb.WriteString(": ")
		sb.WriteString(e.Body)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ClearIfReplied empties the buffer. Invoked only after a reply was actually
// delivered for a group turn; callers must not clear on silent or failed
// turns.
func (s *Store) ClearIfReplied(conversationID string) {
	v, ok := s.convs.Load(conversationID)
	if !ok {
		return
	}
	b := v.(*buffer)
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}

func (s *Store) bufferFor(conversationID string) *buffer {
	if v, ok := s.convs.Load(conversationID); ok {
		return v.(*buffer)
	}
	v, _ := s.convs.LoadOrStore(conversationID, &buffer{})
	return v.(*buffer)
}
