package types

// ReplyPayload is one unit of agent output. A turn may yield zero (silent),
// one, or many payloads, delivered strictly in order.
type ReplyPayload struct {
	Text      string   `json:"text,omitempty"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
	ReplyToID string   `json:"replyToId,omitempty"`
}

// IsEmpty reports whether the payload carries nothing to send.
// Empty payloads are an explicit "silent" marker, not an error.
func (p ReplyPayload) IsEmpty() bool {
	return p.Text == "" && p.MediaURL == "" && len(p.MediaURLs) == 0
}

// AllMedia returns MediaURL and MediaURLs merged, in order.
func (p ReplyPayload) AllMedia() []string {
	if p.MediaURL == "" {
		return p.MediaURLs
	}
	out := make([]string, 0, len(p.MediaURLs)+1)
	out = append(out, p.MediaURL)
	return append(out, p.MediaURLs...)
}

// HistoryEntry is one line of group context kept "since your last reply".
type HistoryEntry struct {
	Sender    string
	Body      string
	Timestamp int64  // epoch-ms, optional
	MessageID string // optional
	Channel   string // optional, for context rendering
}

// SystemEventKind classifies non-conversational provider events.
type SystemEventKind string

const (
	SystemPin          SystemEventKind = "pin"
	SystemJoin         SystemEventKind = "join"
	SystemLeave        SystemEventKind = "leave"
	SystemBoost        SystemEventKind = "boost"
	SystemThreadCreate SystemEventKind = "thread_create"
	SystemOther        SystemEventKind = "other"
)

// SystemEvent is a non-conversational notification. It never reaches the
// reply orchestrator.
type SystemEvent struct {
	Surface   Surface
	Kind      SystemEventKind
	Room      string
	Actor     string
	Detail    string
	Timestamp int64
}

// ReactionAction distinguishes reaction add/remove.
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

// ReactionEvent is a reaction notification, gated per guild by the reaction
// mode before it is produced. Like SystemEvent it never triggers a reply.
type ReactionEvent struct {
	Surface    Surface
	Action     ReactionAction
	Emoji      string
	Room       string
	ReactorID  string
	Reactor    string
	MessageID  string
	OnOwnPost  bool // reaction landed on the bot's own message
	Timestamp  int64
}
