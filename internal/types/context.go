// Package types contains the canonical records shared across the routing core.
// The orchestrator and history store depend only on these shapes, never on
// provider-specific event types.
package types

// Surface identifies a chat backend.
type Surface string

const (
	SurfaceWhatsApp Surface = "whatsapp"
	SurfaceTelegram Surface = "telegram"
	SurfaceDiscord  Surface = "discord"
	SurfaceWebChat  Surface = "webchat"
)

// ChatType distinguishes 1:1 conversations from group/guild ones.
type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// MessageContext is the canonical inbound record. It is created fresh per
// provider event, owned by that turn's pipeline, and never mutated after the
// orchestrator is invoked.
//
// From and To are stable, provider-namespaced opaque strings (e.g.
// "discord:184..." or "group:1203@g.us") never reused across surfaces.
// MessageSid is unique per (Surface, conversation) and is the dedup key.
type MessageContext struct {
	Body string
	From string // provider-scoped sender id
	To   string // reply target

	ChatType       ChatType
	SenderName     string
	SenderUsername string // optional
	Surface        Surface
	WasMentioned   bool

	MessageSid string
	Timestamp  int64 // epoch-ms

	MediaPath string // local path of the downloaded attachment, if any
	MediaType string // MIME type
	MediaURL  string // original remote URL, if the provider exposes one

	GroupSubject string
	GroupRoom    string
	GroupSpace   string // guild/workspace name where applicable

	SessionKey string
}

// IsDirect reports whether this is a 1:1 conversation turn.
func (m *MessageContext) IsDirect() bool { return m.ChatType == ChatDirect }

// ConversationID returns the key under which group history accumulates.
func (m *MessageContext) ConversationID() string {
	return string(m.Surface) + ":" + m.To
}
