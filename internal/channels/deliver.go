package channels

import (
	"context"

	"github.com/roelfdiedericks/clawgate/internal/config"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// DeliverOptions controls one turn's outbound delivery.
type DeliverOptions struct {
	// ChunkLimit is the configured text limit; the effective limit is
	// min(ChunkLimit, Sender.HardLimit()).
	ChunkLimit int

	// ReplyToMode: config.ReplyToOff / ReplyToAll / ReplyToFirst.
	ReplyToMode string

	// OriginID is the inbound message id used for threading.
	OriginID string

	// CaptionLimit truncates media captions when the provider caps them
	// separately (0 = no cap).
	CaptionLimit int
}

// DeliverResult summarizes one turn's delivery.
type DeliverResult struct {
	Attempted int // sends attempted (the turn counts as "replied" when > 0)
	Sent      int // sends that succeeded
	Failed    int // sends that errored (logged, never aborting the turn)
}

// Replied reports whether at least one payload was attempted this turn.
func (r DeliverResult) Replied() bool { return r.Attempted > 0 }

// turnState tracks the per-turn "has replied" flag for first-only threading.
// It is reset per turn and independent of history state.
type turnState struct {
	replied bool
}

func (t *turnState) replyTo(mode, origin, payloadReplyTo string) string {
	target := payloadReplyTo
	if target == "" {
		target = origin
	}
	switch mode {
	case config.ReplyToOff:
		return ""
	case config.ReplyToAll:
		return target
	default: // first
		if t.replied {
			return ""
		}
		return target
	}
}

// Turn carries delivery state across all sends of one inbound turn, so that
// first-only threading applies once per turn even when interim block payloads
// are delivered before the final replies.
type Turn struct {
	state turnState
	res   DeliverResult
}

// NewTurn starts a fresh delivery turn.
func NewTurn() *Turn { return &Turn{} }

// Replied reports whether any send has been attempted this turn.
func (t *Turn) Replied() bool { return t.res.Attempted > 0 }

// Result returns the accumulated delivery counters.
func (t *Turn) Result() DeliverResult { return t.res }

// Deliver sends the turn's payloads in order through one provider.
//
// Per payload: empty payloads are an explicit silent marker and are skipped;
// text-only payloads are chunked and sent as separate messages in order;
// payloads with media produce one send per media URL, the first carrying the
// payload text as caption and the rest empty captions. A failed send is
// logged and delivery continues with the remaining sends and payloads.
func Deliver(ctx context.Context, s Sender, target string, replies []types.ReplyPayload, opts DeliverOptions) DeliverResult {
	return NewTurn().Deliver(ctx, s, target, replies, opts)
}

// Deliver sends payloads within this turn, accumulating threading state and
// counters across calls.
func (t *Turn) Deliver(ctx context.Context, s Sender, target string, replies []types.ReplyPayload, opts DeliverOptions) DeliverResult {
	res := &t.res
	state := &t.state
	limit := EffectiveLimit(opts.ChunkLimit, s.HardLimit())

	for i, p := range replies {
		if p.IsEmpty() {
			L_debug("deliver: silent payload skipped", "index", i)
			continue
		}

		media := p.AllMedia()
		if len(media) == 0 {
			for _, chunk := range SplitMessage(p.Text, limit) {
				if chunk == "" {
					continue
				}
				res.Attempted++
				replyTo := state.replyTo(opts.ReplyToMode, opts.OriginID, p.ReplyToID)
				id, err := s.SendText(ctx, target, chunk, replyTo)
				if err != nil {
					res.Failed++
					L_error("deliver: text send failed", "target", target, "index", i, "error", err)
					// The threading slot is consumed by the attempt.
					state.replied = true
					continue
				}
				res.Sent++
				state.replied = true
				L_trace("deliver: text sent", "target", target, "id", id)
			}
			continue
		}

		// Media payload: first send carries the caption, the rest are bare.
		caption := p.Text
		if opts.CaptionLimit > 0 {
			caption = Truncate(caption, opts.CaptionLimit)
		}
		for j, url := range media {
			if j > 0 {
				caption = ""
			}
			res.Attempted++
			replyTo := state.replyTo(opts.ReplyToMode, opts.OriginID, p.ReplyToID)
			id, err := s.SendMedia(ctx, target, url, caption, replyTo)
			if err != nil {
				res.Failed++
				L_error("deliver: media send failed", "target", target, "url", url, "error", err)
				state.replied = true
				continue
			}
			res.Sent++
			state.replied = true
			L_trace("deliver: media sent", "target", target, "id", id)
		}
	}

	return *res
}
