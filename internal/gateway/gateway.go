// Package gateway is the hub between provider adapters, the agent backend,
// companion-device nodes, and WebSocket clients.
//
// Adapters normalize inbound provider events into a MessageContext and hand
// it to HandleInbound; the pipeline owns dedup, group history, session
// routing, orchestration against the agent, and outbound delivery through the
// originating adapter's sender.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/roelfdiedericks/clawgate/internal/agent"
	"github.com/roelfdiedericks/clawgate/internal/bus"
	"github.com/roelfdiedericks/clawgate/internal/channels"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/history"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/nodes"
	"github.com/roelfdiedericks/clawgate/internal/session"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// Bus topics published by the gateway.
const (
	TopicSystemEvent = "gateway.system"
	TopicReaction    = "gateway.reaction"
	TopicInbound     = "gateway.inbound"
)

// Gateway owns the inbound pipeline and the shared stores.
type Gateway struct {
	gen     agent.Generator
	history *history.Store
	routes  *session.Store // nil when routing is disabled
	nodes   *nodes.Registry
	dedup   *dedupRing

	mu      sync.RWMutex
	senders map[types.Surface]RegisteredSender
	notify  func(topic string, payload any)
}

// RegisteredSender is a provider's outbound capability plus its default
// delivery options, registered so proactive sends (heartbeat, routed agent
// messages) can deliver without an inbound turn in flight.
type RegisteredSender struct {
	Sender channels.Sender
	Opts   channels.DeliverOptions
}

// New creates a gateway.
func New(gen agent.Generator, hist *history.Store, routes *session.Store, reg *nodes.Registry) *Gateway {
	return &Gateway{
		gen:     gen,
		history: hist,
		routes:  routes,
		nodes:   reg,
		dedup:   newDedupRing(),
		senders: make(map[types.Surface]RegisteredSender),
	}
}

// Nodes returns the companion-device registry.
func (g *Gateway) Nodes() *nodes.Registry { return g.nodes }

// History returns the group context store.
func (g *Gateway) History() *history.Store { return g.history }

// Routes returns the session route store (may be nil).
func (g *Gateway) Routes() *session.Store { return g.routes }

// RegisterSender makes a surface available for proactive delivery. Adapters
// call this once their connection is ready and deregister on stop.
func (g *Gateway) RegisterSender(surface types.Surface, s channels.Sender, opts channels.DeliverOptions) {
	g.mu.Lock()
	g.senders[surface] = RegisteredSender{Sender: s, Opts: opts}
	g.mu.Unlock()
	L_debug("gateway: sender registered", "surface", surface)
}

// DeregisterSender removes a surface from proactive delivery.
func (g *Gateway) DeregisterSender(surface types.Surface) {
	g.mu.Lock()
	delete(g.senders, surface)
	g.mu.Unlock()
}

// SenderFor returns the registered sender for a surface.
func (g *Gateway) SenderFor(surface types.Surface) (RegisteredSender, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rs, ok := g.senders[surface]
	return rs, ok
}

// SetNotifier installs the broadcast hook used for system and reaction
// events (the WebSocket server forwards them to attached clients).
func (g *Gateway) SetNotifier(fn func(topic string, payload any)) {
	g.mu.Lock()
	g.notify = fn
	g.mu.Unlock()
}

// HandleInbound runs one admitted inbound message through the pipeline:
// dedup, history accumulation, session routing, agent orchestration, and
// delivery back through the originating surface.
//
// mc must be fully populated by the adapter and is not mutated after the
// generator is invoked. Admission (allowlists, mention gating, capability
// toggles) has already happened in the adapter; everything reaching this
// point produces an agent turn unless it is a duplicate.
func (g *Gateway) HandleInbound(ctx context.Context, mc *types.MessageContext, sender channels.Sender, opts channels.DeliverOptions) error {
	if g.dedup.Seen(mc.ConversationID(), mc.MessageSid) {
		L_debug("gateway: duplicate dropped", "conversation", mc.ConversationID(), "sid", mc.MessageSid)
		return nil
	}

	if mc.SessionKey == "" {
		mc.SessionKey = session.KeyFor(mc)
	}
	conv := mc.ConversationID()
	isGroup := !mc.IsDirect()

	L_info("gateway: inbound", "surface", mc.Surface, "from", mc.From, "chat", mc.ChatType, "sid", mc.MessageSid)
	bus.PublishEventWithSource(TopicInbound, mc, "gateway")

	// Group turns accumulate; the buffer renders as a context prefix on the
	// turn that finally reaches the agent.
	if isGroup && g.history.Enabled() {
		g.history.RecordTurn(conv, types.HistoryEntry{
			Sender:    mc.SenderName,
			Body:      mc.Body,
			Timestamp: mc.Timestamp,
			MessageID: mc.MessageSid,
			Channel:   mc.GroupRoom,
		})
	}

	// Only direct-message turns move the proactive-delivery route.
	if !isGroup && g.routes != nil {
		if err := g.routes.UpdateRoute(ctx, mc.SessionKey, mc.Surface, mc.To); err != nil {
			L_warn("gateway: route update failed", "key", mc.SessionKey, "error", err)
		}
		if mc.SessionKey != session.DefaultKey {
			if err := g.routes.UpdateRoute(ctx, session.DefaultKey, mc.Surface, mc.To); err != nil {
				L_warn("gateway: default route update failed", "error", err)
			}
		}
	}

	if isGroup {
		if prefix := g.history.BuildContextPrefix(conv, true); prefix != "" {
			mc.Body = prefix + mc.Body
		}
	}

	turn := channels.NewTurn()
	hooks := agent.Hooks{
		OnReplyStart: func() {
			sender.SendTyping(ctx, mc.To)
		},
		OnBlockReply: func(p types.ReplyPayload) {
			turn.Deliver(ctx, sender, mc.To, []types.ReplyPayload{p}, opts)
		},
	}

	// Delivered blocks count as a reply even when the final result fails, so
	// the clear runs regardless of the generation outcome.
	defer func() {
		if isGroup && turn.Replied() {
			g.history.ClearIfReplied(conv)
		}
	}()

	replies, err := g.gen.GenerateReplies(ctx, mc, hooks)
	if err != nil {
		L_error("gateway: generation failed", "surface", mc.Surface, "from", mc.From, "error", err)
		return fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	res := turn.Deliver(ctx, sender, mc.To, replies, opts)
	if res.Failed > 0 {
		return fmt.Errorf("%w: %d of %d sends failed", ErrDelivery, res.Failed, res.Attempted)
	}
	if !turn.Replied() {
		L_debug("gateway: silent turn", "surface", mc.Surface, "from", mc.From)
	}
	return nil
}

// DeliverProactive sends payloads through the stored route for a session key,
// outside any inbound turn (heartbeat, agent-initiated messages).
func (g *Gateway) DeliverProactive(ctx context.Context, sessionKey string, replies []types.ReplyPayload) error {
	if g.routes == nil {
		return fmt.Errorf("%w: session routing disabled", ErrCapabilityDisabled)
	}
	route, err := g.routes.GetRoute(ctx, sessionKey)
	if err != nil {
		return err
	}
	if route == nil {
		return fmt.Errorf("no route stored for session %q", sessionKey)
	}
	rs, ok := g.SenderFor(route.Surface)
	if !ok {
		return fmt.Errorf("%w: surface %s not connected", ErrProviderConnection, route.Surface)
	}

	opts := rs.Opts
	opts.ReplyToMode = config.ReplyToOff // proactive sends never thread
	opts.OriginID = ""
	res := channels.Deliver(ctx, rs.Sender, route.To, replies, opts)
	if res.Failed > 0 {
		return fmt.Errorf("%w: %d of %d sends failed", ErrDelivery, res.Failed, res.Attempted)
	}
	return nil
}

// HandleSystemEvent forwards a provider meta event (group join, pairing,
// channel lifecycle) as a notification. Never an agent turn.
func (g *Gateway) HandleSystemEvent(ev types.SystemEvent) {
	L_debug("gateway: system event", "kind", ev.Kind, "surface", ev.Surface)
	bus.PublishEventWithSource(TopicSystemEvent, ev, "gateway")
	g.broadcast(TopicSystemEvent, ev)
}

// HandleReaction forwards an admitted reaction event as a notification.
// Reaction admission (off/own/all/allowlist) happens in the adapter.
func (g *Gateway) HandleReaction(ev types.ReactionEvent) {
	L_debug("gateway: reaction", "surface", ev.Surface, "emoji", ev.Emoji, "action", ev.Action)
	bus.PublishEventWithSource(TopicReaction, ev, "gateway")
	g.broadcast(TopicReaction, ev)
}

func (g *Gateway) broadcast(topic string, payload any) {
	g.mu.RLock()
	notify := g.notify
	g.mu.RUnlock()
	if notify != nil {
		notify(topic, payload)
	}
}
