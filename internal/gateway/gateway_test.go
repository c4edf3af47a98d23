package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roelfdiedericks/clawgate/internal/agent"
	"github.com/roelfdiedericks/clawgate/internal/channels"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/history"
	"github.com/roelfdiedericks/clawgate/internal/nodes"
	"github.com/roelfdiedericks/clawgate/internal/session"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

type sentCall struct {
	text    string
	media   string
	replyTo string
}

type fakeSender struct {
	calls  []sentCall
	typing int
	fail   bool
}

func (f *fakeSender) SendText(ctx context.Context, target, text, replyTo string) (string, error) {
	f.calls = append(f.calls, sentCall{text: text, replyTo: replyTo})
	if f.fail {
		return "", errors.New("send failed")
	}
	return fmt.Sprintf("m%d", len(f.calls)), nil
}

func (f *fakeSender) SendMedia(ctx context.Context, target, mediaURL, caption, replyTo string) (string, error) {
	f.calls = append(f.calls, sentCall{text: caption, media: mediaURL, replyTo: replyTo})
	if f.fail {
		return "", errors.New("send failed")
	}
	return fmt.Sprintf("m%d", len(f.calls)), nil
}

func (f *fakeSender) SendTyping(ctx context.Context, target string) { f.typing++ }
func (f *fakeSender) HardLimit() int                                { return 0 }

func newTestGateway(t *testing.T, gen agent.Generator, histLimit int) *Gateway {
	t.Helper()
	routes, err := session.Open(filepath.Join(t.TempDir(), "routes.db"))
	if err != nil {
		t.Fatalf("failed to open route store: %v", err)
	}
	t.Cleanup(func() { routes.Close() })
	return New(gen, history.New(histLimit), routes, nodes.NewRegistry())
}

func groupContext(sid string) *types.MessageContext {
	return &types.MessageContext{
		Body:       "hello",
		From:       "111",
		To:         "room-1",
		ChatType:   types.ChatGroup,
		SenderName: "alice",
		Surface:    types.SurfaceTelegram,
		MessageSid: sid,
		GroupRoom:  "general",
	}
}

func dmContext(sid string) *types.MessageContext {
	return &types.MessageContext{
		Body:       "hi",
		From:       "111",
		To:         "111",
		ChatType:   types.ChatDirect,
		SenderName: "alice",
		Surface:    types.SurfaceTelegram,
		MessageSid: sid,
	}
}

func TestDuplicateMessageDropped(t *testing.T) {
	turns := 0
	gen := &agent.Static{Fn: func(ctx context.Context, mc *types.MessageContext, hooks agent.Hooks) ([]types.ReplyPayload, error) {
		turns++
		return []types.ReplyPayload{{Text: "ok"}}, nil
	}}
	g := newTestGateway(t, gen, 10)
	s := &fakeSender{}

	for i := 0; i < 3; i++ {
		if err := g.HandleInbound(context.Background(), dmContext("sid-1"), s, channels.DeliverOptions{}); err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
	}
	if turns != 1 {
		t.Errorf("generator ran %d times for one sid, want 1", turns)
	}
	if len(s.calls) != 1 {
		t.Errorf("sent %d messages, want 1", len(s.calls))
	}
}

func TestSameSidDifferentConversationsNotDeduped(t *testing.T) {
	turns := 0
	gen := &agent.Static{Fn: func(ctx context.Context, mc *types.MessageContext, hooks agent.Hooks) ([]types.ReplyPayload, error) {
		turns++
		return []types.ReplyPayload{{Text: "ok"}}, nil
	}}
	g := newTestGateway(t, gen, 10)
	s := &fakeSender{}

	// Providers only guarantee message ids unique per conversation: two
	// direct chats can legitimately carry the same id.
	first := dmContext("100")
	second := dmContext("100")
	second.From = "222"
	second.To = "222"

	if err := g.HandleInbound(context.Background(), first, s, channels.DeliverOptions{}); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if err := g.HandleInbound(context.Background(), second, s, channels.DeliverOptions{}); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if turns != 2 {
		t.Errorf("generator ran %d times for two conversations, want 2", turns)
	}
}

func TestGroupHistoryAccumulatesAndClears(t *testing.T) {
	silent := true
	gen := &agent.Static{Fn: func(ctx context.Context, mc *types.MessageContext, hooks agent.Hooks) ([]types.ReplyPayload, error) {
		if silent {
			return nil, nil
		}
		return []types.ReplyPayload{{Text: "answer"}}, nil
	}}
	g := newTestGateway(t, gen, 10)
	s := &fakeSender{}

	g.HandleInbound(context.Background(), groupContext("a"), s, channels.DeliverOptions{})
	g.HandleInbound(context.Background(), groupContext("b"), s, channels.DeliverOptions{})
	conv := groupContext("x").ConversationID()
	if got := g.History().Len(conv); got != 2 {
		t.Fatalf("history after silent turns = %d, want 2", got)
	}

	// The answered turn sees the prior messages as a context prefix.
	var seenBody string
	gen.Fn = func(ctx context.Context, mc *types.MessageContext, hooks agent.Hooks) ([]types.ReplyPayload, error) {
		seenBody = mc.Body
		return []types.ReplyPayload{{Text: "answer"}}, nil
	}
	if err := g.HandleInbound(context.Background(), groupContext("c"), s, channels.DeliverOptions{}); err != nil {
		t.Fatalf("answered turn failed: %v", err)
	}
	if !strings.Contains(seenBody, "[Messages since your last reply]") {
		t.Errorf("turn body missing context prefix: %q", seenBody)
	}
	if got := g.History().Len(conv); got != 0 {
		t.Errorf("history after replied turn = %d, want 0", got)
	}
}

func TestSilentTurnKeepsHistory(t *testing.T) {
	gen := &agent.Static{Fn: func(ctx context.Context, mc *types.MessageContext, hooks agent.Hooks) ([]types.ReplyPayload, error) {
		return []types.ReplyPayload{{}}, nil // explicit silence
	}}
	g := newTestGateway(t, gen, 10)
	s := &fakeSender{}

	g.HandleInbound(context.Background(), groupContext("a"), s, channels.DeliverOptions{})
	if got := g.History().Len(groupContext("x").ConversationID()); got != 1 {
		t.Errorf("history after silent turn = %d, want 1", got)
	}
	if len(s.calls) != 0 {
		t.Errorf("silent turn sent %d messages, want 0", len(s.calls))
	}
}

func TestGenerationFailureBlocksStand(t *testing.T) {
	gen := &agent.Static{Fn: func(ctx context.Context, mc *types.MessageContext, hooks agent.Hooks) ([]types.ReplyPayload, error) {
		hooks.OnBlockReply(types.ReplyPayload{Text: "thinking..."})
		return nil, errors.New("backend crashed")
	}}
	g := newTestGateway(t, gen, 10)
	s := &fakeSender{}

	err := g.HandleInbound(context.Background(), groupContext("a"), s, channels.DeliverOptions{})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected generation failure, got %v", err)
	}
	if len(s.calls) != 1 || s.calls[0].text != "thinking..." {
		t.Errorf("delivered block must stand: calls = %+v", s.calls)
	}
	// The block counted as a reply, so the group buffer clears.
	if got := g.History().Len(groupContext("x").ConversationID()); got != 0 {
		t.Errorf("history after block-replied turn = %d, want 0", got)
	}
}

func TestFirstModeThreadsOnceAcrossBlocksAndFinal(t *testing.T) {
	gen := &agent.Static{Fn: func(ctx context.Context, mc *types.MessageContext, hooks agent.Hooks) ([]types.ReplyPayload, error) {
		hooks.OnBlockReply(types.ReplyPayload{Text: "block"})
		return []types.ReplyPayload{{Text: "final"}}, nil
	}}
	g := newTestGateway(t, gen, 0)
	s := &fakeSender{}

	opts := channels.DeliverOptions{ReplyToMode: config.ReplyToFirst, OriginID: "origin-1"}
	if err := g.HandleInbound(context.Background(), dmContext("a"), s, opts); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(s.calls) != 2 {
		t.Fatalf("sent %d messages, want 2", len(s.calls))
	}
	if s.calls[0].replyTo != "origin-1" {
		t.Errorf("block replyTo = %q, want origin-1", s.calls[0].replyTo)
	}
	if s.calls[1].replyTo != "" {
		t.Errorf("final replyTo = %q, want empty (slot consumed by block)", s.calls[1].replyTo)
	}
}

func TestDirectTurnUpdatesRoute(t *testing.T) {
	gen := &agent.Static{}
	g := newTestGateway(t, gen, 0)
	s := &fakeSender{}

	if err := g.HandleInbound(context.Background(), dmContext("a"), s, channels.DeliverOptions{}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	route, err := g.Routes().GetRoute(context.Background(), session.DefaultKey)
	if err != nil {
		t.Fatalf("GetRoute failed: %v", err)
	}
	if route == nil || route.Surface != types.SurfaceTelegram || route.To != "111" {
		t.Errorf("route = %+v, want telegram/111", route)
	}
}

func TestGroupTurnDoesNotUpdateRoute(t *testing.T) {
	gen := &agent.Static{}
	g := newTestGateway(t, gen, 10)
	s := &fakeSender{}

	g.HandleInbound(context.Background(), groupContext("a"), s, channels.DeliverOptions{})
	route, err := g.Routes().GetRoute(context.Background(), session.DefaultKey)
	if err != nil {
		t.Fatalf("GetRoute failed: %v", err)
	}
	if route != nil {
		t.Errorf("group turn stored route %+v, want none", route)
	}
}

func TestTypingFiresOnReplyStart(t *testing.T) {
	gen := &agent.Static{}
	g := newTestGateway(t, gen, 0)
	s := &fakeSender{}

	g.HandleInbound(context.Background(), dmContext("a"), s, channels.DeliverOptions{})
	if s.typing != 1 {
		t.Errorf("typing fired %d times, want 1", s.typing)
	}
}

func TestProactiveDeliveryFollowsRoute(t *testing.T) {
	gen := &agent.Static{}
	g := newTestGateway(t, gen, 0)
	s := &fakeSender{}

	if err := g.HandleInbound(context.Background(), dmContext("a"), s, channels.DeliverOptions{}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	g.RegisterSender(types.SurfaceTelegram, s, channels.DeliverOptions{})

	before := len(s.calls)
	if err := g.DeliverProactive(context.Background(), session.DefaultKey, []types.ReplyPayload{{Text: "ping"}}); err != nil {
		t.Fatalf("proactive delivery failed: %v", err)
	}
	if len(s.calls) != before+1 {
		t.Fatalf("proactive sent %d messages, want 1", len(s.calls)-before)
	}
	last := s.calls[len(s.calls)-1]
	if last.text != "ping" || last.replyTo != "" {
		t.Errorf("proactive send = %+v, want unthreaded ping", last)
	}
}
