package discord

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/roelfdiedericks/clawgate/internal/agent"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/gateway"
	"github.com/roelfdiedericks/clawgate/internal/history"
	"github.com/roelfdiedericks/clawgate/internal/nodes"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// captureGen records the context handed to the agent without producing
// replies, so adapter tests never touch the Discord API.
type captureGen struct {
	mc *types.MessageContext
}

func (g *captureGen) GenerateReplies(ctx context.Context, mc *types.MessageContext, hooks agent.Hooks) ([]types.ReplyPayload, error) {
	g.mc = mc
	return nil, nil
}

func newTestChannel(t *testing.T, gen agent.Generator) *Channel {
	t.Helper()
	gw := gateway.New(gen, history.New(0), nil, nodes.NewRegistry())
	c, err := New(config.DiscordConfig{BotToken: "test-token"}, config.MediaConfig{}, gw, nil)
	if err != nil {
		t.Fatalf("failed to create channel: %v", err)
	}
	c.botUserID = "bot-1"
	c.ctx = context.Background()
	return c
}

func TestDirectMessageNeverMentioned(t *testing.T) {
	gen := &captureGen{}
	c := newTestChannel(t, gen)

	// A DM containing a literal mention token still must not set the flag;
	// mentions only mean anything in guilds.
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m-1",
		ChannelID: "dm-1",
		Content:   "hey <@bot-1> are you there",
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
		Mentions:  []*discordgo.User{{ID: "bot-1"}},
	}}
	c.handleMessage(c.session, m)

	if gen.mc == nil {
		t.Fatal("direct message did not reach the pipeline")
	}
	if gen.mc.WasMentioned {
		t.Error("direct message marked as mentioned")
	}
	if gen.mc.ChatType != types.ChatDirect {
		t.Errorf("chat type = %q, want %q", gen.mc.ChatType, types.ChatDirect)
	}
}

func TestBoostMessageBecomesSystemEvent(t *testing.T) {
	gen := &captureGen{}
	c := newTestChannel(t, gen)

	var got types.SystemEvent
	c.gw.SetNotifier(func(topic string, payload any) {
		if topic == gateway.TopicSystemEvent {
			got = payload.(types.SystemEvent)
		}
	})

	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:     "m-2",
		Type:   discordgo.MessageTypeUserPremiumGuildSubscription,
		Author: &discordgo.User{ID: "user-1", Username: "alice"},
	}}
	c.handleMessage(c.session, m)

	if got.Kind != types.SystemBoost {
		t.Errorf("event kind = %q, want %q", got.Kind, types.SystemBoost)
	}
	if got.Actor != "user-1" {
		t.Errorf("event actor = %q, want user-1", got.Actor)
	}
	if gen.mc != nil {
		t.Error("boost message must not produce an agent turn")
	}
}

func TestGuildMentioned(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{Content: "hello"}}
	if guildMentioned(m, "bot-1") {
		t.Error("plain message counted as mention")
	}
	m.Content = "<@bot-1> hello"
	if !guildMentioned(m, "bot-1") {
		t.Error("inline mention token not detected")
	}
	m = &discordgo.MessageCreate{Message: &discordgo.Message{
		Content:  "hello",
		Mentions: []*discordgo.User{{ID: "bot-1"}},
	}}
	if !guildMentioned(m, "bot-1") {
		t.Error("mentions array not detected")
	}
}

func TestIsBoostMessage(t *testing.T) {
	boosts := []discordgo.MessageType{
		discordgo.MessageTypeUserPremiumGuildSubscription,
		discordgo.MessageTypeUserPremiumGuildSubscriptionTierOne,
		discordgo.MessageTypeUserPremiumGuildSubscriptionTierTwo,
		discordgo.MessageTypeUserPremiumGuildSubscriptionTierThree,
	}
	for _, mt := range boosts {
		if !isBoostMessage(mt) {
			t.Errorf("type %d not recognized as boost", mt)
		}
	}
	if isBoostMessage(discordgo.MessageTypeDefault) {
		t.Error("default message type recognized as boost")
	}
}

func TestInteractionBody(t *testing.T) {
	opts := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "facing", Value: "front"},
		{Name: "count", Value: float64(3)},
	}
	if got := interactionBody("snap", opts); got != "/snap facing:front count:3" {
		t.Errorf("interactionBody = %q, want %q", got, "/snap facing:front count:3")
	}
	if got := interactionBody("status", nil); got != "/status" {
		t.Errorf("interactionBody = %q, want %q", got, "/status")
	}
}

func TestStripMention(t *testing.T) {
	if got := stripMention("<@bot-1> hello", "bot-1"); got != "hello" {
		t.Errorf("stripMention = %q, want %q", got, "hello")
	}
	if got := stripMention("<@!bot-1> hi", "bot-1"); got != "hi" {
		t.Errorf("stripMention = %q, want %q", got, "hi")
	}
}
