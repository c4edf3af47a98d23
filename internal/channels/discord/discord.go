// Package discord is the Discord provider adapter.
//
// Guild admission is config-projected: guilds resolve by id or name slug,
// channels override per guild, and reaction notifications are gated by the
// guild's reaction mode before they leave the adapter.
package discord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/roelfdiedericks/clawgate/internal/channels"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/gateway"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/media"
	"github.com/roelfdiedericks/clawgate/internal/policy"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// Channel is the Discord adapter.
type Channel struct {
	session *discordgo.Session
	gw      *gateway.Gateway
	store   *media.Store

	mu        sync.RWMutex
	cfg       config.DiscordConfig
	mediaCfg  config.MediaConfig
	admission *channels.Admission
	botUserID string

	running   bool
	startedAt time.Time
	lastErr   error

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an unstarted Discord channel.
func New(cfg config.DiscordConfig, mediaCfg config.MediaConfig, gw *gateway.Gateway, store *media.Store) (*Channel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord bot token not configured")
	}

	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildMembers

	c := &Channel{
		session:   dg,
		gw:        gw,
		store:     store,
		cfg:       cfg,
		mediaCfg:  mediaCfg,
		admission: channels.NewAdmission(cfg.ChannelPolicy),
	}

	dg.AddHandler(c.handleReady)
	dg.AddHandler(c.handleMessage)
	dg.AddHandler(c.handleInteraction)
	dg.AddHandler(c.handleReactionAdd)
	dg.AddHandler(c.handleReactionRemove)
	dg.AddHandler(c.handleGuildMemberAdd)
	dg.AddHandler(c.handleGuildMemberRemove)
	dg.AddHandler(c.handlePinsUpdate)
	dg.AddHandler(c.handleThreadCreate)

	return c, nil
}

// Name implements channels.ManagedChannel.
func (c *Channel) Name() string { return "discord" }

// Start opens the Discord gateway connection. Inbound events are processed
// once the ready event has delivered the bot's own user id.
func (c *Channel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}

	c.mu.Lock()
	c.running = true
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.gw.RegisterSender(types.SurfaceDiscord, c, c.deliverOptions(""))
	return nil
}

// Stop closes the Discord connection.
func (c *Channel) Stop() error {
	L_info("discord: stopping")
	c.gw.DeregisterSender(types.SurfaceDiscord)
	if c.cancel != nil {
		c.cancel()
	}
	err := c.session.Close()
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return err
}

// Reload applies a new config in place; a token change forces a restart.
func (c *Channel) Reload(cfg *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Discord.BotToken != c.cfg.BotToken {
		return fmt.Errorf("bot token changed")
	}
	c.cfg = cfg.Discord
	c.mediaCfg = cfg.Media
	c.admission = channels.NewAdmission(cfg.Discord.ChannelPolicy)
	L_info("discord: policy reloaded")
	return nil
}

// Status implements channels.ManagedChannel.
func (c *Channel) Status() channels.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return channels.ChannelStatus{
		Running:   c.running,
		Connected: c.running && c.botUserID != "",
		Error:     c.lastErr,
		StartedAt: c.startedAt,
	}
}

func (c *Channel) deliverOptions(originID string) channels.DeliverOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return channels.DeliverOptions{
		ChunkLimit:  c.cfg.ChunkLimit,
		ReplyToMode: c.cfg.Mode(),
		OriginID:    originID,
	}
}

func (c *Channel) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	c.mu.Lock()
	c.botUserID = r.User.ID
	c.mu.Unlock()
	L_info("discord: connected", "user", r.User.Username, "id", r.User.ID)
}

func (c *Channel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	c.mu.RLock()
	botID := c.botUserID
	cfg := c.cfg
	admission := c.admission
	maxBytes := c.mediaCfg.MaxBytes
	maxPixels := c.mediaCfg.MaxPixels
	c.mu.RUnlock()

	// Not ready yet, or our own traffic.
	if botID == "" || m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return
	}

	// Boosts arrive as system messages, not conversational traffic.
	if isBoostMessage(m.Type) {
		c.gw.HandleSystemEvent(types.SystemEvent{
			Surface:   types.SurfaceDiscord,
			Kind:      types.SystemBoost,
			Room:      c.guildName(m.GuildID),
			Actor:     m.Author.ID,
			Detail:    displayName(m),
			Timestamp: m.Timestamp.UnixMilli(),
		})
		return
	}

	isGuild := m.GuildID != ""
	cand := policy.Candidate{ID: m.Author.ID, Name: m.Author.Username, Tag: "<@" + m.Author.ID + ">"}

	requireMention := cfg.RequireMention
	var guildName, channelName string
	if isGuild {
		guildName = c.guildName(m.GuildID)
		channelName = c.channelName(m.ChannelID)

		g, allowed := policy.ResolveGuild(cfg.Guilds, m.GuildID, guildName)
		if !allowed {
			L_debug("discord: guild not allowed", "guild", m.GuildID, "name", guildName)
			return
		}
		decision := policy.ResolveChannel(g, m.ChannelID, channelName, requireMention)
		if !decision.Allowed {
			L_debug("discord: channel not allowed", "channel", m.ChannelID, "name", channelName)
			return
		}
		requireMention = decision.RequireMention

		if !admission.AdmitGroup(cand) {
			return
		}
	} else if !admission.AdmitDM(cand) {
		return
	}

	// Mentions only mean anything in guilds; a direct chat is never "mentioned".
	mentioned := false
	if isGuild {
		mentioned = guildMentioned(m, botID)
		if !admission.MentionSatisfied(requireMention, mentioned, m.Content) {
			return
		}
	}

	text := stripMention(m.Content, botID)

	mc := &types.MessageContext{
		Body:           text,
		From:           m.Author.ID,
		To:             m.ChannelID,
		SenderName:     displayName(m),
		SenderUsername: m.Author.Username,
		Surface:        types.SurfaceDiscord,
		WasMentioned:   mentioned,
		MessageSid:     m.ID,
		Timestamp:      m.Timestamp.UnixMilli(),
	}
	if isGuild {
		mc.ChatType = types.ChatGroup
		mc.GroupSpace = guildName
		mc.GroupRoom = channelName
		mc.GroupSubject = guildName
	} else {
		mc.ChatType = types.ChatDirect
	}

	// One attachment per turn; extras are dropped with a note in the log.
	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		if len(m.Attachments) > 1 {
			L_debug("discord: extra attachments ignored", "count", len(m.Attachments)-1)
		}
		data, err := media.Fetch(att.URL, maxBytes)
		if err != nil {
			err = fmt.Errorf("%w: %v", gateway.ErrMediaFetch, err)
			L_error("discord: attachment download failed", "url", att.URL, "error", err)
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			return
		}
		mime := media.DetectMIME(data)
		if maxPixels > 0 {
			data = media.Downscale(data, mime, maxPixels)
		}
		path, mime, err := c.store.Save(data, string(types.SurfaceDiscord))
		if err != nil {
			L_error("discord: attachment store failed", "error", err)
			return
		}
		mc.MediaPath = path
		mc.MediaType = mime
		mc.MediaURL = att.URL
		if mc.Body == "" {
			mc.Body = media.Placeholder(mime)
		}
	}

	if mc.Body == "" {
		return
	}

	if err := c.gw.HandleInbound(c.ctx, mc, c, c.deliverOptions(mc.MessageSid)); err != nil {
		L_error("discord: turn failed", "from", m.Author.ID, "error", err)
	}
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func (c *Channel) handleGuildMemberAdd(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
	c.gw.HandleSystemEvent(types.SystemEvent{
		Surface:   types.SurfaceDiscord,
		Kind:      types.SystemJoin,
		Room:      c.guildName(e.GuildID),
		Actor:     e.User.ID,
		Detail:    e.User.Username,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Channel) handleGuildMemberRemove(s *discordgo.Session, e *discordgo.GuildMemberRemove) {
	if e.User == nil {
		return
	}
	c.gw.HandleSystemEvent(types.SystemEvent{
		Surface:   types.SurfaceDiscord,
		Kind:      types.SystemLeave,
		Room:      c.guildName(e.GuildID),
		Actor:     e.User.ID,
		Detail:    e.User.Username,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Channel) handlePinsUpdate(s *discordgo.Session, e *discordgo.ChannelPinsUpdate) {
	c.gw.HandleSystemEvent(types.SystemEvent{
		Surface:   types.SurfaceDiscord,
		Kind:      types.SystemPin,
		Room:      c.channelName(e.ChannelID),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Channel) handleThreadCreate(s *discordgo.Session, e *discordgo.ThreadCreate) {
	if e.Channel == nil || !e.NewlyCreated {
		return
	}
	c.gw.HandleSystemEvent(types.SystemEvent{
		Surface:   types.SurfaceDiscord,
		Kind:      types.SystemThreadCreate,
		Room:      c.guildName(e.GuildID),
		Actor:     e.OwnerID,
		Detail:    e.Name,
		Timestamp: time.Now().UnixMilli(),
	})
}

func isBoostMessage(t discordgo.MessageType) bool {
	switch t {
	case discordgo.MessageTypeUserPremiumGuildSubscription,
		discordgo.MessageTypeUserPremiumGuildSubscriptionTierOne,
		discordgo.MessageTypeUserPremiumGuildSubscriptionTierTwo,
		discordgo.MessageTypeUserPremiumGuildSubscriptionTierThree:
		return true
	}
	return false
}

// handleInteraction runs a slash command through the same turn pipeline as a
// message. The interaction is acknowledged with a deferred response right
// away; replies arrive as followups. A failed or silent turn resolves the
// deferral with an ephemeral notice so the invoker is not left watching a
// permanent "thinking" indicator.
func (c *Channel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	c.mu.RLock()
	botID := c.botUserID
	cfg := c.cfg
	admission := c.admission
	c.mu.RUnlock()
	if botID == "" {
		return
	}

	user := i.User
	if user == nil && i.Member != nil {
		user = i.Member.User
	}
	if user == nil || user.Bot {
		return
	}

	isGuild := i.GuildID != ""
	cand := policy.Candidate{ID: user.ID, Name: user.Username, Tag: "<@" + user.ID + ">"}
	var guildName, channelName string
	if isGuild {
		guildName = c.guildName(i.GuildID)
		channelName = c.channelName(i.ChannelID)
		g, allowed := policy.ResolveGuild(cfg.Guilds, i.GuildID, guildName)
		if !allowed {
			L_debug("discord: interaction from disallowed guild", "guild", i.GuildID)
			return
		}
		if decision := policy.ResolveChannel(g, i.ChannelID, channelName, cfg.RequireMention); !decision.Allowed {
			L_debug("discord: interaction from disallowed channel", "channel", i.ChannelID)
			return
		}
		if !admission.AdmitGroup(cand) {
			return
		}
	} else if !admission.AdmitDM(cand) {
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		L_error("discord: interaction ack failed", "error", err)
		return
	}

	data := i.ApplicationCommandData()
	mc := &types.MessageContext{
		Body:           interactionBody(data.Name, data.Options),
		From:           user.ID,
		To:             i.ChannelID,
		SenderName:     user.Username,
		SenderUsername: user.Username,
		Surface:        types.SurfaceDiscord,
		WasMentioned:   isGuild,
		MessageSid:     i.ID,
		Timestamp:      time.Now().UnixMilli(),
	}
	if isGuild {
		mc.ChatType = types.ChatGroup
		mc.GroupSpace = guildName
		mc.GroupRoom = channelName
		mc.GroupSubject = guildName
	} else {
		mc.ChatType = types.ChatDirect
	}

	sender := &interactionSender{session: c.session, interaction: i.Interaction}
	opts := c.deliverOptions("")
	// Followups are tied to the interaction by Discord itself.
	opts.ReplyToMode = config.ReplyToOff
	if err := c.gw.HandleInbound(c.ctx, mc, sender, opts); err != nil {
		L_error("discord: interaction turn failed", "command", data.Name, "error", err)
		c.interactionNotice(i.Interaction, "Something went wrong handling that command.")
		return
	}
	if !sender.sent {
		c.interactionNotice(i.Interaction, "No response.")
	}
}

// interactionBody renders a slash command invocation as a turn body.
func interactionBody(name string, opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(name)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		b.WriteString(" ")
		b.WriteString(opt.Name)
		if opt.Value != nil {
			fmt.Fprintf(&b, ":%v", opt.Value)
		}
	}
	return b.String()
}

// interactionNotice resolves a deferred interaction with an ephemeral message
// visible only to the invoker.
func (c *Channel) interactionNotice(i *discordgo.Interaction, msg string) {
	_, err := c.session.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
		Content: msg,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		L_trace("discord: ephemeral followup failed", "error", err)
	}
}

// interactionSender delivers a turn's replies as interaction followups.
type interactionSender struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	sent        bool
}

func (s *interactionSender) SendText(ctx context.Context, target, text, replyTo string) (string, error) {
	msg, err := s.session.FollowupMessageCreate(s.interaction, true, &discordgo.WebhookParams{Content: text})
	if err != nil {
		return "", fmt.Errorf("failed to send interaction followup: %w", err)
	}
	s.sent = true
	return msg.ID, nil
}

func (s *interactionSender) SendMedia(ctx context.Context, target, mediaURL, caption, replyTo string) (string, error) {
	params := &discordgo.WebhookParams{Content: caption}
	if strings.HasPrefix(mediaURL, "http://") || strings.HasPrefix(mediaURL, "https://") {
		params.Content = mediaURL
		if caption != "" {
			params.Content = caption + "\n" + mediaURL
		}
	} else {
		f, err := openUpload(mediaURL)
		if err != nil {
			return "", err
		}
		defer f.Close()
		params.Files = []*discordgo.File{{Name: f.Name(), Reader: f}}
	}
	msg, err := s.session.FollowupMessageCreate(s.interaction, true, params)
	if err != nil {
		return "", fmt.Errorf("failed to send interaction followup: %w", err)
	}
	s.sent = true
	return msg.ID, nil
}

func (s *interactionSender) SendTyping(ctx context.Context, target string) {}

func (s *interactionSender) HardLimit() int { return channels.DiscordHardLimit }

func (c *Channel) handleReactionAdd(s *discordgo.Session, e *discordgo.MessageReactionAdd) {
	c.handleReaction(e.MessageReaction, e.Member, types.ReactionAdded)
}

func (c *Channel) handleReactionRemove(s *discordgo.Session, e *discordgo.MessageReactionRemove) {
	c.handleReaction(e.MessageReaction, nil, types.ReactionRemoved)
}

// handleReaction applies the guild reaction mode before emitting an event.
func (c *Channel) handleReaction(r *discordgo.MessageReaction, member *discordgo.Member, action types.ReactionAction) {
	c.mu.RLock()
	botID := c.botUserID
	cfg := c.cfg
	c.mu.RUnlock()

	if botID == "" || r.UserID == botID {
		return
	}

	guildName := c.guildName(r.GuildID)
	g, allowed := policy.ResolveGuild(cfg.Guilds, r.GuildID, guildName)
	if !allowed {
		return
	}

	onOwn := c.isOwnMessage(r.ChannelID, r.MessageID, botID)
	reactorName := ""
	if member != nil && member.User != nil {
		reactorName = member.User.Username
	}
	cand := policy.Candidate{ID: r.UserID, Name: reactorName, Tag: "<@" + r.UserID + ">"}
	if !policy.ReactionPermitted(g, onOwn, cand) {
		return
	}

	c.gw.HandleReaction(types.ReactionEvent{
		Surface:   types.SurfaceDiscord,
		Action:    action,
		Emoji:     r.Emoji.Name,
		Room:      c.channelName(r.ChannelID),
		ReactorID: r.UserID,
		Reactor:   reactorName,
		MessageID: r.MessageID,
		OnOwnPost: onOwn,
		Timestamp: time.Now().UnixMilli(),
	})
}

// isOwnMessage checks whether a message was authored by the bot, preferring
// the state cache over a REST call.
func (c *Channel) isOwnMessage(channelID, messageID, botID string) bool {
	if msg, err := c.session.State.Message(channelID, messageID); err == nil && msg.Author != nil {
		return msg.Author.ID == botID
	}
	msg, err := c.session.ChannelMessage(channelID, messageID)
	if err != nil || msg.Author == nil {
		return false
	}
	return msg.Author.ID == botID
}

func (c *Channel) guildName(guildID string) string {
	if guildID == "" {
		return ""
	}
	if g, err := c.session.State.Guild(guildID); err == nil {
		return g.Name
	}
	if g, err := c.session.Guild(guildID); err == nil {
		return g.Name
	}
	return ""
}

func (c *Channel) channelName(channelID string) string {
	if ch, err := c.session.State.Channel(channelID); err == nil {
		return ch.Name
	}
	if ch, err := c.session.Channel(channelID); err == nil {
		return ch.Name
	}
	return ""
}

// guildMentioned reports whether a guild message addresses the bot, either
// through the mentions array or an inline mention token.
func guildMentioned(m *discordgo.MessageCreate, botID string) bool {
	return isBotMentioned(m.Mentions, botID) ||
		strings.Contains(m.Content, "<@"+botID+">") ||
		strings.Contains(m.Content, "<@!"+botID+">")
}

func isBotMentioned(mentions []*discordgo.User, botID string) bool {
	for _, u := range mentions {
		if u.ID == botID {
			return true
		}
	}
	return false
}

func stripMention(text, botID string) string {
	text = strings.ReplaceAll(text, "<@"+botID+">", "")
	text = strings.ReplaceAll(text, "<@!"+botID+">", "")
	return strings.TrimSpace(text)
}

// SendText implements channels.Sender.
func (c *Channel) SendText(ctx context.Context, target, text, replyTo string) (string, error) {
	var msg *discordgo.Message
	var err error
	if replyTo != "" {
		ref := &discordgo.MessageReference{MessageID: replyTo, ChannelID: target}
		msg, err = c.session.ChannelMessageSendReply(target, text, ref)
	} else {
		msg, err = c.session.ChannelMessageSend(target, text)
	}
	if err != nil {
		return "", fmt.Errorf("failed to send discord message: %w", err)
	}
	return msg.ID, nil
}

// SendMedia implements channels.Sender. Remote URLs are embedded; local
// files are uploaded.
func (c *Channel) SendMedia(ctx context.Context, target, mediaURL, caption, replyTo string) (string, error) {
	if strings.HasPrefix(mediaURL, "http://") || strings.HasPrefix(mediaURL, "https://") {
		content := mediaURL
		if caption != "" {
			content = caption + "\n" + mediaURL
		}
		return c.SendText(ctx, target, content, replyTo)
	}

	f, err := openUpload(mediaURL)
	if err != nil {
		return "", err
	}
	defer f.Close()

	send := &discordgo.MessageSend{
		Content: caption,
		Files:   []*discordgo.File{{Name: f.Name(), Reader: f}},
	}
	if replyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: replyTo, ChannelID: target}
	}
	msg, err := c.session.ChannelMessageSendComplex(target, send)
	if err != nil {
		return "", fmt.Errorf("failed to send discord attachment: %w", err)
	}
	return msg.ID, nil
}

type upload struct {
	*os.File
	name string
}

func (u *upload) Name() string { return u.name }

func openUpload(path string) (*upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file %s: %w", path, err)
	}
	return &upload{File: f, name: filepath.Base(path)}, nil
}

// SendTyping implements channels.Sender.
func (c *Channel) SendTyping(ctx context.Context, target string) {
	if err := c.session.ChannelTyping(target); err != nil {
		L_trace("discord: typing failed", "error", err)
	}
}

// HardLimit implements channels.Sender.
func (c *Channel) HardLimit() int { return channels.DiscordHardLimit }
