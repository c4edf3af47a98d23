// Package telegram is the Telegram provider adapter.
package telegram

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/clawgate/internal/channels"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/gateway"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/media"
	"github.com/roelfdiedericks/clawgate/internal/policy"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// Channel is the Telegram bot adapter.
type Channel struct {
	bot   *tele.Bot
	gw    *gateway.Gateway
	store *media.Store

	mu        sync.RWMutex
	cfg       config.TelegramConfig
	mediaCfg  config.MediaConfig
	admission *channels.Admission

	running   bool
	startedAt time.Time
	lastErr   error

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an unstarted Telegram channel.
func New(cfg config.TelegramConfig, mediaCfg config.MediaConfig, gw *gateway.Gateway, store *media.Store) (*Channel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	pref := tele.Settings{
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	L_debug("telegram: creating bot", "tokenLength", len(cfg.BotToken))
	bot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	L_info("telegram: connected",
		"bot", "@"+bot.Me.Username,
		"name", bot.Me.FirstName,
		"id", bot.Me.ID,
	)

	c := &Channel{
		bot:       bot,
		gw:        gw,
		store:     store,
		cfg:       cfg,
		mediaCfg:  mediaCfg,
		admission: channels.NewAdmission(cfg.ChannelPolicy),
	}
	c.setupHandlers()
	return c, nil
}

func (c *Channel) setupHandlers() {
	c.bot.Handle(tele.OnText, c.handleMessage)
	c.bot.Handle(tele.OnPhoto, c.handleMessage)
	c.bot.Handle(tele.OnDocument, c.handleMessage)
	c.bot.Handle(tele.OnVoice, c.handleMessage)
	c.bot.Handle(tele.OnVideo, c.handleMessage)

	c.bot.Handle(tele.OnUserJoined, func(tc tele.Context) error {
		c.gw.HandleSystemEvent(types.SystemEvent{
			Surface:   types.SurfaceTelegram,
			Kind:      types.SystemJoin,
			Room:      strconv.FormatInt(tc.Chat().ID, 10),
			Actor:     senderID(tc),
			Timestamp: time.Now().UnixMilli(),
		})
		return nil
	})
	c.bot.Handle(tele.OnUserLeft, func(tc tele.Context) error {
		c.gw.HandleSystemEvent(types.SystemEvent{
			Surface:   types.SurfaceTelegram,
			Kind:      types.SystemLeave,
			Room:      strconv.FormatInt(tc.Chat().ID, 10),
			Actor:     senderID(tc),
			Timestamp: time.Now().UnixMilli(),
		})
		return nil
	})
	c.bot.Handle(tele.OnPinned, func(tc tele.Context) error {
		c.gw.HandleSystemEvent(types.SystemEvent{
			Surface:   types.SurfaceTelegram,
			Kind:      types.SystemPin,
			Room:      strconv.FormatInt(tc.Chat().ID, 10),
			Actor:     senderID(tc),
			Timestamp: time.Now().UnixMilli(),
		})
		return nil
	})
}

func senderID(tc tele.Context) string {
	if tc.Sender() == nil {
		return ""
	}
	return strconv.FormatInt(tc.Sender().ID, 10)
}

// Name implements channels.ManagedChannel.
func (c *Channel) Name() string { return "telegram" }

// Start begins long polling.
func (c *Channel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	L_info("telegram: starting polling", "bot", "@"+c.bot.Me.Username)
	go c.bot.Start()

	c.mu.Lock()
	c.running = true
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.gw.RegisterSender(types.SurfaceTelegram, c, c.deliverOptions(""))
	return nil
}

// Stop halts polling.
func (c *Channel) Stop() error {
	L_info("telegram: stopping")
	c.gw.DeregisterSender(types.SurfaceTelegram)
	if c.cancel != nil {
		c.cancel()
	}
	c.bot.Stop()
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// Reload applies a new config in place. A token change needs a reconnect, so
// it is reported as an error and the manager restarts the channel.
func (c *Channel) Reload(cfg *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Telegram.BotToken != c.cfg.BotToken {
		return fmt.Errorf("bot token changed")
	}
	c.cfg = cfg.Telegram
	c.mediaCfg = cfg.Media
	c.admission = channels.NewAdmission(cfg.Telegram.ChannelPolicy)
	L_info("telegram: policy reloaded")
	return nil
}

// Status implements channels.ManagedChannel.
func (c *Channel) Status() channels.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return channels.ChannelStatus{
		Running:   c.running,
		Connected: c.running,
		Error:     c.lastErr,
		StartedAt: c.startedAt,
	}
}

func (c *Channel) deliverOptions(originID string) channels.DeliverOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return channels.DeliverOptions{
		ChunkLimit:   c.cfg.ChunkLimit,
		ReplyToMode:  c.cfg.Mode(),
		OriginID:     originID,
		CaptionLimit: channels.TelegramCaptionLimit,
	}
}

// handleMessage normalizes one inbound update and runs it through the
// gateway pipeline. Bot-originated and policy-rejected messages are dropped
// before any state changes.
func (c *Channel) handleMessage(tc tele.Context) error {
	msg := tc.Message()
	sender := tc.Sender()
	if msg == nil || sender == nil || sender.ID == c.bot.Me.ID || sender.IsBot {
		return nil
	}

	c.mu.RLock()
	admission := c.admission
	requireMention := c.cfg.RequireMention
	maxBytes := c.mediaCfg.MaxBytes
	maxPixels := c.mediaCfg.MaxPixels
	c.mu.RUnlock()

	userID := strconv.FormatInt(sender.ID, 10)
	chatID := strconv.FormatInt(tc.Chat().ID, 10)
	isGroup := tc.Chat().Type != tele.ChatPrivate
	body := msg.Text
	if body == "" {
		body = msg.Caption
	}

	cand := policy.Candidate{ID: userID, Name: sender.Username, Tag: "@" + sender.Username}
	if isGroup {
		if !admission.AdmitGroup(cand) {
			return nil
		}
	} else if !admission.AdmitDM(cand) {
		return nil
	}

	// Mentions only mean anything in groups; a direct chat is never "mentioned".
	mentioned := false
	if isGroup {
		mentioned = c.wasMentioned(msg)
		if !admission.MentionSatisfied(requireMention, mentioned, body) {
			L_debug("telegram: group message without mention ignored", "chat", chatID)
			return nil
		}
	}

	mc := &types.MessageContext{
		Body:           stripMention(body, c.bot.Me.Username),
		From:           userID,
		To:             chatID,
		SenderName:     strings.TrimSpace(sender.FirstName + " " + sender.LastName),
		SenderUsername: sender.Username,
		Surface:        types.SurfaceTelegram,
		WasMentioned:   mentioned,
		MessageSid:     strconv.Itoa(msg.ID),
		Timestamp:      msg.Time().UnixMilli(),
	}
	if isGroup {
		mc.ChatType = types.ChatGroup
		mc.GroupSubject = tc.Chat().Title
		mc.GroupRoom = tc.Chat().Title
	} else {
		mc.ChatType = types.ChatDirect
	}

	if file, kind := attachedFile(msg); file != nil {
		path, mime, err := c.downloadAttachment(file, maxBytes, maxPixels)
		if err != nil {
			err = fmt.Errorf("%w: %v", gateway.ErrMediaFetch, err)
			L_error("telegram: attachment download failed", "kind", kind, "error", err)
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			return nil
		}
		mc.MediaPath = path
		mc.MediaType = mime
		if mc.Body == "" {
			mc.Body = media.Placeholder(mime)
		}
	}

	if err := c.gw.HandleInbound(c.ctx, mc, c, c.deliverOptions(mc.MessageSid)); err != nil {
		L_error("telegram: turn failed", "from", userID, "error", err)
	}
	return nil
}

// attachedFile picks the single attachment of an update, preferring the
// largest photo size the way Telegram orders them.
func attachedFile(msg *tele.Message) (*tele.File, string) {
	switch {
	case msg.Photo != nil:
		return &msg.Photo.File, "photo"
	case msg.Document != nil:
		return &msg.Document.File, "document"
	case msg.Voice != nil:
		return &msg.Voice.File, "voice"
	case msg.Video != nil:
		return &msg.Video.File, "video"
	}
	return nil, ""
}

func (c *Channel) downloadAttachment(file *tele.File, maxBytes int64, maxPixels int) (string, string, error) {
	if maxBytes <= 0 {
		maxBytes = config.DefaultMediaMaxBytes
	}
	if file.FileSize > maxBytes {
		return "", "", fmt.Errorf("%w: attachment %d bytes exceeds cap %d", media.ErrTooLarge, file.FileSize, maxBytes)
	}

	rc, err := c.bot.File(file)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch file %s: %w", file.FileID, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
	if err != nil {
		return "", "", err
	}
	if err := media.CheckCap(data, maxBytes); err != nil {
		return "", "", err
	}

	mime := media.DetectMIME(data)
	if maxPixels > 0 {
		data = media.Downscale(data, mime, maxPixels)
	}
	return c.store.Save(data, string(types.SurfaceTelegram))
}

func (c *Channel) wasMentioned(msg *tele.Message) bool {
	return mentionsBot(msg, c.bot.Me.ID, c.bot.Me.Username)
}

// mentionsBot reports whether the bot was explicitly addressed: an @mention
// in the text or caption, or a reply to one of the bot's own messages.
func mentionsBot(msg *tele.Message, botID int64, username string) bool {
	if msg.ReplyTo != nil && msg.ReplyTo.Sender != nil && msg.ReplyTo.Sender.ID == botID {
		return true
	}
	tag := "@" + username
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(tag))
}

// stripMention removes the bot's @tag so the agent sees clean text.
func stripMention(body, username string) string {
	if username == "" {
		return strings.TrimSpace(body)
	}
	tag := "@" + username
	for {
		idx := strings.Index(strings.ToLower(body), strings.ToLower(tag))
		if idx < 0 {
			break
		}
		body = body[:idx] + body[idx+len(tag):]
	}
	return strings.TrimSpace(body)
}

// SendText implements channels.Sender.
func (c *Channel) SendText(ctx context.Context, target, text, replyTo string) (string, error) {
	chat, err := parseChat(target)
	if err != nil {
		return "", err
	}
	opts := &tele.SendOptions{}
	if replyTo != "" {
		if id, err := strconv.Atoi(replyTo); err == nil {
			opts.ReplyTo = &tele.Message{ID: id, Chat: chat}
		}
	}
	msg, err := c.bot.Send(chat, text, opts)
	if err != nil {
		return "", fmt.Errorf("failed to send telegram message: %w", err)
	}
	return strconv.Itoa(msg.ID), nil
}

// SendMedia implements channels.Sender. Local paths are sent from disk,
// anything else as a URL reference.
func (c *Channel) SendMedia(ctx context.Context, target, mediaURL, caption, replyTo string) (string, error) {
	chat, err := parseChat(target)
	if err != nil {
		return "", err
	}
	opts := &tele.SendOptions{}
	if replyTo != "" {
		if id, err := strconv.Atoi(replyTo); err == nil {
			opts.ReplyTo = &tele.Message{ID: id, Chat: chat}
		}
	}

	var file tele.File
	if strings.HasPrefix(mediaURL, "http://") || strings.HasPrefix(mediaURL, "https://") {
		file = tele.FromURL(mediaURL)
	} else {
		file = tele.FromDisk(mediaURL)
	}

	var sendable any
	mime := mimeHint(mediaURL)
	switch {
	case strings.HasPrefix(mime, "image/"):
		sendable = &tele.Photo{File: file, Caption: caption}
	case strings.HasPrefix(mime, "video/"):
		sendable = &tele.Video{File: file, Caption: caption}
	case strings.HasPrefix(mime, "audio/"):
		sendable = &tele.Audio{File: file, Caption: caption}
	default:
		sendable = &tele.Document{File: file, Caption: caption}
	}

	msg, err := c.bot.Send(chat, sendable, opts)
	if err != nil {
		return "", fmt.Errorf("failed to send telegram media: %w", err)
	}
	return strconv.Itoa(msg.ID), nil
}

// SendTyping implements channels.Sender.
func (c *Channel) SendTyping(ctx context.Context, target string) {
	chat, err := parseChat(target)
	if err != nil {
		return
	}
	if err := c.bot.Notify(chat, tele.Typing); err != nil {
		L_trace("telegram: typing notify failed", "error", err)
	}
}

// HardLimit implements channels.Sender.
func (c *Channel) HardLimit() int { return channels.TelegramHardLimit }

func parseChat(target string) (*tele.Chat, error) {
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", target, err)
	}
	return &tele.Chat{ID: id}, nil
}

// mimeHint guesses the media class from the file extension, enough to pick
// the right Telegram sendable.
func mimeHint(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"),
		strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".gif"),
		strings.HasSuffix(lower, ".webp"):
		return "image/*"
	case strings.HasSuffix(lower, ".mp4"), strings.HasSuffix(lower, ".mov"),
		strings.HasSuffix(lower, ".webm"):
		return "video/*"
	case strings.HasSuffix(lower, ".mp3"), strings.HasSuffix(lower, ".ogg"),
		strings.HasSuffix(lower, ".m4a"), strings.HasSuffix(lower, ".wav"):
		return "audio/*"
	}
	return "application/octet-stream"
}
