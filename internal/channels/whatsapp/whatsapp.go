// Package whatsapp is the WhatsApp provider adapter, built on whatsmeow's
// multi-device protocol. Pairing state lives in its own SQLite store; run
// 'clawgate whatsapp link' once before enabling the channel.
package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	watypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/roelfdiedericks/clawgate/internal/channels"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/gateway"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/media"
	"github.com/roelfdiedericks/clawgate/internal/paths"
	"github.com/roelfdiedericks/clawgate/internal/policy"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// waLogger bridges whatsmeow's waLog.Logger to our L_* functions.
type waLogger struct {
	module string
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	L_debug(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	L_info(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	L_warn(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	L_error(fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...)))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{module: l.module + "/" + module}
}

// Channel is the WhatsApp adapter.
type Channel struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	gw        *gateway.Gateway
	store     *media.Store

	mu        sync.RWMutex
	cfg       config.WhatsAppConfig
	mediaCfg  config.MediaConfig
	admission *channels.Admission

	running   bool
	startedAt time.Time
	lastErr   error

	ctx    context.Context
	cancel context.CancelFunc
}

func openContainer(dbPath string) (*sqlstore.Container, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsapp db: %w", err)
	}
	container := sqlstore.NewWithDB(db, "sqlite3", &waLogger{module: "store"})
	if err := container.Upgrade(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to upgrade whatsapp store: %w", err)
	}
	return container, nil
}

func dbPathFor(cfg config.WhatsAppConfig) (string, error) {
	if cfg.DBPath != "" {
		return paths.ExpandTilde(cfg.DBPath)
	}
	return paths.WhatsAppDBPath()
}

// New creates an unstarted WhatsApp channel from the paired device store.
func New(cfg config.WhatsAppConfig, mediaCfg config.MediaConfig, gw *gateway.Gateway, store *media.Store) (*Channel, error) {
	dbPath, err := dbPathFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve whatsapp db path: %w", err)
	}

	container, err := openContainer(dbPath)
	if err != nil {
		return nil, err
	}

	device, err := container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get whatsapp device: %w", err)
	}
	if device == nil || device.ID == nil {
		return nil, fmt.Errorf("no whatsapp device paired — run 'clawgate whatsapp link' first")
	}

	client := whatsmeow.NewClient(device, &waLogger{module: "client"})

	c := &Channel{
		client:    client,
		container: container,
		gw:        gw,
		store:     store,
		cfg:       cfg,
		mediaCfg:  mediaCfg,
		admission: channels.NewAdmission(cfg.ChannelPolicy),
	}
	return c, nil
}

// Name implements channels.ManagedChannel.
func (c *Channel) Name() string { return "whatsapp" }

// Start connects to WhatsApp and begins processing events.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.client.AddEventHandler(c.handleEvent)

	if err := c.client.Connect(); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return fmt.Errorf("whatsapp: failed to connect: %w", err)
	}

	c.mu.Lock()
	c.running = true
	c.startedAt = time.Now()
	c.lastErr = nil
	c.mu.Unlock()

	L_info("whatsapp: connected", "jid", c.client.Store.ID)
	c.gw.RegisterSender(types.SurfaceWhatsApp, c, c.deliverOptions(""))
	return nil
}

// Stop disconnects.
func (c *Channel) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	L_info("whatsapp: disconnecting")
	c.gw.DeregisterSender(types.SurfaceWhatsApp)
	if c.cancel != nil {
		c.cancel()
	}
	c.client.Disconnect()
	return nil
}

// Reload applies a new config in place; a store path change needs a restart.
func (c *Channel) Reload(cfg *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldPath, _ := dbPathFor(c.cfg)
	newPath, _ := dbPathFor(cfg.WhatsApp)
	if oldPath != newPath {
		return fmt.Errorf("store path changed")
	}
	c.cfg = cfg.WhatsApp
	c.mediaCfg = cfg.Media
	c.admission = channels.NewAdmission(cfg.WhatsApp.ChannelPolicy)
	L_info("whatsapp: policy reloaded")
	return nil
}

// Status implements channels.ManagedChannel.
func (c *Channel) Status() channels.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return channels.ChannelStatus{
		Running:   c.running,
		Connected: c.client.IsConnected(),
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

func (c *Channel) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		L_info("whatsapp: connected to server")
	case *events.Disconnected:
		L_warn("whatsapp: disconnected from server")
	case *events.LoggedOut:
		L_error("whatsapp: logged out — re-pair with 'clawgate whatsapp link'", "reason", v.Reason)
		c.mu.Lock()
		c.lastErr = fmt.Errorf("logged out: %v", v.Reason)
		c.mu.Unlock()
	case *events.PairSuccess:
		c.gw.HandleSystemEvent(types.SystemEvent{
			Surface:   types.SurfaceWhatsApp,
			Kind:      types.SystemOther,
			Detail:    "device paired",
			Timestamp: time.Now().UnixMilli(),
		})
	case *events.GroupInfo:
		c.handleGroupInfo(v)
	}
}

func (c *Channel) handleGroupInfo(evt *events.GroupInfo) {
	room := evt.JID.User
	now := time.Now().UnixMilli()
	for _, jid := range evt.Join {
		c.gw.HandleSystemEvent(types.SystemEvent{
			Surface: types.SurfaceWhatsApp, Kind: types.SystemJoin,
			Room: room, Actor: jid.User, Timestamp: now,
		})
	}
	for _, jid := range evt.Leave {
		c.gw.HandleSystemEvent(types.SystemEvent{
			Surface: types.SurfaceWhatsApp, Kind: types.SystemLeave,
			Room: room, Actor: jid.User, Timestamp: now,
		})
	}
}

// handleMessage normalizes one inbound message and runs the pipeline.
func (c *Channel) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}

	c.mu.RLock()
	admission := c.admission
	requireMention := c.cfg.RequireMention
	maxBytes := c.mediaCfg.MaxBytes
	maxPixels := c.mediaCfg.MaxPixels
	c.mu.RUnlock()

	isGroup := evt.Info.IsGroup
	sender := evt.Info.Sender.User
	senderAlt := evt.Info.SenderAlt.User

	// LID addressing may put the phone number in SenderAlt; admit on either.
	cand := policy.Candidate{ID: sender, Name: evt.Info.PushName}
	altCand := policy.Candidate{ID: senderAlt, Name: evt.Info.PushName}
	if isGroup {
		if !admission.AdmitGroup(cand) && (senderAlt == "" || !admission.AdmitGroup(altCand)) {
			return
		}
	} else {
		if !admission.AdmitDM(cand) && (senderAlt == "" || !admission.AdmitDM(altCand)) {
			return
		}
	}

	body, mediaPath, mediaMime, ok := c.extractContent(evt, maxBytes, maxPixels)
	if !ok {
		return
	}

	// Mentions only mean anything in groups; a direct chat is never "mentioned".
	mentioned := false
	if isGroup {
		mentioned = c.wasMentioned(evt)
		if !admission.MentionSatisfied(requireMention, mentioned, body) {
			L_debug("whatsapp: group message without mention ignored", "chat", evt.Info.Chat.String())
			return
		}
	}

	mc := &types.MessageContext{
		Body:         body,
		From:         sender,
		To:           evt.Info.Chat.String(),
		SenderName:   evt.Info.PushName,
		Surface:      types.SurfaceWhatsApp,
		WasMentioned: mentioned,
		MessageSid:   evt.Info.ID,
		Timestamp:    evt.Info.Timestamp.UnixMilli(),
		MediaPath:    mediaPath,
		MediaType:    mediaMime,
	}
	if isGroup {
		mc.ChatType = types.ChatGroup
		mc.GroupRoom = evt.Info.Chat.User
		if info, err := c.client.GetGroupInfo(c.ctx, evt.Info.Chat); err == nil {
			mc.GroupSubject = info.Name
		}
	} else {
		mc.ChatType = types.ChatDirect
	}

	if err := c.gw.HandleInbound(c.ctx, mc, c, c.deliverOptions(mc.MessageSid)); err != nil {
		L_error("whatsapp: turn failed", "from", sender, "error", err)
	}
}

// extractContent pulls the text and the single media attachment out of a
// message. ok is false for unsupported types and failed downloads.
func (c *Channel) extractContent(evt *events.Message, maxBytes int64, maxPixels int) (body, path, mime string, ok bool) {
	msg := evt.Message

	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation(), "", "", true

	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText(), "", "", true

	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		path, mime, err := c.downloadMedia(img, maxBytes, maxPixels)
		if err != nil {
			L_error("whatsapp: failed to download image", "error", err)
			return "", "", "", false
		}
		body := img.GetCaption()
		if body == "" {
			body = media.Placeholder(mime)
		}
		return body, path, mime, true

	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		path, mime, err := c.downloadMedia(audio, maxBytes, maxPixels)
		if err != nil {
			L_error("whatsapp: failed to download voice note", "error", err)
			return "", "", "", false
		}
		return media.Placeholder(mime), path, mime, true

	case msg.GetVideoMessage() != nil:
		video := msg.GetVideoMessage()
		path, mime, err := c.downloadMedia(video, maxBytes, maxPixels)
		if err != nil {
			L_error("whatsapp: failed to download video", "error", err)
			return "", "", "", false
		}
		body := video.GetCaption()
		if body == "" {
			body = media.Placeholder(mime)
		}
		return body, path, mime, true

	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		path, mime, err := c.downloadMedia(doc, maxBytes, maxPixels)
		if err != nil {
			L_error("whatsapp: failed to download document", "error", err)
			return "", "", "", false
		}
		body := doc.GetCaption()
		if body == "" {
			body = media.Placeholder(mime)
		}
		return body, path, mime, true
	}

	L_debug("whatsapp: unsupported message type, ignoring")
	return "", "", "", false
}

func (c *Channel) downloadMedia(msg whatsmeow.DownloadableMessage, maxBytes int64, maxPixels int) (string, string, error) {
	data, err := c.client.Download(c.ctx, msg)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", gateway.ErrMediaFetch, err)
	}
	if err := media.CheckCap(data, maxBytes); err != nil {
		return "", "", err
	}
	mime := media.DetectMIME(data)
	if maxPixels > 0 {
		data = media.Downscale(data, mime, maxPixels)
	}
	return c.store.Save(data, string(types.SurfaceWhatsApp))
}

// wasMentioned reports whether the bot's JID appears in the mention list or
// the message quotes one of the bot's own messages.
func (c *Channel) wasMentioned(evt *events.Message) bool {
	own := c.client.Store.ID
	if own == nil {
		return false
	}
	ext := evt.Message.GetExtendedTextMessage()
	if ext == nil || ext.GetContextInfo() == nil {
		return false
	}
	ci := ext.GetContextInfo()
	for _, jid := range ci.GetMentionedJID() {
		if strings.HasPrefix(jid, own.User+"@") {
			return true
		}
	}
	return ci.GetParticipant() == own.String()
}

// SendText implements channels.Sender. replyTo quotes the original message.
func (c *Channel) SendText(ctx context.Context, target, text, replyTo string) (string, error) {
	jid, err := watypes.ParseJID(target)
	if err != nil {
		return "", fmt.Errorf("invalid whatsapp jid %q: %w", target, err)
	}

	formatted := FormatMessage(text)
	var msg *waE2E.Message
	if replyTo != "" {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(formatted),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String(replyTo),
					Participant:   proto.String(jid.String()),
					QuotedMessage: &waE2E.Message{Conversation: proto.String("")},
				},
			},
		}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(formatted)}
	}

	resp, err := c.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send whatsapp message: %w", err)
	}
	return resp.ID, nil
}

// SendMedia implements channels.Sender. Remote URLs are fetched through the
// capped downloader before upload.
func (c *Channel) SendMedia(ctx context.Context, target, mediaURL, caption, replyTo string) (string, error) {
	jid, err := watypes.ParseJID(target)
	if err != nil {
		return "", fmt.Errorf("invalid whatsapp jid %q: %w", target, err)
	}

	c.mu.RLock()
	maxBytes := c.mediaCfg.MaxBytes
	c.mu.RUnlock()

	var data []byte
	if strings.HasPrefix(mediaURL, "http://") || strings.HasPrefix(mediaURL, "https://") {
		data, err = media.Fetch(mediaURL, maxBytes)
	} else {
		data, err = os.ReadFile(mediaURL)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load media %s: %w", mediaURL, err)
	}

	mime := media.DetectMIME(data)
	resp, err := c.client.Upload(ctx, data, mimeToMediaType(mime))
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}

	sent, err := c.client.SendMessage(ctx, jid, buildMediaMessage(mime, &resp, caption, uint64(len(data))))
	if err != nil {
		return "", fmt.Errorf("failed to send whatsapp media: %w", err)
	}
	return sent.ID, nil
}

// SendTyping implements channels.Sender.
func (c *Channel) SendTyping(ctx context.Context, target string) {
	jid, err := watypes.ParseJID(target)
	if err != nil {
		return
	}
	_ = c.client.SendChatPresence(ctx, jid, watypes.ChatPresenceComposing, watypes.ChatPresenceMediaText)
}

// HardLimit implements channels.Sender.
func (c *Channel) HardLimit() int { return channels.WhatsAppHardLimit }

// buildMediaMessage creates the proto message for a media upload.
func buildMediaMessage(mimeType string, resp *whatsmeow.UploadResponse, caption string, fileLength uint64) *waE2E.Message {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(mimeType),
				URL:           &resp.URL,
				DirectPath:    &resp.DirectPath,
				MediaKey:      resp.MediaKey,
				FileEncSHA256: resp.FileEncSHA256,
				FileSHA256:    resp.FileSHA256,
				FileLength:    &fileLength,
			},
		}
	case strings.HasPrefix(mimeType, "video/"):
		return &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(mimeType),
				URL:           &resp.URL,
				DirectPath:    &resp.DirectPath,
				MediaKey:      resp.MediaKey,
				FileEncSHA256: resp.FileEncSHA256,
				FileSHA256:    resp.FileSHA256,
				FileLength:    &fileLength,
			},
		}
	case strings.HasPrefix(mimeType, "audio/"):
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				Mimetype:      proto.String(mimeType),
				URL:           &resp.URL,
				DirectPath:    &resp.DirectPath,
				MediaKey:      resp.MediaKey,
				FileEncSHA256: resp.FileEncSHA256,
				FileSHA256:    resp.FileSHA256,
				FileLength:    &fileLength,
			},
		}
	default:
		return &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(mimeType),
				URL:           &resp.URL,
				DirectPath:    &resp.DirectPath,
				MediaKey:      resp.MediaKey,
				FileEncSHA256: resp.FileEncSHA256,
				FileSHA256:    resp.FileSHA256,
				FileLength:    &fileLength,
			},
		}
	}
}

// mimeToMediaType maps a MIME type to whatsmeow's MediaType for upload.
func mimeToMediaType(mimeType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}
