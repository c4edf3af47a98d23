// Package config loads and persists the clawgate configuration.
// The config is a single JSON document (~/.clawgate/clawgate.json or
// ./clawgate.json), loaded once at startup and treated as read-only by the
// routing core. Hot reload is handled by the watcher, which republishes the
// freshly loaded config on the bus.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/roelfdiedericks/clawgate/internal/paths"
)

// ReplyToMode controls reply-threading on outbound sends.
const (
	ReplyToOff   = "off"   // never thread
	ReplyToAll   = "all"   // thread every outbound message
	ReplyToFirst = "first" // thread only the first outbound message of a turn (default)
)

// Config represents the merged clawgate configuration
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Gateway   GatewayConfig   `json:"gateway"`
	History   HistoryConfig   `json:"history"`
	Media     MediaConfig     `json:"media"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`

	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	WebChat  WebChatConfig  `json:"webchat"`
}

type LoggingConfig struct {
	Level      string `json:"level"` // trace|debug|info|warn|error
	ShowCaller bool   `json:"showCaller"`
}

type GatewayConfig struct {
	// Listen address for the WebSocket RPC surface (webchat, nodes, agent, CLI).
	Host string `json:"host"`
	Port int    `json:"port"`

	// Shared secret required on attach for node/agent roles. Empty disables auth
	// (local-only deployments).
	Token string `json:"token"`

	// Daemon mode paths
	PIDFile string `json:"pidFile"`
	LogFile string `json:"logFile"`
}

// Addr returns the host:port listen address.
func (g GatewayConfig) Addr() string {
	host := g.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := g.Port
	if port == 0 {
		port = 3380
	}
	return host + ":" + strconv.Itoa(port)
}

type HistoryConfig struct {
	// Limit is the max group-history entries kept per conversation.
	// 0 disables history entirely (no storage, no context injection).
	Limit int `json:"limit"`
}

type MediaConfig struct {
	// MaxBytes caps attachment downloads. Exceeding it fails the turn.
	MaxBytes int64 `json:"maxBytes"`
	// MaxPixels triggers downscaling of stored inbound images (0 = never).
	MaxPixels int `json:"maxPixels"`
}

type HeartbeatConfig struct {
	// Schedule is a cron expression for proactive heartbeat turns.
	// Empty disables the heartbeat.
	Schedule string `json:"schedule"`
	// Prompt is the synthetic turn body sent to the agent.
	Prompt string `json:"prompt"`
	// SessionKey selects the session route used for delivery.
	SessionKey string `json:"sessionKey"`
}

// ChannelPolicy holds the admission settings shared by all surfaces.
type ChannelPolicy struct {
	// AllowFrom restricts direct messages. Entries may be bare ids, numbers,
	// "@name", "<@id>" mentions, or "*". Empty = unrestricted.
	AllowFrom FlexibleStringSlice `json:"allowFrom"`
	// GroupAllowFrom restricts group/guild senders. Same syntax.
	GroupAllowFrom FlexibleStringSlice `json:"groupAllowFrom"`

	DMEnabled    *bool `json:"dmEnabled"`    // nil = true
	GroupEnabled *bool `json:"groupEnabled"` // nil = true

	// RequireMention gates group replies on an explicit @bot mention.
	RequireMention bool `json:"requireMention"`

	// ReplyToMode: off|all|first (default first).
	ReplyToMode string `json:"replyToMode"`

	// CommandPrefix marks explicit operational commands ("/status").
	// Empty = DefaultCommandPrefix.
	CommandPrefix string `json:"commandPrefix"`

	// ChunkLimit caps outbound text chunk size. The effective limit is
	// min(ChunkLimit, provider hard limit). 0 = provider hard limit only.
	ChunkLimit int `json:"chunkLimit"`
}

// DMAllowed reports whether direct messages are enabled.
func (p ChannelPolicy) DMAllowed() bool { return p.DMEnabled == nil || *p.DMEnabled }

// GroupAllowed reports whether group messages are enabled.
func (p ChannelPolicy) GroupAllowed() bool { return p.GroupEnabled == nil || *p.GroupEnabled }

// Prefix returns the effective command prefix.
func (p ChannelPolicy) Prefix() string {
	if p.CommandPrefix == "" {
		return DefaultCommandPrefix
	}
	return p.CommandPrefix
}

// Mode returns the effective reply-to mode.
func (p ChannelPolicy) Mode() string {
	switch p.ReplyToMode {
	case ReplyToOff, ReplyToAll:
		return p.ReplyToMode
	default:
		return ReplyToFirst
	}
}

type WhatsAppConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"` // whatsmeow store; default ~/.clawgate/whatsapp.db

	ChannelPolicy
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`

	ChannelPolicy
}

// Reaction notification modes for Discord guilds.
const (
	ReactionOff       = "off"
	ReactionOwn       = "own"
	ReactionAll       = "all"
	ReactionAllowlist = "allowlist"
)

// GuildChannelConfig is a per-channel policy override inside a guild.
type GuildChannelConfig struct {
	Allowed        *bool `json:"allowed"`        // nil = inherit guild default
	RequireMention *bool `json:"requireMention"` // nil = inherit guild default
}

// GuildConfig is the per-guild policy projection. Keys in DiscordConfig.Guilds
// may be guild ids, guild-name slugs, or "*".
type GuildConfig struct {
	RequireMention *bool                         `json:"requireMention"`
	Channels       map[string]GuildChannelConfig `json:"channels"` // keyed by channel id or name slug

	// Reactions: off|own|all|allowlist
	Reactions         string              `json:"reactions"`
	ReactionAllowFrom FlexibleStringSlice `json:"reactionAllowFrom"`
}

type DiscordConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`

	Guilds map[string]*GuildConfig `json:"guilds"`

	ChannelPolicy
}

type WebChatConfig struct {
	Enabled *bool `json:"enabled"` // nil = true; webchat rides the gateway listener

	ChannelPolicy
}

// WebChatEnabled reports whether the webchat surface accepts chat frames.
func (w WebChatConfig) WebChatEnabled() bool { return w.Enabled == nil || *w.Enabled }

// FlexibleStringSlice unmarshals a JSON array whose elements may be strings
// or numbers (Telegram user ids are commonly written unquoted).
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, strconv.FormatInt(int64(t), 10))
		default:
			return fmt.Errorf("allow list entry must be string or number, got %T", v)
		}
	}
	*f = out
	return nil
}

// Defaults used when the config file omits sections.
const (
	DefaultHistoryLimit  = 30
	DefaultMediaMaxBytes = 20 * 1024 * 1024

	// DefaultCommandPrefix marks operational commands on all surfaces.
	DefaultCommandPrefix = "/"
)

// Load reads the configuration from the resolved config path.
// A missing config file yields defaults with all channels disabled.
func Load() (*Config, error) {
	path, err := paths.ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the configuration from an explicit path.
// An empty path yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", ShowCaller: true},
		History: HistoryConfig{Limit: DefaultHistoryLimit},
		Media:   MediaConfig{MaxBytes: DefaultMediaMaxBytes},
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.Media.MaxBytes <= 0 {
		cfg.Media.MaxBytes = DefaultMediaMaxBytes
	}
	return cfg, nil
}
