// Package channels owns the provider adapters and their lifecycle.
//
// Each adapter implements the inbound-normalizer and outbound-sender
// contracts; the shared delivery engine in deliver.go handles chunking,
// captions, and reply-threading uniformly across surfaces.
package channels

import (
	"context"

	"github.com/roelfdiedericks/clawgate/internal/config"
)

// ManagedChannel is a provider adapter with a managed lifecycle.
type ManagedChannel interface {
	// Name returns the channel identifier ("whatsapp", "telegram", "discord")
	Name() string

	// Start connects the adapter and begins processing inbound events.
	// Inbound events are only processed once the connection reaches ready.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter
	Stop() error

	// Reload applies a freshly loaded config without restarting
	Reload(cfg *config.Config) error

	// Status reports current lifecycle state
	Status() ChannelStatus
}

// Sender is the outbound send capability of one provider. The delivery
// engine enforces chunk limits and threading; adapters only translate sends
// to provider API calls.
type Sender interface {
	// SendText delivers one text chunk. replyTo threads the message when
	// non-empty. Returns the provider message id.
	SendText(ctx context.Context, target, text, replyTo string) (string, error)

	// SendMedia delivers one media URL with an optional caption.
	SendMedia(ctx context.Context, target, mediaURL, caption, replyTo string) (string, error)

	// SendTyping fires a typing indicator. Best-effort; errors are ignored
	// by callers.
	SendTyping(ctx context.Context, target string)

	// HardLimit returns the provider's hard text length cap (0 = unlimited).
	HardLimit() int
}

// Provider hard limits for outbound text.
const (
	WhatsAppHardLimit = 65536
	TelegramHardLimit = 4096
	DiscordHardLimit  = 2000

	// TelegramCaptionLimit caps media captions separately.
	TelegramCaptionLimit = 1024
)
