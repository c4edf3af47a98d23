package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roelfdiedericks/clawgate/internal/bus"
	"github.com/roelfdiedericks/clawgate/internal/config"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

// Retry pacing for channels whose initial connection fails.
const (
	retryInitialBackoff = 5 * time.Second
	retryMaxBackoff     = 5 * time.Minute
)

// Factory builds one channel type from the merged config.
type Factory struct {
	// Enabled reports whether the config asks for this channel at all.
	Enabled func(cfg *config.Config) bool

	// New constructs an unstarted channel.
	New func(cfg *config.Config) (ManagedChannel, error)
}

// Manager owns the lifecycle of all provider channels: initial start with
// background retry, hot reload on config.applied, and shutdown.
type Manager struct {
	mu        sync.RWMutex
	factories map[string]Factory
	channels  map[string]ManagedChannel
	retrying  map[string]bool
	cancels   map[string]context.CancelFunc

	ctx context.Context
	cfg *config.Config
}

// NewManager creates a manager with no channels registered.
func NewManager() *Manager {
	return &Manager{
		factories: make(map[string]Factory),
		channels:  make(map[string]ManagedChannel),
		retrying:  make(map[string]bool),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Register adds a channel factory under its name.
func (m *Manager) Register(name string, f Factory) {
	m.mu.Lock()
	m.factories[name] = f
	m.mu.Unlock()
}

// StartAll starts every enabled channel. A channel that fails to start is
// retried in the background with exponential backoff; its failure never
// blocks the others.
func (m *Manager) StartAll(ctx context.Context, cfg *config.Config) {
	m.mu.Lock()
	m.ctx = ctx
	m.cfg = cfg
	factories := make(map[string]Factory, len(m.factories))
	for name, f := range m.factories {
		factories[name] = f
	}
	m.mu.Unlock()

	for name, f := range factories {
		if !f.Enabled(cfg) {
			L_info(name + ": disabled by configuration")
			continue
		}
		if err := m.startChannel(ctx, name, cfg); err != nil {
			L_warn(name+": initial start failed, will retry in background", "error", err)
			m.startRetry(ctx, name)
		}
	}

	bus.SubscribeEvent(config.TopicApplied, func(event bus.Event) {
		cfg, ok := event.Data.(*config.Config)
		if !ok {
			L_error("channels: invalid config event data")
			return
		}
		m.applyConfig(cfg)
	})

	m.registerCommands(ctx)
}

// registerCommands exposes channel lifecycle control on the command bus so
// the RPC surface (and anything else on the bus) can drive it.
func (m *Manager) registerCommands(ctx context.Context) {
	bus.RegisterCommand("channels", "status", func(cmd bus.Command) bus.CommandResult {
		return bus.CommandResult{Success: true, Data: m.Status()}
	})
	bus.RegisterCommand("channels", "restart", func(cmd bus.Command) bus.CommandResult {
		name, ok := cmd.Payload.(string)
		if !ok || name == "" {
			return bus.CommandResult{Error: fmt.Errorf("restart requires a channel name"), Message: "restart requires a channel name"}
		}

		m.mu.RLock()
		f, registered := m.factories[name]
		cfg := m.cfg
		m.mu.RUnlock()
		if !registered {
			return bus.CommandResult{Error: fmt.Errorf("channel %q not registered", name), Message: fmt.Sprintf("channel '%s' not registered", name)}
		}
		if !f.Enabled(cfg) {
			return bus.CommandResult{Error: fmt.Errorf("channel %q disabled", name), Message: fmt.Sprintf("channel '%s' is disabled by configuration", name)}
		}

		m.stopChannel(name)
		if err := m.startChannel(ctx, name, cfg); err != nil {
			m.startRetry(ctx, name)
			return bus.CommandResult{Error: err, Message: fmt.Sprintf("restart failed, retrying in background: %v", err)}
		}
		return bus.CommandResult{Success: true, Message: fmt.Sprintf("channel '%s' restarted", name)}
	})
}

func (m *Manager) startChannel(ctx context.Context, name string, cfg *config.Config) error {
	m.mu.RLock()
	f, ok := m.factories[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channel %q not registered", name)
	}

	ch, err := f.New(cfg)
	if err != nil {
		return err
	}
	if err := ch.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.channels[name] = ch
	m.mu.Unlock()

	bus.PublishEvent("channels."+name+".started", nil)
	L_info(name + ": channel ready and listening")
	return nil
}

// startRetry reconnects a failed channel in the background, doubling the
// delay up to the cap until it starts or the context ends.
func (m *Manager) startRetry(ctx context.Context, name string) {
	m.mu.Lock()
	if m.retrying[name] {
		m.mu.Unlock()
		return
	}
	m.retrying[name] = true
	retryCtx, cancel := context.WithCancel(ctx)
	m.cancels[name] = cancel
	m.mu.Unlock()

	go func() {
		backoff := retryInitialBackoff
		attempt := 1

		for {
			select {
			case <-retryCtx.Done():
				L_info(name + ": shutdown requested, stopping retry")
				return
			case <-time.After(backoff):
			}

			m.mu.RLock()
			cfg := m.cfg
			m.mu.RUnlock()

			L_info(name+": retrying connection", "attempt", attempt, "backoff", backoff)
			if err := m.startChannel(retryCtx, name, cfg); err != nil {
				L_warn(name+": connection failed", "error", err, "nextRetry", backoff)
				attempt++
				backoff *= 2
				if backoff > retryMaxBackoff {
					backoff = retryMaxBackoff
				}
				continue
			}

			m.mu.Lock()
			m.retrying[name] = false
			m.mu.Unlock()
			L_info(name+": channel ready after retry", "attempts", attempt)
			return
		}
	}()
}

// applyConfig reconciles running channels with a freshly applied config:
// running+enabled reloads in place, running+disabled stops, stopped+enabled
// starts.
func (m *Manager) applyConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	ctx := m.ctx
	factories := make(map[string]Factory, len(m.factories))
	for name, f := range m.factories {
		factories[name] = f
	}
	m.mu.Unlock()

	for name, f := range factories {
		enabled := f.Enabled(cfg)

		m.mu.RLock()
		ch := m.channels[name]
		cancel := m.cancels[name]
		m.mu.RUnlock()

		switch {
		case ch != nil && enabled:
			if err := ch.Reload(cfg); err != nil {
				L_warn(name+": in-place reload failed, restarting", "error", err)
				m.stopChannel(name)
				if err := m.startChannel(ctx, name, cfg); err != nil {
					L_error(name+": restart with new config failed", "error", err)
					m.startRetry(ctx, name)
				}
			}
		case ch != nil && !enabled:
			L_info(name + ": disabled by new config")
			m.stopChannel(name)
		case ch == nil && enabled:
			if cancel != nil {
				cancel()
			}
			if err := m.startChannel(ctx, name, cfg); err != nil {
				L_error(name+": failed to start with new config", "error", err)
				m.startRetry(ctx, name)
			}
		}
	}
}

func (m *Manager) stopChannel(name string) {
	m.mu.Lock()
	ch := m.channels[name]
	delete(m.channels, name)
	m.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Stop(); err != nil {
		L_error(name+": stop failed", "error", err)
	}
	bus.PublishEvent("channels."+name+".stopped", nil)
}

// StopAll gracefully shuts down all running channels and pending retries.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for name, cancel := range m.cancels {
		cancel()
		delete(m.cancels, name)
	}
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		L_debug("channels: stopping", "channel", name)
		m.stopChannel(name)
	}
}

// Get returns a running channel by name, or nil.
func (m *Manager) Get(name string) ManagedChannel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// Status returns the status of all running channels.
func (m *Manager) Status() map[string]ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]ChannelStatus, len(m.channels))
	for name, ch := range m.channels {
		result[name] = ch.Status()
	}
	return result
}
