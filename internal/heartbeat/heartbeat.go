// Package heartbeat runs scheduled proactive agent turns.
//
// On each tick the configured prompt is sent to the agent as a synthetic
// turn, and any replies are delivered through the stored session route (the
// last direct-message conversation). Heartbeat turns never touch group
// history or session routing.
package heartbeat

import (
	"context"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/clawgate/internal/agent"
	"github.com/roelfdiedericks/clawgate/internal/bus"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/gateway"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/session"
	"github.com/roelfdiedericks/clawgate/internal/types"
)

// DefaultPrompt is used when the config gives a schedule but no prompt.
const DefaultPrompt = "Heartbeat: check for anything that needs attention. Reply briefly, or not at all."

const turnTimeout = 2 * time.Minute

// Service owns the heartbeat cron entry.
type Service struct {
	gw  *gateway.Gateway
	gen agent.Generator

	mu   sync.Mutex
	cfg  config.HeartbeatConfig
	cron *cronlib.Cron
}

// New creates a stopped heartbeat service.
func New(gw *gateway.Gateway, gen agent.Generator) *Service {
	return &Service{gw: gw, gen: gen}
}

// Start schedules the heartbeat. An empty schedule disables it. The service
// re-schedules itself when a new config is applied.
func (s *Service) Start(cfg config.HeartbeatConfig) error {
	if err := s.apply(cfg); err != nil {
		return err
	}
	bus.SubscribeEvent(config.TopicApplied, func(event bus.Event) {
		c, ok := event.Data.(*config.Config)
		if !ok {
			return
		}
		if err := s.apply(c.Heartbeat); err != nil {
			L_error("heartbeat: failed to apply new schedule", "error", err)
		}
	})
	return nil
}

func (s *Service) apply(cfg config.HeartbeatConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.cfg = cfg

	if cfg.Schedule == "" {
		L_info("heartbeat: disabled (no schedule)")
		return nil
	}

	c := cronlib.New()
	if _, err := c.AddFunc(cfg.Schedule, s.fire); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	L_info("heartbeat: scheduled", "schedule", cfg.Schedule, "session", s.sessionKey())
	return nil
}

// Stop cancels the schedule.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

func (s *Service) sessionKey() string {
	if s.cfg.SessionKey != "" {
		return s.cfg.SessionKey
	}
	return session.DefaultKey
}

// fire runs one heartbeat turn. Without a stored route there is nowhere to
// deliver, so the tick is skipped rather than failed.
func (s *Service) fire() {
	s.mu.Lock()
	prompt := s.cfg.Prompt
	key := s.sessionKey()
	s.mu.Unlock()
	if prompt == "" {
		prompt = DefaultPrompt
	}

	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	routes := s.gw.Routes()
	if routes == nil {
		L_debug("heartbeat: session routing disabled, skipping")
		return
	}
	route, err := routes.GetRoute(ctx, key)
	if err != nil {
		L_error("heartbeat: route lookup failed", "session", key, "error", err)
		return
	}
	if route == nil {
		L_debug("heartbeat: no route stored yet, skipping", "session", key)
		return
	}

	mc := &types.MessageContext{
		Body:       prompt,
		From:       "heartbeat",
		To:         route.To,
		ChatType:   types.ChatDirect,
		SenderName: "heartbeat",
		Surface:    route.Surface,
		Timestamp:  time.Now().UnixMilli(),
		SessionKey: key,
	}

	replies, err := s.gen.GenerateReplies(ctx, mc, agent.Hooks{})
	if err != nil {
		L_error("heartbeat: generation failed", "error", err)
		return
	}

	delivered := false
	for _, p := range replies {
		if !p.IsEmpty() {
			delivered = true
			break
		}
	}
	if !delivered {
		L_debug("heartbeat: agent stayed silent")
		return
	}

	if err := s.gw.DeliverProactive(ctx, key, replies); err != nil {
		L_error("heartbeat: delivery failed", "session", key, "error", err)
		return
	}
	L_info("heartbeat: delivered", "session", key, "surface", route.Surface)
}
