package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	godaemon "github.com/sevlyar/go-daemon"

	"github.com/roelfdiedericks/clawgate/internal/agent"
	"github.com/roelfdiedericks/clawgate/internal/bus"
	"github.com/roelfdiedericks/clawgate/internal/channels"
	"github.com/roelfdiedericks/clawgate/internal/channels/discord"
	"github.com/roelfdiedericks/clawgate/internal/channels/telegram"
	"github.com/roelfdiedericks/clawgate/internal/channels/whatsapp"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/gateway"
	"github.com/roelfdiedericks/clawgate/internal/heartbeat"
	"github.com/roelfdiedericks/clawgate/internal/history"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/media"
	"github.com/roelfdiedericks/clawgate/internal/nodes"
	"github.com/roelfdiedericks/clawgate/internal/paths"
	"github.com/roelfdiedericks/clawgate/internal/session"
)

type gatewayCmd struct {
	Daemon bool `help:"Run in the background (daemonize)."`
	Echo   bool `help:"Use the built-in echo generator instead of a remote agent (testing)."`
}

func (g *gatewayCmd) Run(c *cli) error {
	cfg, cfgPath, err := loadConfig(c)
	if err != nil {
		return err
	}
	initLogging(c, cfg)

	if g.Daemon {
		child, dctx, err := daemonize(cfg)
		if err != nil {
			return err
		}
		if child {
			// parent: the child carries on
			return nil
		}
		defer dctx.Release()
	}

	return g.run(cfg, cfgPath)
}

// loadConfig resolves the config file: --config wins, otherwise the standard
// lookup (./clawgate.json, then ~/.clawgate/clawgate.json).
func loadConfig(c *cli) (*config.Config, string, error) {
	if c.Config != "" {
		cfg, err := config.LoadFile(c.Config)
		return cfg, c.Config, err
	}
	path, err := paths.ConfigPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFile(path)
	return cfg, path, err
}

func initLogging(c *cli, cfg *config.Config) {
	level := cfg.Logging.Level
	if c.LogLevel != "" {
		level = c.LogLevel
	}
	lc := DefaultSettings()
	lc.Level = LevelFromString(level)
	lc.ShowCaller = cfg.Logging.ShowCaller
	Init(lc)
}

// daemonize forks into the background. Returns child=true in the parent
// process, which should exit immediately.
func daemonize(cfg *config.Config) (bool, *godaemon.Context, error) {
	pidFile := cfg.Gateway.PIDFile
	if pidFile == "" {
		var err error
		pidFile, err = paths.PIDPath()
		if err != nil {
			return false, nil, err
		}
	}
	logFile := cfg.Gateway.LogFile
	if logFile == "" {
		var err error
		logFile, err = paths.LogPath()
		if err != nil {
			return false, nil, err
		}
	}
	if err := paths.EnsureParentDir(pidFile); err != nil {
		return false, nil, err
	}
	if err := paths.EnsureParentDir(logFile); err != nil {
		return false, nil, err
	}

	dctx := &godaemon.Context{
		PidFileName: pidFile,
		PidFilePerm: 0644,
		LogFileName: logFile,
		LogFilePerm: 0640,
		Umask:       027,
	}
	child, err := dctx.Reborn()
	if err != nil {
		return false, nil, fmt.Errorf("failed to daemonize: %w", err)
	}
	if child != nil {
		fmt.Printf("clawgate gateway started in background (pid %d)\n", child.Pid)
		return true, dctx, nil
	}
	return false, dctx, nil
}

func (g *gatewayCmd) run(cfg *config.Config, cfgPath string) error {
	L_info("clawgate gateway starting", "version", version, "addr", cfg.Gateway.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	sessionDB, err := paths.SessionDBPath()
	if err != nil {
		return err
	}
	routes, err := session.Open(sessionDB)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer routes.Close()

	mediaDir, err := paths.MediaDir()
	if err != nil {
		return err
	}
	mediaStore, err := media.NewStore(mediaDir, media.DefaultTTL)
	if err != nil {
		return fmt.Errorf("failed to open media store: %w", err)
	}
	mediaStore.Start()
	defer mediaStore.Close()

	hist := history.New(cfg.History.Limit)
	registry := nodes.NewRegistry()

	// Generator: a remote agent attached over the WebSocket, or the echo
	// generator for wiring tests.
	remote := agent.NewRemote()
	var gen agent.Generator = remote
	if g.Echo {
		L_warn("gateway: echo mode, replies mirror the inbound body")
		gen = &agent.Static{}
	}

	gw := gateway.New(gen, hist, routes, registry)

	// Provider channels
	manager := channels.NewManager()
	manager.Register("whatsapp", channels.Factory{
		Enabled: func(cfg *config.Config) bool { return cfg.WhatsApp.Enabled },
		New: func(cfg *config.Config) (channels.ManagedChannel, error) {
			return whatsapp.New(cfg.WhatsApp, cfg.Media, gw, mediaStore)
		},
	})
	manager.Register("telegram", channels.Factory{
		Enabled: func(cfg *config.Config) bool { return cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" },
		New: func(cfg *config.Config) (channels.ManagedChannel, error) {
			return telegram.New(cfg.Telegram, cfg.Media, gw, mediaStore)
		},
	})
	manager.Register("discord", channels.Factory{
		Enabled: func(cfg *config.Config) bool { return cfg.Discord.Enabled && cfg.Discord.BotToken != "" },
		New: func(cfg *config.Config) (channels.ManagedChannel, error) {
			return discord.New(cfg.Discord, cfg.Media, gw, mediaStore)
		},
	})
	manager.StartAll(ctx, cfg)
	defer manager.StopAll()

	// WebSocket surface (webchat, nodes, agent, CLI)
	server := gateway.NewServer(gw, remote, cfg, version, func() map[string]any {
		status := make(map[string]any)
		for name, s := range manager.Status() {
			status[name] = s
		}
		return map[string]any{"channels": status}
	})
	bus.SubscribeEvent(config.TopicApplied, func(event bus.Event) {
		if c, ok := event.Data.(*config.Config); ok {
			server.ApplyConfig(c)
		}
	})

	// Hot reload on config file changes
	if cfgPath != "" {
		watcher, err := config.Watch(cfgPath)
		if err != nil {
			L_warn("gateway: config watch unavailable", "path", cfgPath, "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	// Proactive heartbeat turns
	hb := heartbeat.New(gw, gen)
	if err := hb.Start(cfg.Heartbeat); err != nil {
		return fmt.Errorf("invalid heartbeat schedule: %w", err)
	}
	defer hb.Stop()

	err = server.Start(ctx, cfg.Gateway.Addr())
	L_info("clawgate gateway stopped")
	return err
}
