package main

import (
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/clawgate/internal/channels/whatsapp"
)

const version = "0.1.0"

type cli struct {
	Config   string `help:"Config file path (default: ./clawgate.json or ~/.clawgate/clawgate.json)." type:"path"`
	LogLevel string `help:"Log level (trace|debug|info|warn|error)." default:""`

	Gateway gatewayCmd `cmd:"" help:"Run the gateway."`
	Status  statusCmd  `cmd:"" help:"Show gateway status."`
	Nodes   nodesCmd   `cmd:"" help:"List connected nodes."`

	Camera struct {
		Snap cameraSnapCmd `cmd:"" help:"Capture a photo on a node."`
		Clip cameraClipCmd `cmd:"" help:"Record a short video clip on a node."`
	} `cmd:"" help:"Companion-device camera operations."`

	ConfigCmd struct {
		Show    configShowCmd    `cmd:"" help:"Print the effective configuration."`
		Set     configSetCmd     `cmd:"" help:"Set one configuration field and save."`
		Backups configBackupsCmd `cmd:"" help:"List config file backups."`
		Restore configRestoreCmd `cmd:"" help:"Restore a config file backup."`
	} `cmd:"" name:"config" help:"Inspect and edit the config file."`

	WhatsApp struct {
		Link   whatsappLinkCmd   `cmd:"" help:"Pair a WhatsApp device via QR code."`
		Unlink whatsappUnlinkCmd `cmd:"" help:"Remove the paired WhatsApp session."`
		Status whatsappStatusCmd `cmd:"" help:"Show WhatsApp pairing status."`
	} `cmd:"" name:"whatsapp" help:"WhatsApp pairing."`

	Version versionCmd `cmd:"" help:"Print the version."`
}

type versionCmd struct{}

func (v *versionCmd) Run(*cli) error {
	fmt.Printf("clawgate %s\n", version)
	return nil
}

type whatsappLinkCmd struct{}

func (w *whatsappLinkCmd) Run(*cli) error { return whatsapp.LinkDevice() }

type whatsappUnlinkCmd struct{}

func (w *whatsappUnlinkCmd) Run(*cli) error { return whatsapp.UnlinkDevice() }

type whatsappStatusCmd struct{}

func (w *whatsappStatusCmd) Run(*cli) error { return whatsapp.DeviceStatus() }

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("clawgate"),
		kong.Description("Multi-surface messaging gateway: chat providers, webchat, companion nodes, one agent."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c))
}
