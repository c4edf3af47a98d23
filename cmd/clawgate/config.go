package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/paths"
)

// configFilePath resolves where config commands read and write. An explicit
// --config wins; otherwise the resolved existing file, falling back to the
// default location on a fresh install.
func configFilePath(c *cli) (string, error) {
	if c.Config != "" {
		return c.Config, nil
	}
	path, err := paths.ConfigPath()
	if err != nil {
		return "", err
	}
	if path != "" {
		return path, nil
	}
	return paths.DefaultConfigPath()
}

type configShowCmd struct{}

func (cc *configShowCmd) Run(c *cli) error {
	cfg, path, err := loadConfig(c)
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no config file found, showing defaults")
	} else {
		fmt.Fprintf(os.Stderr, "config: %s\n", path)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return printJSON(data)
}

type configSetCmd struct {
	Field string `arg:"" help:"Dotted field path, e.g. telegram.botToken."`
	Value string `arg:"" help:"New value. Parsed as JSON when valid, plain string otherwise."`
}

func (cc *configSetCmd) Run(c *cli) error {
	path, err := configFilePath(c)
	if err != nil {
		return err
	}

	// Edit the raw document so unknown fields survive the round trip.
	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := config.SetField(doc, cc.Field, cc.Value); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := config.SaveRaw(path, data); err != nil {
		return err
	}
	fmt.Printf("%s = %s saved to %s\n", cc.Field, cc.Value, path)
	return nil
}

type configBackupsCmd struct{}

func (cc *configBackupsCmd) Run(c *cli) error {
	path, err := configFilePath(c)
	if err != nil {
		return err
	}
	backups := config.Backups(path)
	if len(backups) == 0 {
		fmt.Println("no backups")
		return nil
	}
	for _, b := range backups {
		fmt.Printf("%d  %s  %d bytes  %s\n", b.Index, b.ModTime.Format("2006-01-02 15:04:05"), b.Size, b.Path)
	}
	return nil
}

type configRestoreCmd struct {
	Index int `arg:"" optional:"" help:"Backup index from 'config backups' (default newest)."`
}

func (cc *configRestoreCmd) Run(c *cli) error {
	path, err := configFilePath(c)
	if err != nil {
		return err
	}
	if err := config.Restore(path, cc.Index); err != nil {
		return err
	}
	fmt.Printf("restored backup %d to %s\n", cc.Index, path)
	return nil
}
