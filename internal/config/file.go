package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/paths"
)

// MaxBackups is how many rotated copies of the config file are kept.
const MaxBackups = 5

const backupExt = ".bak"

// BackupInfo describes one rotated copy of the config file.
type BackupInfo struct {
	Path    string
	Index   int // 0 = newest (.bak), 1 = .bak.1, ...
	ModTime time.Time
	Size    int64
}

// Save writes the config to path, rotating a backup of the previous version
// first. An empty path saves to the default location.
func Save(path string, cfg *Config) error {
	if path == "" {
		var err error
		path, err = paths.DefaultConfigPath()
		if err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return saveRaw(path, data)
}

// SaveRaw writes a pre-rendered config document after checking that it still
// parses as one. Used by the CLI, which edits the raw JSON to preserve
// fields this build does not know about.
func SaveRaw(path string, data []byte) error {
	var check Config
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}
	return saveRaw(path, data)
}

func saveRaw(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		if err := rotateIn(path); err != nil {
			L_warn("config: backup failed, saving anyway", "error", err)
		}
	}
	if err := writeAtomic(path, data, 0600); err != nil {
		return err
	}
	L_debug("config: saved", "path", path)
	return nil
}

// Backups lists the rotated copies of the config, newest first.
func Backups(path string) []BackupInfo {
	var out []BackupInfo
	for i := 0; i < MaxBackups; i++ {
		bp := backupPath(path, i)
		info, err := os.Stat(bp)
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{Path: bp, Index: i, ModTime: info.ModTime(), Size: info.Size()})
	}
	return out
}

// Restore replaces the config with the backup at index, after checking that
// the copy still parses. The replaced file is itself rotated into the chain
// so a restore is always reversible.
func Restore(path string, index int) error {
	bp := backupPath(path, index)
	data, err := os.ReadFile(bp)
	if err != nil {
		return fmt.Errorf("backup %d not available: %w", index, err)
	}
	var check Config
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("backup %s is not a valid config: %w", bp, err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := rotateIn(path); err != nil {
			L_warn("config: failed to back up current config before restore", "error", err)
		}
	}
	if err := writeAtomic(path, data, 0600); err != nil {
		return err
	}
	L_info("config: restored", "from", bp, "to", path)
	return nil
}

// rotateIn pushes the existing backup chain up one slot and copies the
// current file into the newest slot. The oldest copy falls off the end.
func rotateIn(path string) error {
	os.Remove(backupPath(path, MaxBackups-1))
	for i := MaxBackups - 2; i >= 0; i-- {
		src := backupPath(path, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, backupPath(path, i+1)); err != nil {
			return err
		}
	}
	return copyFile(path, backupPath(path, 0))
}

func backupPath(path string, index int) string {
	if index == 0 {
		return path + backupExt
	}
	return fmt.Sprintf("%s%s.%d", path, backupExt, index)
}

// writeAtomic writes data through a temp file in the same directory so a
// crash never leaves a partial config on disk.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".clawgate-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	// Remove is a no-op after a successful rename.
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
