// Package paths provides centralized path resolution for clawgate.
// This package has NO internal imports (only stdlib) to avoid import cycles.
// All functions return errors to allow callers to log appropriately.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// BaseDir returns the clawgate base directory (~/.clawgate).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".clawgate"), nil
}

// DataPath returns a path within the clawgate data directory (~/.clawgate/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active clawgate.json path.
// Priority: ./clawgate.json (current dir) > ~/.clawgate/clawgate.json
// Returns ("", nil) if no config exists - this is a valid state, not an error.
func ConfigPath() (string, error) {
	// Check local first
	localPath := "clawgate.json"
	if _, err := os.Stat(localPath); err == nil {
		absPath, err := filepath.Abs(localPath)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		return absPath, nil
	}

	// Check global
	globalPath, err := DataPath("clawgate.json")
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	// No config found - valid state
	return "", nil
}

// DefaultConfigPath returns the default location for new configs (~/.clawgate/clawgate.json).
func DefaultConfigPath() (string, error) {
	return DataPath("clawgate.json")
}

// MediaDir returns the directory for downloaded attachments (~/.clawgate/media).
func MediaDir() (string, error) {
	return DataPath("media")
}

// SessionDBPath returns the session route database path (~/.clawgate/sessions.db).
func SessionDBPath() (string, error) {
	return DataPath("sessions.db")
}

// WhatsAppDBPath returns the whatsmeow device store path (~/.clawgate/whatsapp.db).
func WhatsAppDBPath() (string, error) {
	return DataPath("whatsapp.db")
}

// PIDPath returns the default daemon PID file path (~/.clawgate/clawgate.pid).
func PIDPath() (string, error) {
	return DataPath("clawgate.pid")
}

// LogPath returns the default daemon log file path (~/.clawgate/clawgate.log).
func LogPath() (string, error) {
	return DataPath("clawgate.log")
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
