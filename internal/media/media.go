// Package media handles inbound attachment download, typing, storage, and
// image downscaling for the gateway.
//
// Each inbound turn downloads at most one attachment. The byte cap is a hard
// limit: an over-cap attachment fails the turn rather than being silently
// truncated.
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	. "github.com/roelfdiedericks/clawgate/internal/logging"
)

// ErrTooLarge is returned when an attachment exceeds the configured byte cap.
var ErrTooLarge = errors.New("attachment exceeds size cap")

// DefaultTTL is how long downloaded attachments are kept on disk.
const DefaultTTL = 24 * time.Hour

// Store persists downloaded attachments under a base directory with
// TTL-based cleanup.
type Store struct {
	baseDir string
	ttl     time.Duration
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	s := &Store{baseDir: dir, ttl: ttl, stopCh: make(chan struct{})}
	L_info("media: store initialized", "dir", dir, "ttl", ttl.String())
	return s, nil
}

// Start begins the background cleanup goroutine.
func (s *Store) Start() {
	interval := s.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.cleanOld()
		for {
			select {
			case <-ticker.C:
				s.cleanOld()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Close stops the cleanup goroutine.
func (s *Store) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string { return s.baseDir }

// Save writes attachment bytes to disk under a per-surface subdirectory,
// naming the file by uuid with an extension inferred from content.
// Returns the absolute path and the detected MIME type.
func (s *Store) Save(data []byte, surface string) (path string, mime string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt := mimetype.Detect(data)
	dir := filepath.Join(s.baseDir, surface)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	name := uuid.New().String()[:8] + mt.Extension()
	path = filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", "", fmt.Errorf("failed to write file: %w", err)
	}

	L_debug("media: saved attachment", "path", path, "mime", mt.String(), "size", len(data))
	return path, mt.String(), nil
}

// cleanOld removes files older than the TTL.
func (s *Store) cleanOld() {
	cutoff := time.Now().Add(-s.ttl)
	removed := 0
	filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if removed > 0 {
		L_debug("media: cleanup completed", "removed", removed)
	}
}

// Placeholder returns the human placeholder string injected when a message
// carries media but no text ("<media:image>" etc.).
func Placeholder(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "<media:image>"
	case strings.HasPrefix(mime, "video/"):
		return "<media:video>"
	case strings.HasPrefix(mime, "audio/"):
		return "<media:audio>"
	default:
		return "<media:document>"
	}
}

// DetectMIME sniffs the MIME type of raw bytes.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}
