package media

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func TestFetchRespectsCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	data, err := Fetch(srv.URL, 2000)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(data) != 1000 {
		t.Errorf("got %d bytes, want 1000", len(data))
	}

	_, err = Fetch(srv.URL, 500)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetchNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := Fetch(srv.URL, 0)
	if err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestCheckCap(t *testing.T) {
	if err := CheckCap(make([]byte, 10), 20); err != nil {
		t.Errorf("under-cap blob should pass: %v", err)
	}
	if err := CheckCap(make([]byte, 30), 20); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if err := CheckCap(make([]byte, 30), 0); err != nil {
		t.Errorf("cap 0 disables the check: %v", err)
	}
}

func TestStoreSaveDetectsType(t *testing.T) {
	dir, err := os.MkdirTemp("", "media_test_*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := NewStore(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	// Minimal PNG header
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	path, mime, err := s.Save(png, "telegram")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q, want image/png", mime)
	}
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("path %q should carry .png extension", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("saved file missing: %v", err)
	}
}

func TestPlaceholder(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":      "<media:image>",
		"video/mp4":       "<media:video>",
		"audio/ogg":       "<media:audio>",
		"application/pdf": "<media:document>",
	}
	for mime, want := range cases {
		if got := Placeholder(mime); got != want {
			t.Errorf("Placeholder(%q) = %q, want %q", mime, got, want)
		}
	}
}
