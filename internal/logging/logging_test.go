package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.Level != LevelInfo {
		t.Errorf("default level = %d, want %d", s.Level, LevelInfo)
	}
	if !s.ShowCaller {
		t.Error("default settings should show caller")
	}
}

func TestLevelFromString(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"trace", LevelTrace},
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelFatal},
		{"  Debug ", LevelDebug},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, c := range cases {
		if got := LevelFromString(c.in); got != c.want {
			t.Errorf("LevelFromString(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestInitWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	s := DefaultSettings()
	s.Output = &buf
	s.ShowCaller = false
	Init(s)

	L_info("gateway starting", "version", "0.1.0")
	if !strings.Contains(buf.String(), "gateway starting") {
		t.Errorf("log output missing message: %q", buf.String())
	}
}

func TestHasFmtVerb(t *testing.T) {
	if !hasFmtVerb("value is %d") {
		t.Error("expected %d to be detected as a format verb")
	}
	if hasFmtVerb("100%% done") {
		t.Error("%% escape should not count as a format verb")
	}
	if hasFmtVerb("plain message") {
		t.Error("plain message has no format verbs")
	}
}
