package channels

import (
	"testing"

	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/policy"
)

func boolPtr(b bool) *bool { return &b }

func TestAdmitDMAllowList(t *testing.T) {
	a := NewAdmission(config.ChannelPolicy{
		AllowFrom: config.FlexibleStringSlice{"12345", "@alice"},
	})

	if !a.AdmitDM(policy.Candidate{ID: "12345"}) {
		t.Error("listed id rejected")
	}
	if !a.AdmitDM(policy.Candidate{ID: "999", Tag: "@alice"}) {
		t.Error("listed tag rejected")
	}
	if a.AdmitDM(policy.Candidate{ID: "999", Name: "mallory"}) {
		t.Error("unlisted sender admitted")
	}
}

func TestAdmitDMDisabled(t *testing.T) {
	a := NewAdmission(config.ChannelPolicy{DMEnabled: boolPtr(false)})
	if a.AdmitDM(policy.Candidate{ID: "12345"}) {
		t.Error("DM admitted with dmEnabled=false")
	}
}

func TestAdmitEmptyListAdmitsEveryone(t *testing.T) {
	a := NewAdmission(config.ChannelPolicy{})
	if !a.AdmitDM(policy.Candidate{ID: "anyone"}) {
		t.Error("empty allow list should admit everyone")
	}
	if !a.AdmitGroup(policy.Candidate{ID: "anyone"}) {
		t.Error("empty group allow list should admit everyone")
	}
}

func TestAdmitGroupSeparateList(t *testing.T) {
	a := NewAdmission(config.ChannelPolicy{
		AllowFrom:      config.FlexibleStringSlice{"11"},
		GroupAllowFrom: config.FlexibleStringSlice{"22"},
	})

	if a.AdmitGroup(policy.Candidate{ID: "11"}) {
		t.Error("DM-only sender admitted to group")
	}
	if !a.AdmitGroup(policy.Candidate{ID: "22"}) {
		t.Error("group-listed sender rejected")
	}
}

func TestAdmitGroupDisabled(t *testing.T) {
	a := NewAdmission(config.ChannelPolicy{GroupEnabled: boolPtr(false)})
	if a.AdmitGroup(policy.Candidate{ID: "22"}) {
		t.Error("group message admitted with groupEnabled=false")
	}
}

func TestMentionSatisfied(t *testing.T) {
	a := NewAdmission(config.ChannelPolicy{})
	cases := []struct {
		name           string
		requireMention bool
		wasMentioned   bool
		body           string
		want           bool
	}{
		{"no gating", false, false, "hello", true},
		{"mentioned", true, true, "hello @bot", true},
		{"not mentioned", true, false, "hello", false},
		{"command bypasses gating", true, false, "/status", true},
		{"command with leading space", true, false, "  /status", true},
		{"slash mid-sentence is not a command", true, false, "either/or", false},
	}
	for _, tc := range cases {
		if got := a.MentionSatisfied(tc.requireMention, tc.wasMentioned, tc.body); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCommandPrefixConfigurable(t *testing.T) {
	a := NewAdmission(config.ChannelPolicy{CommandPrefix: "!"})
	if !a.IsCommand("!status") {
		t.Error("configured prefix not recognized")
	}
	if a.IsCommand("/status") {
		t.Error("default prefix recognized despite override")
	}
	if !a.MentionSatisfied(true, false, "!status") {
		t.Error("command with configured prefix should bypass mention gating")
	}
}
