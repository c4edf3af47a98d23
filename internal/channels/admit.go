package channels

import (
	"strings"

	"github.com/roelfdiedericks/clawgate/internal/config"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/policy"
)

// Admission is one surface's compiled inbound policy. Rebuilt on reload;
// nil allowlists admit everyone.
type Admission struct {
	pol   config.ChannelPolicy
	dm    *policy.AllowList
	group *policy.AllowList
}

// NewAdmission compiles a channel policy. stripPrefixes are provider id
// suffixes/prefixes folded away before matching (e.g. WhatsApp JID domains).
func NewAdmission(p config.ChannelPolicy, stripPrefixes ...string) *Admission {
	return &Admission{
		pol:   p,
		dm:    policy.Build(p.AllowFrom, stripPrefixes...),
		group: policy.Build(p.GroupAllowFrom, stripPrefixes...),
	}
}

// AdmitDM decides whether a direct message from this sender is processed.
func (a *Admission) AdmitDM(c policy.Candidate) bool {
	if !a.pol.DMAllowed() {
		L_debug("admit: direct messages disabled", "sender", c.ID)
		return false
	}
	if !a.dm.Matches(c) {
		L_info("admit: sender not in allow list", "sender", c.ID, "name", c.Name)
		return false
	}
	return true
}

// AdmitGroup decides whether a group message from this sender is processed.
// Mention gating happens separately; this is the capability + sender check.
func (a *Admission) AdmitGroup(c policy.Candidate) bool {
	if !a.pol.GroupAllowed() {
		L_debug("admit: group messages disabled", "sender", c.ID)
		return false
	}
	if !a.group.Matches(c) {
		L_info("admit: group sender not in allow list", "sender", c.ID, "name", c.Name)
		return false
	}
	return true
}

// MentionSatisfied applies mention gating to an admitted group message.
// requireMention may come from the channel policy or a per-room override.
// Command messages bypass mention gating because the sender addressed the
// bot directly.
func (a *Admission) MentionSatisfied(requireMention, wasMentioned bool, body string) bool {
	if !requireMention || wasMentioned {
		return true
	}
	return a.IsCommand(body)
}

// IsCommand reports whether the body starts with the configured command
// prefix.
func (a *Admission) IsCommand(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), a.pol.Prefix())
}

// Policy returns the underlying channel policy.
func (a *Admission) Policy() config.ChannelPolicy { return a.pol }
