package policy

import (
	"testing"

	"github.com/roelfdiedericks/clawgate/internal/config"
)

func TestBuildEmptyReturnsNil(t *testing.T) {
	if got := Build(nil); got != nil {
		t.Errorf("Build(nil) = %v, want nil", got)
	}
	if got := Build([]string{"", "   ", "\t"}); got != nil {
		t.Errorf("Build(blank entries) = %v, want nil", got)
	}
}

func TestNilListAllowsEveryone(t *testing.T) {
	var l *AllowList
	if !l.Matches(Candidate{ID: "123"}) {
		t.Error("nil list should allow any candidate")
	}
	if !l.Matches(Candidate{}) {
		t.Error("nil list should allow empty candidate")
	}
}

func TestWildcardAllowsAnyCandidate(t *testing.T) {
	l := Build([]string{"*"})
	if l == nil {
		t.Fatal("expected non-nil list")
	}
	cases := []Candidate{
		{},
		{ID: "999"},
		{Name: "whoever"},
		{Tag: "x#0001"},
	}
	for _, c := range cases {
		if !l.Matches(c) {
			t.Errorf("wildcard list rejected %+v", c)
		}
	}
}

func TestWildcardAmongOtherEntries(t *testing.T) {
	l := Build([]string{"12345", "*", "@alice"})
	if !l.AllowAll {
		t.Error("expected AllowAll with wildcard present")
	}
	if !l.Matches(Candidate{}) {
		t.Error("wildcard should allow empty candidate even with other entries")
	}
}

func TestBlankEntriesIgnored(t *testing.T) {
	l := Build([]string{"", "12345", "  "})
	if l == nil {
		t.Fatal("expected non-nil list")
	}
	if l.AllowAll {
		t.Error("blank entries must not set AllowAll")
	}
	if !l.Matches(Candidate{ID: "12345"}) {
		t.Error("expected 12345 to match")
	}
	if l.Matches(Candidate{ID: "67890"}) {
		t.Error("unlisted id must not match")
	}
}

func TestMentionEntrySyntax(t *testing.T) {
	l := Build([]string{"<@184405311681986560>"})
	if !l.Matches(Candidate{ID: "184405311681986560"}) {
		t.Error("mention entry should match by id")
	}
	l = Build([]string{"<@!42>"})
	if !l.Matches(Candidate{ID: "42"}) {
		t.Error("nick-mention entry should match by id")
	}
}

func TestNameEntryCaseAndSlugFolding(t *testing.T) {
	l := Build([]string{"@Some User"})
	for _, name := range []string{"some user", "SOME USER", "Some-User", "some_user"} {
		if !l.Matches(Candidate{Name: name}) {
			t.Errorf("expected %q to match @Some User", name)
		}
	}
	if l.Matches(Candidate{Name: "other"}) {
		t.Error("unrelated name must not match")
	}
}

func TestPrefixStripping(t *testing.T) {
	l := Build([]string{"discord:5551212"}, "discord:", "user:")
	if !l.Matches(Candidate{ID: "5551212"}) {
		t.Error("prefixed id entry should match the bare id")
	}
}

func TestTagMatches(t *testing.T) {
	l := Build([]string{"@roelf"})
	if !l.Matches(Candidate{Tag: "Roelf"}) {
		t.Error("tag should be folded and matched against names")
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Hello World":   "hello-world",
		"  weird--名前! ": "weird",
		"Already-Slug":  "already-slug",
		"a_b.c":         "a-b-c",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func TestResolveGuildPrecedence(t *testing.T) {
	byID := &config.GuildConfig{}
	bySlug := &config.GuildConfig{}
	wild := &config.GuildConfig{}

	guilds := map[string]*config.GuildConfig{
		"1111":       byID,
		"my-server":  bySlug,
		"*":          wild,
	}

	if g, ok := ResolveGuild(guilds, "1111", "Whatever"); !ok || g != byID {
		t.Error("exact id should win")
	}
	if g, ok := ResolveGuild(guilds, "2222", "My Server"); !ok || g != bySlug {
		t.Error("slug of guild name should match configured slug key")
	}
	if g, ok := ResolveGuild(guilds, "3333", "Unknown"); !ok || g != wild {
		t.Error("wildcard entry should catch unmatched guilds")
	}
}

func TestResolveGuildNoEntriesUnrestricted(t *testing.T) {
	if g, ok := ResolveGuild(nil, "1", "x"); !ok || g != nil {
		t.Error("empty guild map should be unrestricted")
	}
}

func TestResolveGuildEntriesButNoMatchRejects(t *testing.T) {
	guilds := map[string]*config.GuildConfig{"1111": {}}
	if _, ok := ResolveGuild(guilds, "9999", "nope"); ok {
		t.Error("configured guilds with no match must reject")
	}
}

func TestResolveChannelOverrides(t *testing.T) {
	g := &config.GuildConfig{
		RequireMention: boolPtr(true),
		Channels: map[string]config.GuildChannelConfig{
			"general": {RequireMention: boolPtr(false)},
			"private": {Allowed: boolPtr(false)},
		},
	}

	d := ResolveChannel(g, "123", "General", false)
	if !d.Allowed || d.RequireMention {
		t.Errorf("channel override should disable mention requirement, got %+v", d)
	}

	d = ResolveChannel(g, "456", "private", false)
	if d.Allowed {
		t.Error("channel allowed=false should reject")
	}

	d = ResolveChannel(g, "789", "unlisted", false)
	if d.Allowed {
		t.Error("listed channels with no match must reject")
	}
}

func TestResolveChannelNoChannelsInheritsGuild(t *testing.T) {
	g := &config.GuildConfig{RequireMention: boolPtr(true)}
	d := ResolveChannel(g, "1", "anything", false)
	if !d.Allowed || !d.RequireMention {
		t.Errorf("guild default should apply, got %+v", d)
	}
}

func TestReactionModes(t *testing.T) {
	reactor := Candidate{ID: "42"}

	if ReactionPermitted(nil, true, reactor) {
		t.Error("nil guild defaults to off")
	}
	if !ReactionPermitted(&config.GuildConfig{Reactions: config.ReactionAll}, false, reactor) {
		t.Error("all mode should permit")
	}
	g := &config.GuildConfig{Reactions: config.ReactionOwn}
	if !ReactionPermitted(g, true, reactor) || ReactionPermitted(g, false, reactor) {
		t.Error("own mode should permit only reactions on own messages")
	}
	g = &config.GuildConfig{Reactions: config.ReactionAllowlist, ReactionAllowFrom: config.FlexibleStringSlice{"42"}}
	if !ReactionPermitted(g, false, reactor) {
		t.Error("allowlisted reactor should permit")
	}
	if ReactionPermitted(g, false, Candidate{ID: "7"}) {
		t.Error("unlisted reactor must not permit")
	}
	g = &config.GuildConfig{Reactions: config.ReactionAllowlist}
	if ReactionPermitted(g, false, reactor) {
		t.Error("allowlist mode with empty list permits nobody")
	}
}
