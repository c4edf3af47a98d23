package policy

import (
	"github.com/roelfdiedericks/clawgate/internal/config"
)

// GuildDecision is the resolved per-conversation admission outcome.
type GuildDecision struct {
	Allowed        bool
	RequireMention bool
	Guild          *config.GuildConfig // nil when unrestricted
}

// ResolveGuild finds the config entry for a guild. Precedence:
// exact id match -> exact slug match -> slug-normalized match across all
// configured keys -> wildcard "*" entry -> no match.
//
// When the guilds map is empty the conversation is unrestricted. When
// entries exist and none match, the conversation is rejected.
func ResolveGuild(guilds map[string]*config.GuildConfig, guildID, guildName string) (*config.GuildConfig, bool) {
	if len(guilds) == 0 {
		return nil, true // unrestricted
	}

	if g, ok := guilds[guildID]; ok {
		return g, true
	}
	slug := Slug(guildName)
	if slug != "" {
		if g, ok := guilds[slug]; ok {
			return g, true
		}
		for key, g := range guilds {
			if key == "*" {
				continue
			}
			if Slug(key) == slug {
				return g, true
			}
		}
	}
	if g, ok := guilds["*"]; ok {
		return g, true
	}
	return nil, false
}

// ResolveChannel applies channel-level overrides within a guild entry.
// Channel settings override guild-level defaults; an absent channels map
// allows all channels in the guild.
func ResolveChannel(g *config.GuildConfig, channelID, channelName string, defaultRequireMention bool) GuildDecision {
	d := GuildDecision{Allowed: true, RequireMention: defaultRequireMention, Guild: g}
	if g == nil {
		return d
	}
	if g.RequireMention != nil {
		d.RequireMention = *g.RequireMention
	}
	if len(g.Channels) == 0 {
		return d
	}

	ch, ok := g.Channels[channelID]
	if !ok {
		slug := Slug(channelName)
		if slug != "" {
			if c, found := g.Channels[slug]; found {
				ch, ok = c, true
			} else {
				for key, c := range g.Channels {
					if Slug(key) == slug {
						ch, ok = c, true
						break
					}
				}
			}
		}
	}
	if !ok {
		// Channels are listed but this one is not: listed-but-unmatched rejects.
		d.Allowed = false
		return d
	}
	if ch.Allowed != nil {
		d.Allowed = *ch.Allowed
	}
	if ch.RequireMention != nil {
		d.RequireMention = *ch.RequireMention
	}
	return d
}

// ReactionPermitted applies the per-guild reaction mode to a reactor.
func ReactionPermitted(g *config.GuildConfig, onOwnMessage bool, reactor Candidate) bool {
	mode := config.ReactionOff
	if g != nil && g.Reactions != "" {
		mode = g.Reactions
	}
	switch mode {
	case config.ReactionAll:
		return true
	case config.ReactionOwn:
		return onOwnMessage
	case config.ReactionAllowlist:
		if g == nil {
			return false
		}
		// An allowlist mode with no listed reactors permits nobody.
		list := Build(g.ReactionAllowFrom)
		if list == nil {
			return false
		}
		return list.Matches(reactor)
	default:
		return false
	}
}
