// Package policy implements the admission rules applied before a provider
// event becomes a conversational turn: allow-list matching for senders and
// guild/channel resolution with mention-gating defaults.
//
// All functions here are pure; config projections are read-only after load
// and safe to share across concurrent turns.
package policy

import (
	"strings"
)

// EntryKind tags a parsed allow-list entry.
type EntryKind int

const (
	EntryID       EntryKind = iota // bare id or numeric id
	EntryMention                   // "<@123>" style
	EntryName                      // "@name" or bare name
	EntryWildcard                  // "*"
)

// Entry is one parsed allow-list element.
type Entry struct {
	Kind EntryKind
	ID   string
	Name string
}

// AllowList is the normalized policy data built once per evaluation.
// AllowAll short-circuits all membership checks.
type AllowList struct {
	AllowAll bool
	IDs      map[string]struct{}
	Names    map[string]struct{}
}

// Candidate describes the sender being checked. Any field may be empty.
type Candidate struct {
	ID   string
	Name string
	Tag  string // provider tag/username variant, e.g. "name#1234"
}

// ParseEntry classifies a raw allow-list entry, stripping any of the given
// provider prefixes (e.g. "discord:", "user:") first.
func ParseEntry(raw string, stripPrefixes []string) (Entry, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Entry{}, false
	}
	for _, p := range stripPrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimPrefix(s, p)
			break
		}
	}
	if s == "" {
		return Entry{}, false
	}

	if s == "*" {
		return Entry{Kind: EntryWildcard}, true
	}

	// "<@123>" / "<@!123>" mention syntax
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		id := strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
		id = strings.TrimPrefix(id, "!")
		if id == "" {
			return Entry{}, false
		}
		return Entry{Kind: EntryMention, ID: id}, true
	}

	// "@name"
	if strings.HasPrefix(s, "@") {
		name := strings.TrimPrefix(s, "@")
		if name == "" {
			return Entry{}, false
		}
		return Entry{Kind: EntryName, Name: name}, true
	}

	if isDigits(s) {
		return Entry{Kind: EntryID, ID: s}, true
	}

	// Bare non-numeric entries match as both id and name: providers differ
	// on whether stable ids are numeric.
	return Entry{Kind: EntryName, ID: s, Name: s}, true
}

// Build normalizes raw config entries into an AllowList.
// Returns nil when no usable entries exist - callers must treat nil as
// "no restriction configured" (allow everyone).
func Build(entries []string, stripPrefixes ...string) *AllowList {
	list := &AllowList{
		IDs:   make(map[string]struct{}),
		Names: make(map[string]struct{}),
	}
	any := false
	for _, raw := range entries {
		e, ok := ParseEntry(raw, stripPrefixes)
		if !ok {
			continue
		}
		any = true
		switch e.Kind {
		case EntryWildcard:
			list.AllowAll = true
		default:
			if e.ID != "" {
				list.IDs[e.ID] = struct{}{}
			}
			if e.Name != "" {
				list.Names[Slug(e.Name)] = struct{}{}
				list.Names[strings.ToLower(e.Name)] = struct{}{}
			}
		}
	}
	if !any {
		return nil
	}
	return list
}

// Matches reports whether the candidate is permitted. A nil list means no
// restriction is configured and always permits.
func (l *AllowList) Matches(c Candidate) bool {
	if l == nil || l.AllowAll {
		return true
	}
	if c.ID != "" {
		if _, ok := l.IDs[c.ID]; ok {
			return true
		}
	}
	for _, n := range []string{c.Name, c.Tag} {
		if n == "" {
			continue
		}
		if _, ok := l.Names[strings.ToLower(n)]; ok {
			return true
		}
		if _, ok := l.Names[Slug(n)]; ok {
			return true
		}
	}
	return false
}

// Slug folds a name for comparison: lowercase, runs of non-alphanumerics
// collapsed to a single '-', leading/trailing dashes trimmed.
func Slug(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(s) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash && b.Len() > 0 {
			b.WriteByte('-')
			prevDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
