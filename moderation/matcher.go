// Package moderation implements the automated moderation engine: trigger
// phrase matching, sliding-window flood detection, warning escalation, the
// mute lifecycle with durable history, and the periodic expiry sweep.
package moderation

import (
	"log/slog"
	"regexp"
	"strings"
)

// Matcher reports whether a message contains any configured trigger phrase.
// Phrases are compiled as regular expressions; a phrase that fails to compile
// degrades to a literal substring match rather than being rejected. Matcher
// is immutable after construction and safe for concurrent use.
type Matcher struct {
	patterns []*regexp.Regexp
	literals []string
}

// NewMatcher compiles the given trigger phrases.
func NewMatcher(phrases []string) *Matcher {
	m := &Matcher{}
	for _, p := range phrases {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			slog.Warn("trigger phrase is not a valid pattern; matching literally", slog.String("phrase", p), slog.Any("err", err))
			m.literals = append(m.literals, p)
			continue
		}
		m.patterns = append(m.patterns, re)
	}
	return m
}

// Match reports whether text contains any trigger phrase.
func (m *Matcher) Match(text string) bool {
	for _, re := range m.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	for _, lit := range m.literals {
		if strings.Contains(text, lit) {
			return true
		}
	}
	return false
}

// Empty reports whether no trigger phrases are configured.
func (m *Matcher) Empty() bool {
	return len(m.patterns) == 0 && len(m.literals) == 0
}
