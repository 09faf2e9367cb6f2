// Package topics turns raw topic candidates into a non-duplicate,
// queueable selection.
package topics

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	MinTopicLength = 14
	MaxTopicLength = 95
	// Topics containing a dollar sign must not be longer than this.
	MaxDollarTopicLength = 70
)

// Phrases that mark scraped noise rather than an article topic.
var bannedPhrases = []string{
	"frankly shocking",
	"what kind of business model",
	"don't pay for the upgrade",
	"later addressed",
	"reversed course",
	"this isn't a",
	"nano banana",
	"banano",
	"claude best",
}

var (
	nonKeyChars = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Candidate is a topic suggested by a topic source.
type Candidate struct {
	Topic    string  `json:"topic"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
}

// Selection is the outcome of Filter.
type Selection struct {
	Found              int         `json:"found_count"`
	Eligible           int         `json:"eligible_count"`
	Accepted           []Candidate `json:"accepted"`
	SkippedDuplicates  int         `json:"skipped_duplicates"`
	SkippedUnqueueable int         `json:"skipped_unqueueable"`
}

// Key normalizes a topic for duplicate detection.
func Key(topic string) string {
	k := nonKeyChars.ReplaceAllString(strings.ToLower(topic), " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(k, " "))
}

// Queueable reports whether topic looks like a usable article topic.
func Queueable(topic string) bool {
	t := strings.TrimSpace(topic)
	n := utf8.RuneCountInString(t)
	if n < MinTopicLength || n > MaxTopicLength {
		return false
	}

	lower := strings.ToLower(t)
	for _, phrase := range bannedPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	if strings.Count(t, ".") > 1 || strings.Count(t, "!") > 1 || strings.Count(t, "?") > 1 {
		return false
	}
	if strings.Contains(t, "$") && n > MaxDollarTopicLength {
		return false
	}
	return true
}

// KeySet builds the set of keys of existing topics.
func KeySet(existing []string) map[string]struct{} {
	keys := make(map[string]struct{}, len(existing))
	for _, topic := range existing {
		if k := Key(topic); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}

// Filter drops candidates below minScore, orders the rest by score
// (stable), and accepts up to topN that neither collide with existing keys
// or earlier accepted candidates nor fail Queueable. existing is not
// modified.
func Filter(candidates []Candidate, existing map[string]struct{}, minScore float64, topN int) Selection {
	sel := Selection{Found: len(candidates)}

	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.Topic = strings.TrimSpace(c.Topic)
		if c.Topic == "" || c.Score < minScore {
			continue
		}
		eligible = append(eligible, c)
	}
	sel.Eligible = len(eligible)

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Score > eligible[j].Score
	})

	seen := make(map[string]struct{}, len(existing)+topN)
	for k := range existing {
		seen[k] = struct{}{}
	}

	for _, c := range eligible {
		if len(sel.Accepted) >= topN {
			break
		}
		key := Key(c.Topic)
		if _, dup := seen[key]; dup || key == "" {
			sel.SkippedDuplicates++
			continue
		}
		if !Queueable(c.Topic) {
			sel.SkippedUnqueueable++
			continue
		}
		seen[key] = struct{}{}
		sel.Accepted = append(sel.Accepted, c)
	}
	return sel
}
