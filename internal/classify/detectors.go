package classify

import (
	"sort"
	"strings"

	"freespace-backend/internal/session"
)

// Label appends Label to a context set when any AnyOf keyword appears and
// no NoneOf keyword does.
type Label struct {
	AnyOf  []string `yaml:"anyOf"`
	NoneOf []string `yaml:"noneOf,omitempty"`
	Label  string   `yaml:"label"`
}

// MoodRule overwrites the mood when any keyword appears.
type MoodRule struct {
	Keywords []string     `yaml:"keywords"`
	Mood     session.Mood `yaml:"mood"`
}

// StressTier overwrites the stress level when any keyword appears.
type StressTier struct {
	Keywords []string            `yaml:"keywords"`
	Level    session.StressLevel `yaml:"level"`
}

// Detectors is a persona's set of keyword detectors. All of them run on
// every turn regardless of the category the utterance was classified as.
type Detectors struct {
	Topics      []Label      `yaml:"topics"`
	Preferences []Label      `yaml:"preferences"`
	Moods       []MoodRule   `yaml:"moods"`
	Stress      []StressTier `yaml:"stress"`
}

// Apply updates c from the utterance. Labels are appended in order of
// where their keyword first occurs in the utterance, table order breaking
// ties. Mood and stress take the first matching tier; no match leaves them
// unchanged.
func (d Detectors) Apply(c *session.Context, utterance string) {
	m := strings.ToLower(strings.TrimSpace(utterance))
	if m == "" {
		return
	}
	for _, l := range matchLabels(d.Topics, m) {
		c.AddTopic(l)
	}
	for _, l := range matchLabels(d.Preferences, m) {
		c.AddPreference(l)
	}
	for _, r := range d.Moods {
		if containsAny(m, lowerAll(r.Keywords)) {
			c.Mood = r.Mood
			break
		}
	}
	for _, t := range d.Stress {
		if containsAny(m, lowerAll(t.Keywords)) {
			c.StressLevel = t.Level
			break
		}
	}
}

type hit struct {
	pos   int
	order int
	label string
}

func matchLabels(table []Label, m string) []string {
	var hits []hit
	for i, l := range table {
		if containsAny(m, lowerAll(l.NoneOf)) {
			continue
		}
		pos := firstIndex(m, lowerAll(l.AnyOf))
		if pos < 0 {
			continue
		}
		hits = append(hits, hit{pos: pos, order: i, label: l.Label})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].order < hits[j].order
	})
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.label)
	}
	return out
}

func firstIndex(s string, needles []string) int {
	best := -1
	for _, n := range needles {
		if i := strings.Index(s, n); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}
