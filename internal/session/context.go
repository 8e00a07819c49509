// Package session holds the per-conversation state of an assistant: the
// context record built up from keyword detectors and the exchange history.
package session

import (
	"strings"
	"time"
)

type Mood string

const (
	MoodUnknown    Mood = "unknown"
	MoodSad        Mood = "sad"
	MoodHappy      Mood = "happy"
	MoodStressed   Mood = "stressed"
	MoodManageable Mood = "manageable"
	MoodImproving  Mood = "improving"
	MoodStruggling Mood = "struggling"
)

// ParseMood returns MoodUnknown for anything outside the enumeration.
func ParseMood(s string) Mood {
	switch m := Mood(normalizeEnum(s)); m {
	case MoodSad, MoodHappy, MoodStressed, MoodManageable, MoodImproving, MoodStruggling:
		return m
	}
	return MoodUnknown
}

type StressLevel string

const (
	StressUnknown  StressLevel = "unknown"
	StressLow      StressLevel = "low"
	StressModerate StressLevel = "moderate"
	StressMedium   StressLevel = "medium"
	StressHigh     StressLevel = "high"
	StressVeryHigh StressLevel = "very_high"
)

// ParseStressLevel accepts the spellings the web clients send
// ("very high", "Very-High", "very_high").
func ParseStressLevel(s string) StressLevel {
	switch l := StressLevel(normalizeEnum(s)); l {
	case StressLow, StressModerate, StressMedium, StressHigh, StressVeryHigh:
		return l
	}
	return StressUnknown
}

// Elevated reports whether the level counts as high stress.
func (l StressLevel) Elevated() bool {
	return l == StressHigh || l == StressVeryHigh
}

// Label is the human form used inside prompts.
func (l StressLevel) Label() string {
	return strings.ReplaceAll(string(l), "_", " ")
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), "_")
}

// Context is the mutable record a pipeline turn reads and updates.
// Fields are only ever overwritten with a newer value or appended to.
type Context struct {
	SessionStart    time.Time   `json:"sessionStart"`
	CurrentTopic    string      `json:"currentTopic"`
	Mood            Mood        `json:"mood"`
	StressLevel     StressLevel `json:"stressLevel"`
	DetectedTopics  []string    `json:"detectedTopics"`
	Preferences     []string    `json:"preferences"`
	DisplayName     string      `json:"displayName,omitempty"`
	HappinessScore  *int        `json:"happinessScore,omitempty"`
	WorkEnvironment string      `json:"workEnvironment,omitempty"`
	Language        string      `json:"language,omitempty"`
}

// AddTopic appends label unless it is already present.
func (c *Context) AddTopic(label string) bool {
	return appendUnique(&c.DetectedTopics, label)
}

// AddPreference appends label unless it is already present.
func (c *Context) AddPreference(label string) bool {
	return appendUnique(&c.Preferences, label)
}

// Snapshot returns a deep copy safe to hand outside the session lock.
func (c Context) Snapshot() Context {
	out := c
	out.DetectedTopics = append([]string{}, c.DetectedTopics...)
	out.Preferences = append([]string{}, c.Preferences...)
	if c.HappinessScore != nil {
		v := *c.HappinessScore
		out.HappinessScore = &v
	}
	return out
}

func appendUnique(set *[]string, label string) bool {
	label = strings.TrimSpace(label)
	if label == "" {
		return false
	}
	for _, existing := range *set {
		if existing == label {
			return false
		}
	}
	*set = append(*set, label)
	return true
}
