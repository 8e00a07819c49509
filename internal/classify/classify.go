// Package classify maps an utterance to a response category and runs the
// keyword detectors that update a session context.
package classify

import (
	"strings"
)

type Category string

// General is the catch-all category every classifier can return.
const General Category = "general"

// Rule matches when any AnyOf substring is present and no NoneOf substring
// is present. Keywords are compared in lower case.
type Rule struct {
	Category Category `yaml:"category"`
	AnyOf    []string `yaml:"anyOf"`
	NoneOf   []string `yaml:"noneOf,omitempty"`
}

func (r Rule) matches(m string) bool {
	return containsAny(m, r.AnyOf) && !containsAny(m, r.NoneOf)
}

// Classifier evaluates an ordered rule table. The first matching rule wins.
type Classifier struct {
	rules []Rule
}

func NewClassifier(rules []Rule) *Classifier {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, Rule{
			Category: r.Category,
			AnyOf:    lowerAll(r.AnyOf),
			NoneOf:   lowerAll(r.NoneOf),
		})
	}
	return &Classifier{rules: out}
}

// Classify is total: empty input and unmatched input both return General.
func (c *Classifier) Classify(utterance string) Category {
	m := strings.ToLower(strings.TrimSpace(utterance))
	if m == "" {
		return General
	}
	for _, r := range c.rules {
		if r.matches(m) {
			return r.Category
		}
	}
	return General
}

// Categories lists every category the classifier can return, in rule
// order, ending with General.
func (c *Classifier) Categories() []Category {
	seen := map[Category]bool{}
	var out []Category
	for _, r := range c.rules {
		if !seen[r.Category] && r.Category != General {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return append(out, General)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
