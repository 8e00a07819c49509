// Package prompt renders persona prompt templates from a session context,
// a window of recent exchanges and the user's utterance.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"freespace-backend/internal/classify"
	"freespace-backend/internal/session"
)

var (
	ErrEmptyPrompt     = errors.New("prompt rendered empty")
	ErrUnknownTemplate = errors.New("no template for category")
)

const (
	baseName     = "base"
	welcomeName  = "welcome"
	greetingName = "greeting"
)

// Set is the raw template text for one persona.
type Set struct {
	Name       string
	UserLabel  string
	Opening    string
	Base       string
	Welcome    string
	Greeting   string
	Categories map[classify.Category]string
}

// Data is what every template is executed with.
type Data struct {
	Name       string
	UserLabel  string
	Category   classify.Category
	Context    session.Context
	Transcript string
	Message    string
}

// Composer is immutable once built and safe for concurrent use.
type Composer struct {
	name      string
	userLabel string
	opening   string
	tmpl      *template.Template
}

var funcs = template.FuncMap{
	"list": func(items []string, empty string) string {
		if len(items) == 0 {
			return empty
		}
		return strings.Join(items, ", ")
	},
	"lower": strings.ToLower,
	"stress": func(l session.StressLevel) string { return l.Label() },
}

// New parses every template in the set. A category named "general" must be
// present; it is used for any category without its own template.
func New(s Set) (*Composer, error) {
	if _, ok := s.Categories[classify.General]; !ok {
		return nil, fmt.Errorf("persona %q: %w %q", s.Name, ErrUnknownTemplate, classify.General)
	}
	root := template.New(baseName).Funcs(funcs).Option("missingkey=zero")
	if _, err := root.Parse(s.Base); err != nil {
		return nil, fmt.Errorf("persona %q: parse base: %w", s.Name, err)
	}
	if s.Welcome != "" {
		if _, err := root.New(welcomeName).Parse(s.Welcome); err != nil {
			return nil, fmt.Errorf("persona %q: parse welcome: %w", s.Name, err)
		}
	}
	if s.Greeting != "" {
		if _, err := root.New(greetingName).Parse(s.Greeting); err != nil {
			return nil, fmt.Errorf("persona %q: parse greeting: %w", s.Name, err)
		}
	}
	for cat, text := range s.Categories {
		if _, err := root.New(categoryName(cat)).Parse(text); err != nil {
			return nil, fmt.Errorf("persona %q: parse %s: %w", s.Name, cat, err)
		}
	}
	return &Composer{
		name:      s.Name,
		userLabel: s.UserLabel,
		opening:   s.Opening,
		tmpl:      root,
	}, nil
}

func categoryName(c classify.Category) string {
	return "category:" + string(c)
}

// Compose is a pure function of its arguments. The utterance is embedded
// verbatim.
func (c *Composer) Compose(category classify.Category, ctx session.Context, recent []session.Exchange, utterance string) (string, error) {
	name := categoryName(category)
	if c.tmpl.Lookup(name) == nil {
		name = categoryName(classify.General)
	}
	return c.render(name, Data{
		Name:       c.name,
		UserLabel:  c.userLabel,
		Category:   category,
		Context:    ctx,
		Transcript: c.Transcript(recent),
		Message:    utterance,
	})
}

// ComposeWelcome renders the prompt that asks the model for a greeting.
func (c *Composer) ComposeWelcome(ctx session.Context) (string, error) {
	return c.renderStatic(welcomeName, ctx)
}

// Greeting renders the static greeting used when no model is reachable.
func (c *Composer) Greeting(ctx session.Context) (string, error) {
	return c.renderStatic(greetingName, ctx)
}

func (c *Composer) renderStatic(name string, ctx session.Context) (string, error) {
	if c.tmpl.Lookup(name) == nil {
		return "", fmt.Errorf("persona %q: %w %q", c.name, ErrUnknownTemplate, name)
	}
	return c.render(name, Data{
		Name:      c.name,
		UserLabel: c.userLabel,
		Category:  classify.General,
		Context:   ctx,
	})
}

// Transcript renders exchanges as "<UserLabel>: ...\n<Name>: ...\n". An empty
// window renders the opening line.
func (c *Composer) Transcript(recent []session.Exchange) string {
	if len(recent) == 0 {
		return c.opening
	}
	var b strings.Builder
	for _, e := range recent {
		fmt.Fprintf(&b, "%s: %s\n%s: %s\n", c.userLabel, e.UserText, c.name, e.AssistantText)
	}
	return b.String()
}

func (c *Composer) render(name string, d Data) (string, error) {
	var buf bytes.Buffer
	if err := c.tmpl.ExecuteTemplate(&buf, name, d); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	out := buf.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("render %s: %w", name, ErrEmptyPrompt)
	}
	return out, nil
}
