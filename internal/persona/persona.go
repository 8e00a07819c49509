// Package persona loads the assistant personas: their classification
// rules, keyword detectors, prompt templates and canned replies.
package persona

import (
	"errors"
	"fmt"
	"strings"

	"freespace-backend/internal/classify"
	"freespace-backend/internal/prompt"
	"freespace-backend/internal/session"
	"freespace-backend/internal/speech"
	"freespace-backend/internal/voice"
)

var ErrInvalidPersona = errors.New("invalid persona")

const defaultHistoryWindow = 3

// Spec is one persona as written in YAML.
type Spec struct {
	Key           string             `yaml:"key"`
	Aliases       []string           `yaml:"aliases,omitempty"`
	Name          string             `yaml:"name"`
	Audience      string             `yaml:"audience"`
	UserLabel     string             `yaml:"userLabel"`
	HistoryWindow int                `yaml:"historyWindow"`
	Opening       string             `yaml:"opening"`
	Initial       Initial            `yaml:"initial"`
	Rules         []classify.Rule    `yaml:"rules"`
	Detectors     classify.Detectors `yaml:"detectors"`
	Templates     Templates          `yaml:"templates"`
	Fallback      string             `yaml:"fallback"`
	Speech        speech.Messages    `yaml:"speech"`
	Voice         voice.Profile      `yaml:"voice"`
}

type Initial struct {
	Mood            string `yaml:"mood"`
	StressLevel     string `yaml:"stressLevel"`
	DisplayName     string `yaml:"displayName"`
	WorkEnvironment string `yaml:"workEnvironment"`
	Language        string `yaml:"language"`
}

type Templates struct {
	Base       string            `yaml:"base"`
	Welcome    string            `yaml:"welcome"`
	Greeting   string            `yaml:"greeting"`
	Categories map[string]string `yaml:"categories"`
}

// Persona is a validated Spec with its classifier and composer built.
type Persona struct {
	Spec
	classifier *classify.Classifier
	composer   *prompt.Composer
}

// Compile validates s and builds the runtime pieces.
func Compile(s Spec) (*Persona, error) {
	s.Key = strings.ToLower(strings.TrimSpace(s.Key))
	switch {
	case s.Key == "":
		return nil, fmt.Errorf("%w: missing key", ErrInvalidPersona)
	case s.Name == "":
		return nil, fmt.Errorf("%w %q: missing name", ErrInvalidPersona, s.Key)
	case strings.TrimSpace(s.Fallback) == "":
		return nil, fmt.Errorf("%w %q: missing fallback", ErrInvalidPersona, s.Key)
	}
	if s.HistoryWindow <= 0 {
		s.HistoryWindow = defaultHistoryWindow
	}
	if s.UserLabel == "" {
		s.UserLabel = "User"
	}

	cats := make(map[classify.Category]string, len(s.Templates.Categories))
	for k, v := range s.Templates.Categories {
		cats[classify.Category(k)] = v
	}
	for _, r := range s.Rules {
		if _, ok := cats[r.Category]; !ok && r.Category != classify.General {
			return nil, fmt.Errorf("%w %q: rule category %q has no template", ErrInvalidPersona, s.Key, r.Category)
		}
	}
	comp, err := prompt.New(prompt.Set{
		Name:       s.Name,
		UserLabel:  s.UserLabel,
		Opening:    s.Opening,
		Base:       s.Templates.Base,
		Welcome:    s.Templates.Welcome,
		Greeting:   s.Templates.Greeting,
		Categories: cats,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPersona, err)
	}
	return &Persona{
		Spec:       s,
		classifier: classify.NewClassifier(s.Rules),
		composer:   comp,
	}, nil
}

func (p *Persona) Classifier() *classify.Classifier { return p.classifier }

func (p *Persona) Composer() *prompt.Composer { return p.composer }

// Defaults are the starting context values for a new session.
func (p *Persona) Defaults() session.Defaults {
	d := session.Defaults{
		DisplayName:     p.Initial.DisplayName,
		WorkEnvironment: p.Initial.WorkEnvironment,
		Language:        p.Initial.Language,
		Mood:            session.MoodUnknown,
		StressLevel:     session.StressUnknown,
	}
	if p.Initial.Mood != "" {
		d.Mood = session.ParseMood(p.Initial.Mood)
	}
	if p.Initial.StressLevel != "" {
		d.StressLevel = session.ParseStressLevel(p.Initial.StressLevel)
	}
	return d
}
