// Package pipeline runs one chat turn: detect, classify, compose, generate
// and record, degrading to a persona fallback when generation fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"freespace-backend/internal/classify"
	"freespace-backend/internal/llm"
	"freespace-backend/internal/persona"
	"freespace-backend/internal/session"
)

var ErrEmptyMessage = errors.New("no message provided")

const (
	OutcomeSuccess  = "success"
	OutcomeFallback = "fallback"

	DefaultTimeout = 30 * time.Second
)

// Observer is told about every state change and finished turn.
type Observer interface {
	StateChanged(persona string, st session.State)
	Attempt(generator string, attempt int, err error, took time.Duration)
	TurnFinished(persona string, category classify.Category, outcome string, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, session.State)                            {}
func (nopObserver) Attempt(string, int, error, time.Duration)                     {}
func (nopObserver) TurnFinished(string, classify.Category, string, time.Duration) {}

// Turn is one user utterance.
type Turn struct {
	Message  string
	Language string
}

// Result is what a turn produced. On failure Success is false and Text is
// the persona fallback; Err carries the cause for logging only.
type Result struct {
	Success   bool
	Text      string
	Category  classify.Category
	Context   session.Context
	Count     int
	Timestamp time.Time
	Err       error
}

type Pipeline struct {
	gen      llm.Generator
	policy   RetryPolicy
	timeout  time.Duration
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Pipeline)

func WithRetryPolicy(p RetryPolicy) Option { return func(pl *Pipeline) { pl.policy = p } }

// WithTimeout bounds each generation attempt.
func WithTimeout(d time.Duration) Option { return func(pl *Pipeline) { pl.timeout = d } }

func WithObserver(o Observer) Option { return func(pl *Pipeline) { pl.observer = o } }

func WithClock(now func() time.Time) Option { return func(pl *Pipeline) { pl.now = now } }

func New(gen llm.Generator, logger zerolog.Logger, opts ...Option) *Pipeline {
	if gen == nil {
		gen = llm.Unavailable{}
	}
	p := &Pipeline{
		gen:      gen,
		policy:   DefaultRetryPolicy(),
		timeout:  DefaultTimeout,
		observer: nopObserver{},
		logger:   logger.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Generator exposes the configured generator for health reporting.
func (p *Pipeline) Generator() llm.Generator { return p.gen }

func (p *Pipeline) setState(s *session.Session, st session.State) {
	s.SetState(st)
	p.observer.StateChanged(s.Persona, st)
}

// Respond runs one turn for s. An empty message is rejected before any
// state is touched. Generation failures are not errors: the result carries
// the fallback text and nothing is appended to history.
func (p *Pipeline) Respond(ctx context.Context, s *session.Session, per *persona.Persona, t Turn) (Result, error) {
	msg := strings.TrimSpace(t.Message)
	if msg == "" {
		return Result{}, ErrEmptyMessage
	}
	start := p.now()
	var res Result

	err := s.Turn(func(c *session.Context, h *session.History) error {
		p.setState(s, session.StateClassifying)
		per.Detectors.Apply(c, msg)
		cat := per.Classifier().Classify(msg)
		c.CurrentTopic = string(cat)
		if lang := strings.TrimSpace(t.Language); lang != "" {
			c.Language = lang
		}
		res.Category = cat

		p.setState(s, session.StateComposing)
		prompt, err := per.Composer().Compose(cat, c.Snapshot(), h.Recent(per.HistoryWindow), msg)
		if err == nil {
			p.setState(s, session.StateAwaitingGeneration)
			var text string
			text, err = p.generate(ctx, prompt)
			if err == nil {
				p.setState(s, session.StateRecording)
				h.Append(session.Exchange{
					UserText:      msg,
					AssistantText: text,
					Timestamp:     p.now(),
					Category:      string(cat),
				})
				res.Success = true
				res.Text = text
			}
		}
		if err != nil {
			res.Err = err
			res.Text = per.Fallback
			p.setState(s, session.StateDegraded)
		} else {
			p.setState(s, session.StateIdle)
		}
		res.Context = c.Snapshot()
		res.Count = h.Len()
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Timestamp = p.now()

	outcome := OutcomeSuccess
	if !res.Success {
		outcome = OutcomeFallback
		p.logger.Error().Err(res.Err).
			Str("persona", s.Persona).
			Str("session", s.ID).
			Str("category", string(res.Category)).
			Msg("generation failed, answering with fallback")
	} else {
		p.logger.Debug().
			Str("persona", s.Persona).
			Str("session", s.ID).
			Str("category", string(res.Category)).
			Int("count", res.Count).
			Msg("turn recorded")
	}
	p.observer.TurnFinished(s.Persona, res.Category, outcome, p.now().Sub(start))
	return res, nil
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := p.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		actx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		began := p.now()
		text, err := p.gen.Generate(actx, prompt)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				err = llm.ErrEmptyResponse
			}
		}
		p.observer.Attempt(p.gen.Name(), attempt, err, p.now().Sub(began))
		if err != nil {
			p.logger.Warn().Err(err).Int("attempt", attempt).Str("generator", p.gen.Name()).Msg("generation attempt failed")
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out, nil
}

// Welcome produces the opening message for a fresh session. The bool is
// true when the model wrote it; otherwise the static greeting is used.
func (p *Pipeline) Welcome(ctx context.Context, s *session.Session, per *persona.Persona) (string, bool) {
	var snap session.Context
	s.View(func(c session.Context, _ []session.Exchange) { snap = c })

	if prompt, err := per.Composer().ComposeWelcome(snap); err == nil {
		text, err := p.generate(ctx, prompt)
		if err == nil {
			return text, true
		}
		p.logger.Warn().Err(err).Str("persona", per.Key).Msg("welcome generation failed, using greeting")
	}
	greeting, err := per.Composer().Greeting(snap)
	if err != nil {
		p.logger.Error().Err(err).Str("persona", per.Key).Msg("render greeting")
		return per.Fallback, false
	}
	return strings.TrimSpace(greeting), false
}
