package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is where a session's current turn sits in the response pipeline.
type State string

const (
	StateIdle               State = "idle"
	StateClassifying        State = "classifying"
	StateComposing          State = "composing"
	StateAwaitingGeneration State = "awaiting_generation"
	StateRecording          State = "recording"
	StateDegraded           State = "degraded"
)

// StartOptions are the caller-supplied values a session is seeded with.
// They are kept so a reset can rebuild the same starting context.
type StartOptions struct {
	Name            string
	HappinessScore  *int
	StressLevel     StressLevel
	WorkEnvironment string
	Language        string
}

// Defaults are the persona's starting values for a fresh context.
type Defaults struct {
	Mood            Mood
	StressLevel     StressLevel
	DisplayName     string
	WorkEnvironment string
	Language        string
}

// happinessThreshold splits the onboarding happiness score into sad/happy.
const happinessThreshold = 80

// Session owns exactly one Context and one History. Turn serializes all
// read-modify-append work on them.
type Session struct {
	ID      string
	Persona string

	mu       sync.Mutex
	ctx      Context
	history  History
	opts     StartOptions
	defaults Defaults

	state      atomic.Value
	lastActive atomic.Int64
}

func NewSession(id, persona string, defaults Defaults, opts StartOptions, now time.Time) *Session {
	s := &Session{
		ID:       id,
		Persona:  persona,
		opts:     opts,
		defaults: defaults,
	}
	s.ctx = buildContext(now, defaults, opts)
	s.state.Store(StateIdle)
	s.touch(now)
	return s
}

func buildContext(now time.Time, d Defaults, o StartOptions) Context {
	c := Context{
		SessionStart:    now,
		CurrentTopic:    "",
		Mood:            d.Mood,
		StressLevel:     d.StressLevel,
		DetectedTopics:  []string{},
		Preferences:     []string{},
		DisplayName:     d.DisplayName,
		WorkEnvironment: d.WorkEnvironment,
		Language:        d.Language,
	}
	if c.Mood == "" {
		c.Mood = MoodUnknown
	}
	if c.StressLevel == "" {
		c.StressLevel = StressUnknown
	}
	if o.Name != "" {
		c.DisplayName = o.Name
	}
	if o.WorkEnvironment != "" {
		c.WorkEnvironment = o.WorkEnvironment
	}
	if o.Language != "" {
		c.Language = o.Language
	}
	if o.HappinessScore != nil {
		v := *o.HappinessScore
		c.HappinessScore = &v
		if v < happinessThreshold {
			c.Mood = MoodSad
		} else {
			c.Mood = MoodHappy
		}
	}
	if o.StressLevel != "" && o.StressLevel != StressUnknown {
		c.StressLevel = o.StressLevel
		if o.StressLevel.Elevated() {
			c.Mood = MoodStressed
		} else {
			c.Mood = MoodManageable
		}
	}
	return c
}

// Turn runs fn with exclusive access to the context and history.
func (s *Session) Turn(fn func(c *Context, h *History) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(time.Now())
	defer func() { s.touch(time.Now()) }()
	return fn(&s.ctx, &s.history)
}

// View gives fn a consistent read of the session. It waits for any
// in-flight turn to finish.
func (s *Session) View(fn func(c Context, h []Exchange)) {
	s.mu.Lock()
	c := s.ctx.Snapshot()
	h := s.history.All()
	s.mu.Unlock()
	fn(c, h)
}

// Reset discards the context and history and rebuilds them from the
// start options it was created with, under a new session start.
func (s *Session) Reset(now time.Time) Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = buildContext(now, s.defaults, s.opts)
	s.history = History{}
	s.state.Store(StateIdle)
	s.touch(now)
	return s.ctx.Snapshot()
}

func (s *Session) State() State {
	st, _ := s.state.Load().(State)
	return st
}

func (s *Session) SetState(st State) {
	s.state.Store(st)
}

func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}
