// Package scheduler runs periodic housekeeping: evicting idle sessions and
// forgetting finished speak jobs.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sessions is the part of the session store the janitor needs.
type Sessions interface {
	EvictIdle(ttl time.Duration) int
	CountByPersona() map[string]int
}

// Jobs is the part of the speak worker the janitor needs.
type Jobs interface {
	Prune(age time.Duration) int
}

type Config struct {
	// Spec is a cron expression; descriptors such as "@every 1m" work.
	Spec       string
	SessionTTL time.Duration
	JobTTL     time.Duration
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron     *cron.Cron
	cfg      Config
	sessions Sessions
	jobs     Jobs
	logger   zerolog.Logger
	onSweep  func(counts map[string]int, evicted int)
}

func New(cfg Config, sessions Sessions, jobs Jobs, logger zerolog.Logger, onSweep func(map[string]int, int)) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = "@every 1m"
	}
	s := &Scheduler{
		cron:     cron.New(),
		cfg:      cfg,
		sessions: sessions,
		jobs:     jobs,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		onSweep:  onSweep,
	}
	if _, err := s.cron.AddFunc(cfg.Spec, s.Sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one housekeeping pass.
func (s *Scheduler) Sweep() {
	evicted := 0
	if s.sessions != nil {
		evicted = s.sessions.EvictIdle(s.cfg.SessionTTL)
	}
	pruned := 0
	if s.jobs != nil && s.cfg.JobTTL > 0 {
		pruned = s.jobs.Prune(s.cfg.JobTTL)
	}
	if evicted > 0 || pruned > 0 {
		s.logger.Info().Int("evicted_sessions", evicted).Int("pruned_jobs", pruned).Msg("housekeeping")
	}
	if s.onSweep != nil && s.sessions != nil {
		s.onSweep(s.sessions.CountByPersona(), evicted)
	}
}
