package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	ttl    time.Duration
	counts map[string]int
}

func (f *fakeSessions) EvictIdle(ttl time.Duration) int {
	f.ttl = ttl
	return 2
}

func (f *fakeSessions) CountByPersona() map[string]int { return f.counts }

type fakeJobs struct{ age time.Duration }

func (f *fakeJobs) Prune(age time.Duration) int {
	f.age = age
	return 1
}

func TestSweep(t *testing.T) {
	sessions := &fakeSessions{counts: map[string]int{"student": 3}}
	jobs := &fakeJobs{}
	var gotCounts map[string]int
	var gotEvicted int
	s, err := New(Config{SessionTTL: 30 * time.Minute, JobTTL: 10 * time.Minute}, sessions, jobs, zerolog.Nop(),
		func(c map[string]int, evicted int) {
			gotCounts = c
			gotEvicted = evicted
		})
	require.NoError(t, err)

	s.Sweep()
	assert.Equal(t, 30*time.Minute, sessions.ttl)
	assert.Equal(t, 10*time.Minute, jobs.age)
	assert.Equal(t, map[string]int{"student": 3}, gotCounts)
	assert.Equal(t, 2, gotEvicted)
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(Config{Spec: "not a cron"}, nil, nil, zerolog.Nop(), nil)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := New(Config{Spec: "@every 1h"}, &fakeSessions{}, nil, zerolog.Nop(), nil)
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
