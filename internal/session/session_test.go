package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestParseStressLevel(t *testing.T) {
	cases := map[string]StressLevel{
		"very high": StressVeryHigh,
		"Very-High": StressVeryHigh,
		"very_high": StressVeryHigh,
		" HIGH ":    StressHigh,
		"medium":    StressMedium,
		"extreme":   StressUnknown,
		"":          StressUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseStressLevel(in), "input %q", in)
	}
	assert.Equal(t, "very high", StressVeryHigh.Label())
}

func TestParseMood(t *testing.T) {
	assert.Equal(t, MoodImproving, ParseMood("Improving"))
	assert.Equal(t, MoodUnknown, ParseMood("ecstatic"))
}

func TestNewSessionSeedsMood(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	sad := NewSession("a", "student", Defaults{Mood: MoodSad}, StartOptions{HappinessScore: intPtr(40)}, now)
	sad.View(func(c Context, _ []Exchange) {
		assert.Equal(t, MoodSad, c.Mood)
		require.NotNil(t, c.HappinessScore)
		assert.Equal(t, 40, *c.HappinessScore)
		assert.Equal(t, now, c.SessionStart)
	})

	happy := NewSession("b", "student", Defaults{Mood: MoodSad}, StartOptions{HappinessScore: intPtr(80)}, now)
	happy.View(func(c Context, _ []Exchange) {
		assert.Equal(t, MoodHappy, c.Mood)
	})

	calm := NewSession("c", "professional", Defaults{Mood: MoodStressed, StressLevel: StressHigh},
		StartOptions{StressLevel: StressLow, WorkEnvironment: "remote"}, now)
	calm.View(func(c Context, _ []Exchange) {
		assert.Equal(t, MoodManageable, c.Mood)
		assert.Equal(t, StressLow, c.StressLevel)
		assert.Equal(t, "remote", c.WorkEnvironment)
	})
}

func TestContextSetsAreOrderedAndUnique(t *testing.T) {
	var c Context
	assert.True(t, c.AddTopic("exam anxiety"))
	assert.True(t, c.AddTopic("academic stress"))
	assert.False(t, c.AddTopic("exam anxiety"))
	assert.False(t, c.AddTopic("  "))
	assert.Equal(t, []string{"exam anxiety", "academic stress"}, c.DetectedTopics)

	snap := c.Snapshot()
	snap.DetectedTopics[0] = "changed"
	assert.Equal(t, "exam anxiety", c.DetectedTopics[0])
}

func TestHistoryRecent(t *testing.T) {
	var h History
	assert.Nil(t, h.Recent(3))
	for i := 0; i < 5; i++ {
		h.Append(Exchange{UserText: string(rune('a' + i))})
	}
	recent := h.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].UserText)
	assert.Equal(t, "e", recent[2].UserText)
	assert.Len(t, h.Recent(10), 5)
	assert.Equal(t, 5, h.Len())
}

func TestResetRebuildsFromStartOptions(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSession("id", "student", Defaults{Mood: MoodSad}, StartOptions{Name: "Asha", HappinessScore: intPtr(90)}, start)

	require.NoError(t, s.Turn(func(c *Context, h *History) error {
		c.Mood = MoodStruggling
		c.CurrentTopic = "exam_support"
		c.AddTopic("exam anxiety")
		h.Append(Exchange{UserText: "hi", AssistantText: "hello"})
		return nil
	}))
	s.SetState(StateDegraded)

	later := start.Add(time.Hour)
	c := s.Reset(later)
	assert.Equal(t, later, c.SessionStart)
	assert.Equal(t, MoodHappy, c.Mood)
	assert.Equal(t, "Asha", c.DisplayName)
	assert.Empty(t, c.DetectedTopics)
	assert.Empty(t, c.CurrentTopic)
	assert.Equal(t, StateIdle, s.State())
	s.View(func(_ Context, h []Exchange) {
		assert.Empty(t, h)
	})
}

func TestTurnSerializes(t *testing.T) {
	s := NewSession("id", "parent", Defaults{}, StartOptions{}, time.Now())
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Turn(func(c *Context, h *History) error {
				before := h.Len()
				h.Append(Exchange{UserText: "x"})
				if h.Len() != before+1 {
					t.Errorf("interleaved append")
				}
				return nil
			})
		}()
	}
	wg.Wait()
	s.View(func(_ Context, h []Exchange) {
		assert.Len(t, h, n)
	})
}
