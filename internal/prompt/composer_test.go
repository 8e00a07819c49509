package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freespace-backend/internal/classify"
	"freespace-backend/internal/session"
)

func testSet() Set {
	return Set{
		Name:      "Maya",
		UserLabel: "Student",
		Opening:   "This is the start of our conversation.",
		Base:      "You are {{.Name}}. Mood: {{.Context.Mood}}. Problems: {{list .Context.DetectedTopics \"None identified yet\"}}.\n",
		Welcome:   "Greet {{.Context.DisplayName}} who feels {{.Context.Mood}}.",
		Categories: map[classify.Category]string{
			classify.General: "{{template \"base\" .}}History:\n{{.Transcript}}\n{{.UserLabel}} says: \"{{.Message}}\"\n",
			"exam_support":   "{{template \"base\" .}}Exam focus. Stress: {{stress .Context.StressLevel}}.\n{{.Transcript}}\n{{.Message}}",
		},
	}
}

func testContext() session.Context {
	return session.Context{
		SessionStart:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Mood:           session.MoodSad,
		StressLevel:    session.StressVeryHigh,
		DetectedTopics: []string{"exam anxiety", "academic stress"},
		DisplayName:    "Asha",
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	c, err := New(testSet())
	require.NoError(t, err)

	recent := []session.Exchange{{UserText: "hi", AssistantText: "hello there"}}
	a, err := c.Compose(classify.General, testContext(), recent, "I feel lost")
	require.NoError(t, err)
	b, err := c.Compose(classify.General, testContext(), recent, "I feel lost")
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("compose not deterministic (-first +second):\n%s", diff)
	}

	want := "You are Maya. Mood: sad. Problems: exam anxiety, academic stress.\n" +
		"History:\nStudent: hi\nMaya: hello there\n\nStudent says: \"I feel lost\"\n"
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("unexpected prompt (-want +got):\n%s", diff)
	}
}

func TestComposeEmbedsUtteranceVerbatim(t *testing.T) {
	c, err := New(testSet())
	require.NoError(t, err)
	raw := `<script>alert("x")</script> & {{.Name}}`
	out, err := c.Compose(classify.General, testContext(), nil, raw)
	require.NoError(t, err)
	assert.Contains(t, out, raw)
}

func TestComposeEmptyHistoryUsesOpening(t *testing.T) {
	c, err := New(testSet())
	require.NoError(t, err)
	out, err := c.Compose("exam_support", testContext(), nil, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "This is the start of our conversation.")
	assert.Contains(t, out, "Stress: very high.")
}

func TestComposeUnknownCategoryFallsBackToGeneral(t *testing.T) {
	c, err := New(testSet())
	require.NoError(t, err)
	out, err := c.Compose("made_up", testContext(), nil, "hello")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "Student says:"))
}

func TestNewRequiresGeneral(t *testing.T) {
	s := testSet()
	delete(s.Categories, classify.General)
	_, err := New(s)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestComposeRejectsBlankOutput(t *testing.T) {
	c, err := New(Set{Name: "X", Categories: map[classify.Category]string{classify.General: "  {{.Message}}  "}})
	require.NoError(t, err)
	_, err = c.Compose(classify.General, session.Context{}, nil, "")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestComposeWelcome(t *testing.T) {
	c, err := New(testSet())
	require.NoError(t, err)
	out, err := c.ComposeWelcome(testContext())
	require.NoError(t, err)
	assert.Equal(t, "Greet Asha who feels sad.", out)

	noWelcome := testSet()
	noWelcome.Welcome = ""
	c, err = New(noWelcome)
	require.NoError(t, err)
	_, err = c.ComposeWelcome(testContext())
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestGreeting(t *testing.T) {
	s := testSet()
	s.Greeting = "Hello {{or .Context.DisplayName \"Parent\"}}!"
	c, err := New(s)
	require.NoError(t, err)
	out, err := c.Greeting(session.Context{})
	require.NoError(t, err)
	assert.Equal(t, "Hello Parent!", out)
}
