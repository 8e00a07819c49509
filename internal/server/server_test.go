package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"freespace-backend/internal/config"
	"freespace-backend/internal/persona"
	"freespace-backend/internal/pipeline"
	"freespace-backend/internal/speech"
	"freespace-backend/internal/store"
	"freespace-backend/internal/types"
	"freespace-backend/internal/voice"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type fakeRecognizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) Available() bool { return true }

func (f *fakeRecognizer) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	f.calls++
	_, _ = io.Copy(io.Discard, audio)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type ServerSuite struct {
	suite.Suite
	gen      *fakeGenerator
	stt      *fakeRecognizer
	sessions *store.MemoryStore
	worker   *voice.Worker
	srv      *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	cat, err := persona.Load("")
	s.Require().NoError(err)

	s.gen = &fakeGenerator{reply: "Here is a thought."}
	s.stt = &fakeRecognizer{text: "hello there"}
	s.sessions = store.NewMemoryStore()
	logger := zerolog.Nop()
	noSleep := func(context.Context, time.Duration) error { return nil }
	pl := pipeline.New(s.gen, logger, pipeline.WithRetryPolicy(pipeline.RetryPolicy{MaxAttempts: 2, Sleep: noSleep}))
	adapter := voice.NewAdapter(logger, nil)
	s.worker = voice.NewWorker(adapter, voice.WorkerConfig{Workers: 1, QueueSize: 4}, logger, nil)

	s.srv = NewServer(config.Config{AllowedOrigin: "*", SessionIdleTTL: time.Hour}, Deps{
		Personas:   persona.NewSource(cat),
		Sessions:   s.sessions,
		Pipeline:   pl,
		Voice:      adapter,
		Speaker:    s.worker,
		Recognizer: s.stt,
		Logger:     logger,
	})
}

func (s *ServerSuite) TearDownTest() {
	s.NoError(s.worker.Close())
}

func (s *ServerSuite) do(method, path string, body any, sid string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.Header.Set("X-Session-Id", sid)
	}
	rec := httptest.NewRecorder()
	s.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *ServerSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/api/health", nil, "")
	s.Equal(http.StatusOK, rec.Code)
	h := decode[types.HealthResponse](s.T(), rec)
	s.Equal("ok", h.Status)
	s.Equal("fake", h.Generator)
	s.True(h.GeneratorReady)
	s.True(h.SpeechInput)
	s.Equal("browser", h.TTSEngine)
	s.ElementsMatch([]string{"student", "parent", "professional", "codegent"}, h.Personas)
}

func (s *ServerSuite) TestPersonas() {
	rec := s.do(http.MethodGet, "/api/personas", nil, "")
	s.Equal(http.StatusOK, rec.Code)
	out := decode[types.PersonasResponse](s.T(), rec)
	s.Len(out.Personas, 4)
	for _, p := range out.Personas {
		s.Contains(p.Categories, "general", p.Key)
	}
}

func (s *ServerSuite) TestUnknownPersona() {
	rec := s.do(http.MethodPost, "/api/robot/respond", map[string]string{"message": "hi"}, "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerSuite) TestRespondRejectsEmptyMessage() {
	rec := s.do(http.MethodPost, "/api/student/respond", map[string]string{"message": "   "}, "")
	s.Equal(http.StatusBadRequest, rec.Code)
	out := decode[types.ErrorResponse](s.T(), rec)
	s.False(out.Success)
	s.Equal("No message provided", out.Error)
	s.Empty(s.gen.prompts)
}

func (s *ServerSuite) TestRespondSuccess() {
	rec := s.do(http.MethodPost, "/api/parentbot/respond", map[string]any{"message": "Can you suggest a dinner recipe?"}, "")
	s.Equal(http.StatusOK, rec.Code)
	out := decode[types.RespondResponse](s.T(), rec)
	s.True(out.Success)
	s.Equal("Here is a thought.", out.Response)
	s.Equal("meal_planner", out.TaskType)
	s.Equal(1, out.ConversationCount)
	s.NotEmpty(out.SessionID)
	s.Equal(out.SessionID, rec.Header().Get("X-Session-Id"))
	s.True(out.UseBrowserTTS)
	s.False(out.HasVoice)

	_, ok := s.sessions.Get("parent", out.SessionID)
	s.True(ok)
}

func (s *ServerSuite) TestRespondKeepsSessionAcrossTurns() {
	first := decode[types.RespondResponse](s.T(), s.do(http.MethodPost, "/api/student/respond", map[string]any{"message": "hi"}, ""))
	second := decode[types.RespondResponse](s.T(), s.do(http.MethodPost, "/api/student/respond", map[string]any{"message": "still here"}, first.SessionID))
	s.Equal(first.SessionID, second.SessionID)
	s.Equal(2, second.ConversationCount)

	other := decode[types.RespondResponse](s.T(), s.do(http.MethodPost, "/api/student/respond", map[string]any{"message": "hello"}, "someone-else"))
	s.Equal(1, other.ConversationCount)
}

func (s *ServerSuite) TestRespondFallbackOnGenerationFailure() {
	s.gen.err = errors.New("boom")
	rec := s.do(http.MethodPost, "/api/student/respond", map[string]any{"message": "I failed my exam", "enableVoice": false}, "")
	s.Equal(http.StatusOK, rec.Code)
	out := decode[types.RespondResponse](s.T(), rec)
	s.False(out.Success)
	s.Contains(out.Response, "I'm having trouble thinking right now")
	s.Equal(0, out.ConversationCount)
	s.False(out.UseBrowserTTS)
	s.Len(s.gen.prompts, 2)
}

func (s *ServerSuite) TestStartSeedsContext() {
	s.gen.reply = "Welcome back, Asha!"
	rec := s.do(http.MethodPost, "/api/student/start", map[string]any{"name": "Asha", "happiness": 40}, "")
	s.Equal(http.StatusOK, rec.Code)
	out := decode[types.StartResponse](s.T(), rec)
	s.True(out.Success)
	s.True(out.Generated)
	s.Equal("Welcome back, Asha!", out.Message)
	s.Equal("sad", string(out.Context.Mood))
	s.Equal("Asha", out.Context.DisplayName)
	s.False(out.SessionStart.IsZero())
}

func (s *ServerSuite) TestStartUsesGreetingWhenGenerationFails() {
	s.gen.err = errors.New("down")
	rec := s.do(http.MethodPost, "/api/luna/start", map[string]any{"stressLevel": "high"}, "")
	s.Equal(http.StatusOK, rec.Code)
	out := decode[types.StartResponse](s.T(), rec)
	s.False(out.Generated)
	s.NotEmpty(out.Message)
	s.Equal("professional", out.Persona)
	s.Equal("stressed", string(out.Context.Mood))
}

func (s *ServerSuite) TestResetClearsHistory() {
	first := decode[types.RespondResponse](s.T(), s.do(http.MethodPost, "/api/codegent/respond", map[string]any{"message": "my code has a bug"}, ""))
	s.Equal(1, first.ConversationCount)

	rec := s.do(http.MethodPost, "/api/codegent/reset", nil, first.SessionID)
	s.Equal(http.StatusOK, rec.Code)
	reset := decode[types.ResetResponse](s.T(), rec)
	s.Equal(first.SessionID, reset.SessionID)
	s.Empty(reset.Context.DetectedTopics)

	hist := decode[types.HistoryResponse](s.T(), s.do(http.MethodGet, "/api/codegent/history", nil, first.SessionID))
	s.Equal(0, hist.Total)
	s.NotNil(hist.History)
}

func (s *ServerSuite) TestHistoryAndStatus() {
	first := decode[types.RespondResponse](s.T(), s.do(http.MethodPost, "/api/student/respond", map[string]any{"message": "hello"}, ""))

	hist := decode[types.HistoryResponse](s.T(), s.do(http.MethodGet, "/api/student/history", nil, first.SessionID))
	s.Equal(1, hist.Total)
	s.Equal("hello", hist.History[0].UserText)
	s.Equal("Here is a thought.", hist.History[0].AssistantText)

	st := decode[types.StatusResponse](s.T(), s.do(http.MethodGet, "/api/student/status?sessionId="+first.SessionID, nil, ""))
	s.Equal(first.SessionID, st.SessionID)
	s.Equal(1, st.ConversationCount)
	s.Equal("idle", st.State)
}

func (s *ServerSuite) TestEndSession() {
	first := decode[types.RespondResponse](s.T(), s.do(http.MethodPost, "/api/student/respond", map[string]any{"message": "hello"}, ""))
	rec := s.do(http.MethodDelete, "/api/student/session", nil, first.SessionID)
	s.Equal(http.StatusNoContent, rec.Code)
	_, ok := s.sessions.Get("student", first.SessionID)
	s.False(ok)
}

func (s *ServerSuite) listen(audio string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "clip.webm")
	s.Require().NoError(err)
	_, _ = fw.Write([]byte(audio))
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/student/listen", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (s *ServerSuite) TestListen() {
	out := decode[types.ListenResponse](s.T(), s.listen("audio-bytes"))
	s.True(out.Success)
	s.False(out.IsError)
	s.Equal("hello there", out.Message)
}

func (s *ServerSuite) TestListenGuidance() {
	cases := map[error]string{
		speech.ErrNoSpeech:       "I didn't hear anything",
		speech.ErrUnintelligible: "I couldn't understand",
		speech.ErrUnavailable:    "I'm having trouble with my hearing",
	}
	for err, want := range cases {
		s.stt.err = err
		out := decode[types.ListenResponse](s.T(), s.listen("audio-bytes"))
		s.False(out.Success)
		s.True(out.IsError)
		s.True(strings.HasPrefix(out.Message, want), out.Message)
	}
}

func (s *ServerSuite) TestListenEmptyUploadIsNoSpeech() {
	out := decode[types.ListenResponse](s.T(), s.listen(""))
	s.False(out.Success)
	s.True(out.IsError)
	s.True(strings.HasPrefix(out.Message, "I didn't hear anything"), out.Message)
	s.Zero(s.stt.calls)
}

func (s *ServerSuite) TestReadRoutesDoNotCreateSessions() {
	hist := s.do(http.MethodGet, "/api/student/history", nil, "")
	s.Equal(http.StatusOK, hist.Code)
	h := decode[types.HistoryResponse](s.T(), hist)
	s.Empty(h.SessionID)
	s.Equal(0, h.Total)
	s.NotNil(h.History)
	s.Equal("sad", string(h.Context.Mood))

	status := s.do(http.MethodGet, "/api/student/status", nil, "unknown-id")
	s.Equal(http.StatusOK, status.Code)
	st := decode[types.StatusResponse](s.T(), status)
	s.Empty(st.SessionID)
	s.Equal("idle", st.State)
	s.Empty(status.Result().Cookies())

	s.Equal(0, s.sessions.Len())
}

func (s *ServerSuite) TestListenRequiresFile() {
	rec := s.do(http.MethodPost, "/api/student/listen", map[string]string{}, "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestSpeakJob() {
	rec := s.do(http.MethodPost, "/api/student/speak", map[string]string{"text": "You can do this."}, "")
	s.Equal(http.StatusAccepted, rec.Code)
	out := decode[types.SpeakResponse](s.T(), rec)
	s.NotEmpty(out.JobID)

	job, ok := s.worker.Lookup(out.JobID)
	s.Require().True(ok)
	select {
	case <-job.Done():
	case <-time.After(2 * time.Second):
		s.FailNow("speak job did not finish")
	}

	res := decode[types.SpeakJobResponse](s.T(), s.do(http.MethodGet, "/api/student/speak/"+out.JobID, nil, ""))
	s.Equal("done", res.Status)
	s.True(res.UseBrowserTTS)
	s.False(res.HasVoice)

	missing := s.do(http.MethodGet, "/api/student/speak/nope", nil, "")
	s.Equal(http.StatusNotFound, missing.Code)
}

func (s *ServerSuite) TestSpeakRejectsEmptyText() {
	rec := s.do(http.MethodPost, "/api/student/speak", map[string]string{"text": ""}, "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestMetricsEndpoint() {
	s.do(http.MethodGet, "/api/health", nil, "")
	rec := s.do(http.MethodGet, "/metrics", nil, "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "freespace_requests_total")
}
