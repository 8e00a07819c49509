package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"freespace-backend/internal/config"
	"freespace-backend/internal/llm"
	"freespace-backend/internal/metrics"
	"freespace-backend/internal/persona"
	"freespace-backend/internal/pipeline"
	"freespace-backend/internal/session"
	"freespace-backend/internal/speech"
	"freespace-backend/internal/store"
	"freespace-backend/internal/types"
	"freespace-backend/internal/voice"
)

const (
	maxUploadBytes = 32 << 20
	listenTimeout  = 180 * time.Second
)

type ctxKey struct{}

// Deps are the components the HTTP layer drives.
type Deps struct {
	Personas   *persona.Source
	Sessions   *store.MemoryStore
	Pipeline   *pipeline.Pipeline
	Voice      *voice.Adapter
	Speaker    *voice.Worker
	Recognizer speech.Recognizer
	Logger     zerolog.Logger
}

type Server struct {
	router   *chi.Mux
	cfg      config.Config
	personas *persona.Source
	store    *store.MemoryStore
	pipeline *pipeline.Pipeline
	voice    *voice.Adapter
	speaker  *voice.Worker
	stt      speech.Recognizer
	logger   zerolog.Logger
	now      func() time.Time
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Recognizer == nil {
		d.Recognizer = speech.Unavailable{}
	}
	if d.Voice == nil {
		d.Voice = voice.NewAdapter(d.Logger, nil)
	}
	if d.Sessions == nil {
		d.Sessions = store.NewMemoryStore()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Session-Id"},
		ExposedHeaders:   []string{"X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:   r,
		cfg:      cfg,
		personas: d.Personas,
		store:    d.Sessions,
		pipeline: d.Pipeline,
		voice:    d.Voice,
		speaker:  d.Speaker,
		stt:      d.Recognizer,
		logger:   d.Logger.With().Str("component", "http").Logger(),
		now:      time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/api/personas", s.handlePersonas)
	s.router.Route("/api/{persona}", func(r chi.Router) {
		r.Use(s.withPersona)
		r.Post("/start", s.handleStart)
		r.Post("/respond", s.handleRespond)
		r.Post("/listen", s.handleListen)
		r.Post("/speak", s.handleSpeak)
		r.Get("/speak/{jobID}", s.handleSpeakJob)
		r.Post("/reset", s.handleReset)
		r.Get("/history", s.handleHistory)
		r.Get("/status", s.handleStatus)
		r.Delete("/session", s.handleEndSession)
	})
}

func (s *Server) Router() http.Handler { return s.router }

// withPersona resolves the {persona} path segment, accepting aliases.
func (s *Server) withPersona(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		per, err := s.personas.Get(chi.URLParam(r, "persona"))
		if err != nil {
			s.writeError(w, http.StatusNotFound, "unknown persona")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, per)))
	})
}

func personaFrom(r *http.Request) *persona.Persona {
	p, _ := r.Context().Value(ctxKey{}).(*persona.Persona)
	return p
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	gen := s.pipeline.Generator()
	resp := types.HealthResponse{
		Status:         "ok",
		Generator:      gen.Name(),
		GeneratorReady: llm.Available(gen),
		SpeechInput:    s.stt.Available(),
		TTSEngine:      s.voice.Engine(),
		Sessions:       s.store.Len(),
		Personas:       s.personas.Current().Keys(),
	}
	if s.speaker != nil {
		resp.PendingSpeech = s.speaker.Pending()
	}
	if !resp.GeneratorReady {
		resp.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	all := s.personas.Current().All()
	out := types.PersonasResponse{Personas: make([]types.PersonaInfo, 0, len(all))}
	for _, p := range all {
		cats := p.Classifier().Categories()
		names := make([]string, 0, len(cats))
		for _, c := range cats {
			names = append(names, string(c))
		}
		out.Personas = append(out.Personas, types.PersonaInfo{
			Key:        p.Key,
			Aliases:    p.Aliases,
			Name:       p.Name,
			Audience:   p.Audience,
			Categories: names,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	per := personaFrom(r)
	var req types.StartRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	opts := session.StartOptions{
		Name:            strings.TrimSpace(req.DisplayName()),
		HappinessScore:  req.Happiness,
		StressLevel:     session.ParseStressLevel(req.Stress()),
		WorkEnvironment: strings.TrimSpace(req.WorkEnvironment),
		Language:        strings.TrimSpace(req.Language),
	}
	sess := s.store.Create(per.Key, s.sessionID(r, req.SessionID), per.Defaults(), opts)
	s.attachSession(w, sess.ID)

	msg, generated := s.pipeline.Welcome(r.Context(), sess, per)
	var snap session.Context
	sess.View(func(c session.Context, _ []session.Exchange) { snap = c })
	s.logger.Info().Str("persona", per.Key).Str("session", sess.ID).Bool("generated", generated).Msg("conversation started")
	s.writeJSON(w, http.StatusOK, types.StartResponse{
		Success:      true,
		Message:      msg,
		Generated:    generated,
		SessionID:    sess.ID,
		SessionStart: snap.SessionStart,
		Persona:      per.Key,
		Context:      snap,
	})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	per := personaFrom(r)
	var req types.RespondRequest
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "No message provided")
		return
	}
	sess, _ := s.store.GetOrCreate(per.Key, s.sessionID(r, req.SessionID), per.Defaults())
	s.attachSession(w, sess.ID)

	res, err := s.pipeline.Respond(r.Context(), sess, per, pipeline.Turn{Message: req.Message, Language: req.Language})
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyMessage) {
			s.writeError(w, http.StatusBadRequest, "No message provided")
			return
		}
		s.logger.Error().Err(err).Str("persona", per.Key).Msg("respond")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := types.RespondResponse{
		Success:           res.Success,
		Response:          res.Text,
		TaskType:          string(res.Category),
		ConversationCount: res.Count,
		Context:           &res.Context,
		Timestamp:         res.Timestamp,
		SessionID:         sess.ID,
	}
	if !res.Success {
		out.Error = "generation unavailable"
	}
	if req.VoiceEnabled() {
		d := s.voice.Synthesize(r.Context(), res.Text, per.Voice)
		out.HasVoice = d.HasAudio()
		out.VoiceResponse = d.Audio
		out.VoiceFormat = d.Format
		out.UseBrowserTTS = d.UseBrowserTTS
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	per := personaFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "audio file is required (field 'file')")
		return
	}
	defer file.Close()

	sid := s.sessionID(r, r.FormValue("sessionId"))
	if sid != "" {
		w.Header().Set("X-Session-Id", sid)
	}

	var text string
	if header.Size == 0 {
		err = speech.ErrNoSpeech
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), listenTimeout)
		defer cancel()
		text, err = s.stt.Transcribe(ctx, file, header.Filename)
	}
	metrics.SpeechInputs.WithLabelValues(per.Key, speech.Kind(err)).Inc()
	if err != nil {
		s.logger.Warn().Err(err).Str("persona", per.Key).Str("kind", speech.Kind(err)).Msg("speech input failed")
		s.writeJSON(w, http.StatusOK, types.ListenResponse{
			Success:   false,
			Message:   speech.Guidance(err, per.Speech),
			IsError:   true,
			SessionID: sid,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, types.ListenResponse{Success: true, Message: text, SessionID: sid})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	per := personaFrom(r)
	var req types.SpeakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "invalid text body")
		return
	}
	if s.speaker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "speech output is disabled")
		return
	}
	job, err := s.speaker.Submit(strings.TrimSpace(req.Text), per.Voice)
	if err != nil {
		s.logger.Warn().Err(err).Str("persona", per.Key).Msg("speak job rejected")
		s.writeError(w, http.StatusServiceUnavailable, "speech queue is busy, try again shortly")
		return
	}
	s.writeJSON(w, http.StatusAccepted, types.SpeakResponse{Success: true, JobID: job.ID, Status: string(job.Status())})
}

func (s *Server) handleSpeakJob(w http.ResponseWriter, r *http.Request) {
	if s.speaker == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, ok := s.speaker.Lookup(chi.URLParam(r, "jobID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	d, done := job.Result()
	out := types.SpeakJobResponse{Success: true, JobID: job.ID, Status: string(job.Status())}
	if done {
		out.HasVoice = d.HasAudio()
		out.VoiceResponse = d.Audio
		out.VoiceFormat = d.Format
		out.Engine = d.Engine
		out.UseBrowserTTS = d.UseBrowserTTS
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	per := personaFrom(r)
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeOptional(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sess, _ := s.store.GetOrCreate(per.Key, s.sessionID(r, req.SessionID), per.Defaults())
	s.attachSession(w, sess.ID)
	c, _ := s.store.Reset(per.Key, sess.ID)
	s.logger.Info().Str("persona", per.Key).Str("session", sess.ID).Msg("conversation reset")
	s.writeJSON(w, http.StatusOK, types.ResetResponse{
		Success:      true,
		Message:      "Conversation reset",
		SessionID:    sess.ID,
		NewSessionID: c.SessionStart,
		Context:      c,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	per := personaFrom(r)
	sess, found := s.lookup(r, per)
	if found {
		s.attachSession(w, sess.ID)
	}
	out := types.HistoryResponse{Success: true, SessionID: sess.ID}
	sess.View(func(c session.Context, h []session.Exchange) {
		out.Context = c
		out.History = h
		out.Total = len(h)
	})
	if out.History == nil {
		out.History = []session.Exchange{}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	per := personaFrom(r)
	sess, found := s.lookup(r, per)
	if found {
		s.attachSession(w, sess.ID)
	}
	out := types.StatusResponse{Success: true, SessionID: sess.ID, Persona: per.Key, State: string(sess.State())}
	sess.View(func(c session.Context, h []session.Exchange) {
		out.Context = c
		out.ConversationCount = len(h)
	})
	d := s.now().Sub(out.Context.SessionStart).Truncate(time.Second)
	out.SessionDuration = d.String()
	out.DurationSeconds = d.Seconds()
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	per := personaFrom(r)
	if sid := s.sessionID(r, ""); sid != "" {
		s.store.Delete(per.Key, sid)
	}
	ClearSessionCookie(w, s.cfg.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// lookup finds the caller's session without creating one. When there is
// none it returns an unsaved session holding the persona defaults.
func (s *Server) lookup(r *http.Request, per *persona.Persona) (*session.Session, bool) {
	if sid := s.sessionID(r, ""); sid != "" {
		if sess, ok := s.store.Get(per.Key, sid); ok {
			return sess, true
		}
	}
	return session.NewSession("", per.Key, per.Defaults(), session.StartOptions{}, s.now()), false
}

// sessionID resolves the caller's session: body, cookie, header, query.
// It returns "" when the caller has none.
func (s *Server) sessionID(r *http.Request, fromBody string) string {
	if sid := strings.TrimSpace(fromBody); sid != "" {
		return sid
	}
	if cookie, err := GetSessionCookie(r); err == nil && cookie != "" {
		return cookie
	}
	if sid := r.Header.Get("X-Session-Id"); sid != "" {
		return sid
	}
	return r.URL.Query().Get("sessionId")
}

func (s *Server) attachSession(w http.ResponseWriter, sid string) {
	w.Header().Set("X-Session-Id", sid)
	SetSessionCookie(w, sid, s.cfg.SessionIdleTTL, s.cfg.CookieSecure)
}

// decodeOptional decodes a JSON body, treating an empty body as zero value.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Success: false, Error: msg})
}

// requestLogger writes one access log line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "access").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := logger.Info()
			if status >= http.StatusInternalServerError {
				ev = logger.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
