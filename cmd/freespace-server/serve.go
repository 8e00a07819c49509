package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"freespace-backend/internal/config"
	"freespace-backend/internal/llm"
	"freespace-backend/internal/metrics"
	"freespace-backend/internal/persona"
	"freespace-backend/internal/pipeline"
	"freespace-backend/internal/scheduler"
	"freespace-backend/internal/server"
	"freespace-backend/internal/speech"
	"freespace-backend/internal/store"
	"freespace-backend/internal/voice"
)

const (
	speakJobTimeout = 60 * time.Second
	shutdownTimeout = 15 * time.Second
)

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}
	personas := persona.NewSource(catalog)
	if cfg.PersonaFile != "" && cfg.WatchPersona {
		go func() {
			if err := persona.Watch(ctx, cfg.PersonaFile, personas, logger); err != nil {
				logger.Error().Err(err).Str("path", cfg.PersonaFile).Msg("persona watcher stopped")
			}
		}()
	}

	var oa *openai.Client
	if cfg.OpenAIAPIKey != "" {
		oa = openai.NewClient(cfg.OpenAIAPIKey)
	}

	gen, err := llm.New(ctx, llm.Options{
		Provider:     cfg.LLMProvider,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
		OpenAI:       oa,
		OpenAIModel:  cfg.Model,
	})
	if err != nil {
		logger.Warn().Err(err).Str("provider", cfg.LLMProvider).Msg("generation disabled, personas will answer with fallbacks")
	}

	var recognizer speech.Recognizer = speech.Unavailable{}
	if oa != nil {
		recognizer = speech.NewWhisperRecognizer(oa, cfg.STTModel)
	}

	adapter := voice.NewAdapter(logger, voiceEngines(cfg, oa, logger), voice.WithObserver(metrics.ObserveVoice))
	speaker := voice.NewWorker(adapter, voice.WorkerConfig{
		Workers:    cfg.VoiceWorkers,
		QueueSize:  cfg.VoiceQueueSize,
		JobTimeout: speakJobTimeout,
	}, logger, metrics.ObserveSpeakJob)

	sessions := store.NewMemoryStore()
	pl := pipeline.New(gen, logger,
		pipeline.WithRetryPolicy(pipeline.RetryPolicy{
			MaxAttempts: cfg.GenerationAttempts,
			Backoff:     cfg.GenerationBackoff,
		}),
		pipeline.WithTimeout(cfg.GenerationTimeout),
		pipeline.WithObserver(metrics.PipelineObserver{}),
	)

	janitor, err := scheduler.New(scheduler.Config{
		Spec:       cfg.SessionSweepSpec,
		SessionTTL: cfg.SessionIdleTTL,
		JobTTL:     cfg.SpeakJobTTL,
	}, sessions, speaker, logger, func(counts map[string]int, evicted int) {
		metrics.SetActiveSessions(counts, personas.Current().Keys())
		metrics.EvictedSessions.Add(float64(evicted))
	})
	if err != nil {
		_ = speaker.Close()
		return fmt.Errorf("session sweeper: %w", err)
	}
	janitor.Start()

	srv := server.NewServer(cfg, server.Deps{
		Personas:   personas,
		Sessions:   sessions,
		Pipeline:   pl,
		Voice:      adapter,
		Speaker:    speaker,
		Recognizer: recognizer,
		Logger:     logger,
	})
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpSrv.Addr).
			Str("generator", pl.Generator().Name()).
			Str("tts", adapter.Engine()).
			Bool("speech_input", recognizer.Available()).
			Strs("personas", personas.Current().Keys()).
			Msg("freespace server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			janitor.Stop()
			_ = speaker.Close()
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	janitor.Stop()
	if err := speaker.Close(); err != nil {
		logger.Error().Err(err).Msg("speak worker shutdown")
	}
	return nil
}

// voiceEngines lists engines in preference order for the configured mode.
func voiceEngines(cfg config.Config, oa *openai.Client, logger zerolog.Logger) []voice.Engine {
	piper := voice.NewPiperEngine(logger, voice.PiperConfig{
		BinaryPath:   cfg.PiperBinary,
		ModelsDir:    cfg.PiperModelsDir,
		DefaultVoice: cfg.PiperVoice,
	})
	var engines []voice.Engine
	if cfg.TTSEngine == "auto" || cfg.TTSEngine == "piper" {
		engines = append(engines, piper)
	}
	if oa != nil && (cfg.TTSEngine == "auto" || cfg.TTSEngine == "openai") {
		engines = append(engines, voice.NewOpenAIEngine(oa, cfg.TTSModel, cfg.TTSVoice))
	}
	return engines
}
