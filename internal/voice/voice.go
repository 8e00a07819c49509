// Package voice turns assistant replies into audio. When no engine can
// render, clients are told to speak the text with their own browser TTS.
package voice

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/rs/zerolog"
)

var (
	ErrEngineUnavailable = errors.New("tts engine unavailable")
	ErrEmptyText         = errors.New("nothing to speak")
)

// Profile is a persona's voice settings.
type Profile struct {
	Rate        int    `yaml:"rate" json:"rate"`
	PiperVoice  string `yaml:"piperVoice,omitempty" json:"piperVoice,omitempty"`
	OpenAIVoice string `yaml:"openaiVoice,omitempty" json:"openaiVoice,omitempty"`
}

// Audio is rendered speech.
type Audio struct {
	Data   []byte
	Format string
}

// Engine renders text to audio.
type Engine interface {
	Name() string
	Available() bool
	Render(ctx context.Context, text string, p Profile) (Audio, error)
}

// Delivery is what a client receives for one utterance: base64 audio, or
// the instruction to fall back to browser speech.
type Delivery struct {
	Audio         string `json:"audio,omitempty"`
	Format        string `json:"format,omitempty"`
	Engine        string `json:"engine,omitempty"`
	UseBrowserTTS bool   `json:"useBrowserTts"`
}

// BrowserTTS is the sentinel delivery.
func BrowserTTS() Delivery { return Delivery{UseBrowserTTS: true} }

// HasAudio reports whether the delivery carries rendered audio.
func (d Delivery) HasAudio() bool { return d.Audio != "" }

// Adapter picks the first available engine.
type Adapter struct {
	engines []Engine
	logger  zerolog.Logger
	observe func(mode string)
}

type AdapterOption func(*Adapter)

// WithObserver is called with the delivery mode ("audio" or "browser") of
// every synthesis.
func WithObserver(fn func(mode string)) AdapterOption {
	return func(a *Adapter) { a.observe = fn }
}

func NewAdapter(logger zerolog.Logger, engines []Engine, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		engines: engines,
		logger:  logger.With().Str("component", "voice").Logger(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Engine returns the name of the engine that would be used, or "browser".
func (a *Adapter) Engine() string {
	if e := a.pick(); e != nil {
		return e.Name()
	}
	return "browser"
}

func (a *Adapter) pick() Engine {
	for _, e := range a.engines {
		if e != nil && e.Available() {
			return e
		}
	}
	return nil
}

// Synthesize never fails. Any engine error is logged and turned into the
// browser sentinel.
func (a *Adapter) Synthesize(ctx context.Context, text string, p Profile) Delivery {
	d := a.synthesize(ctx, text, p)
	if a.observe != nil {
		mode := "browser"
		if d.HasAudio() {
			mode = "audio"
		}
		a.observe(mode)
	}
	return d
}

func (a *Adapter) synthesize(ctx context.Context, text string, p Profile) Delivery {
	e := a.pick()
	if e == nil {
		return BrowserTTS()
	}
	if text == "" {
		return BrowserTTS()
	}
	audio, err := e.Render(ctx, text, p)
	if err != nil {
		a.logger.Warn().Err(err).Str("engine", e.Name()).Msg("speech synthesis failed, delegating to browser")
		return BrowserTTS()
	}
	if len(audio.Data) == 0 {
		a.logger.Warn().Str("engine", e.Name()).Msg("engine rendered no audio, delegating to browser")
		return BrowserTTS()
	}
	return Delivery{
		Audio:  base64.StdEncoding.EncodeToString(audio.Data),
		Format: audio.Format,
		Engine: e.Name(),
	}
}
