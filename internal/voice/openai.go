package voice

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine renders MP3 audio with the OpenAI speech endpoint.
type OpenAIEngine struct {
	client *openai.Client
	model  string
	voice  string
}

func NewOpenAIEngine(client *openai.Client, model, voice string) *OpenAIEngine {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAIEngine{client: client, model: model, voice: voice}
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Available() bool { return e != nil && e.client != nil }

// speed maps a words-per-minute rate onto the endpoint's 0.25-4.0 range.
func speed(rate int) float64 {
	if rate <= 0 {
		return 1
	}
	s := float64(rate) / baseRate
	switch {
	case s < 0.25:
		return 0.25
	case s > 4:
		return 4
	}
	return s
}

func (e *OpenAIEngine) Render(ctx context.Context, text string, prof Profile) (Audio, error) {
	if !e.Available() {
		return Audio{}, ErrEngineUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	voice := prof.OpenAIVoice
	if voice == "" {
		voice = e.voice
	}
	rc, err := e.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(e.model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed(prof.Rate),
	})
	if err != nil {
		return Audio{}, fmt.Errorf("openai speech: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Audio{}, fmt.Errorf("read speech: %w", err)
	}
	return Audio{Data: data, Format: "mp3"}, nil
}
