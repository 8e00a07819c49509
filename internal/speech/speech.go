// Package speech turns recorded user audio into text.
package speech

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrNoSpeech       = errors.New("no speech detected")
	ErrUnintelligible = errors.New("speech not understood")
	ErrUnavailable    = errors.New("speech recognition unavailable")
)

// Recognizer transcribes one audio clip.
type Recognizer interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	Available() bool
}

// Messages are a persona's replies for each speech-input failure.
type Messages struct {
	NoSpeech       string `yaml:"noSpeech"`
	Unintelligible string `yaml:"unintelligible"`
	Unavailable    string `yaml:"unavailable"`
}

// Guidance maps a Transcribe error to the persona's reply. Unknown errors
// are treated as the service being unavailable.
func Guidance(err error, m Messages) string {
	switch {
	case errors.Is(err, ErrNoSpeech):
		return m.NoSpeech
	case errors.Is(err, ErrUnintelligible):
		return m.Unintelligible
	default:
		return m.Unavailable
	}
}

// Kind is a short label for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, ErrUnintelligible):
		return "unintelligible"
	default:
		return "unavailable"
	}
}

// WhisperRecognizer calls the OpenAI transcription endpoint.
type WhisperRecognizer struct {
	client *openai.Client
	model  string
}

// NewWhisperRecognizer returns nil when no client is configured.
func NewWhisperRecognizer(client *openai.Client, model string) *WhisperRecognizer {
	if client == nil {
		return nil
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperRecognizer{client: client, model: model}
}

func (w *WhisperRecognizer) Available() bool { return w != nil && w.client != nil }

func (w *WhisperRecognizer) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if !w.Available() {
		return "", ErrUnavailable
	}
	if audio == nil {
		return "", ErrNoSpeech
	}
	br := bufio.NewReader(audio)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrNoSpeech
		}
		return "", fmt.Errorf("%w: read audio: %w", ErrUnavailable, err)
	}
	if filename == "" {
		filename = "speech.webm"
	}
	tr, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Reader:   br,
		FilePath: filename,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", ErrNoSpeech, err)
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return Check(tr.Text)
}

// Check validates a raw transcript.
func Check(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	if !strings.ContainsFunc(text, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		return "", ErrUnintelligible
	}
	return text, nil
}

// Unavailable is used when no recognizer is configured.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Transcribe(context.Context, io.Reader, string) (string, error) {
	return "", ErrUnavailable
}
