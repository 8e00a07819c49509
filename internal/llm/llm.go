// Package llm wraps the text generation services behind one interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

var (
	ErrUnavailable   = errors.New("generator unavailable")
	ErrEmptyResponse = errors.New("generator returned no text")
)

const (
	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// Generator produces a reply for a fully composed prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Available reports whether g can be expected to answer.
func Available(g Generator) bool {
	_, off := g.(Unavailable)
	return g != nil && !off
}

// Unavailable stands in when no provider is configured.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Name() string { return "unavailable" }

func (u Unavailable) Generate(context.Context, string) (string, error) {
	if u.Reason != "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, u.Reason)
	}
	return "", ErrUnavailable
}

// GeminiGenerator calls the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is not set", ErrUnavailable)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Name() string { return "gemini:" + g.model }

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return nonEmpty(resp.Text())
}

// OpenAIGenerator sends the prompt as a single user message.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(client *openai.Client, model string) (*OpenAIGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai api key is not set", ErrUnavailable)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIGenerator{client: client, model: model}, nil
}

func (g *OpenAIGenerator) Name() string { return "openai:" + g.model }

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return nonEmpty(resp.Choices[0].Message.Content)
}

func nonEmpty(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyResponse
	}
	return s, nil
}

// Options select and configure a provider.
type Options struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	OpenAI       *openai.Client
	OpenAIModel  string
}

// New builds the configured generator. A provider that cannot be built
// yields Unavailable and the reason, so the service still starts and
// answers with fallbacks.
func New(ctx context.Context, o Options) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(o.Provider)) {
	case "", "gemini":
		g, err := NewGeminiGenerator(ctx, o.GeminiAPIKey, o.GeminiModel)
		if err != nil {
			return Unavailable{Reason: err.Error()}, err
		}
		return g, nil
	case "openai":
		g, err := NewOpenAIGenerator(o.OpenAI, o.OpenAIModel)
		if err != nil {
			return Unavailable{Reason: err.Error()}, err
		}
		return g, nil
	default:
		err := fmt.Errorf("%w: unknown provider %q", ErrUnavailable, o.Provider)
		return Unavailable{Reason: err.Error()}, err
	}
}
