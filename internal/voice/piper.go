package voice

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// baseRate is the speaking rate Piper produces at length scale 1.0.
const baseRate = 170

const maxPiperChars = 1200

// PiperConfig locates the piper binary and its voice models.
type PiperConfig struct {
	BinaryPath   string
	ModelsDir    string
	DefaultVoice string
}

// PiperEngine renders WAV audio with a local Piper install.
type PiperEngine struct {
	cfg    PiperConfig
	logger zerolog.Logger
}

func NewPiperEngine(logger zerolog.Logger, cfg PiperConfig) *PiperEngine {
	if cfg.BinaryPath == "" {
		if p, err := exec.LookPath("piper"); err == nil {
			cfg.BinaryPath = p
		}
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "en_US-amy-medium"
	}
	return &PiperEngine{
		cfg:    cfg,
		logger: logger.With().Str("engine", "piper").Logger(),
	}
}

func (p *PiperEngine) Name() string { return "piper" }

// Available checks that the binary and the default model exist.
func (p *PiperEngine) Available() bool {
	if p.cfg.BinaryPath == "" {
		return false
	}
	if _, err := os.Stat(p.cfg.BinaryPath); err != nil {
		return false
	}
	if _, err := os.Stat(p.modelPath(p.cfg.DefaultVoice)); err != nil {
		return false
	}
	return true
}

func (p *PiperEngine) modelPath(voice string) string {
	if !strings.HasSuffix(voice, ".onnx") {
		voice += ".onnx"
	}
	return filepath.Join(p.cfg.ModelsDir, voice)
}

// lengthScale turns a words-per-minute rate into Piper's length scale.
func lengthScale(rate int) string {
	if rate <= 0 {
		return "1.00"
	}
	return strconv.FormatFloat(float64(baseRate)/float64(rate), 'f', 2, 64)
}

func (p *PiperEngine) Render(ctx context.Context, text string, prof Profile) (Audio, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	text = truncateRunes(text, maxPiperChars)
	voice := prof.PiperVoice
	if voice == "" {
		voice = p.cfg.DefaultVoice
	}
	model := p.modelPath(voice)
	if _, err := os.Stat(model); err != nil {
		model = p.modelPath(p.cfg.DefaultVoice)
	}

	tmp, err := os.CreateTemp("", "freespace-piper-*.wav")
	if err != nil {
		return Audio{}, fmt.Errorf("create temp file: %w", err)
	}
	out := tmp.Name()
	tmp.Close()
	defer os.Remove(out)

	cmd := exec.CommandContext(ctx, p.cfg.BinaryPath,
		"--model", model,
		"--length_scale", lengthScale(prof.Rate),
		"-f", out,
	)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		p.logger.Debug().Err(err).Str("stderr", stderr.String()).Msg("piper failed")
		return Audio{}, fmt.Errorf("piper: %w", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return Audio{}, fmt.Errorf("read piper output: %w", err)
	}
	return Audio{Data: data, Format: "wav"}, nil
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	i := max
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}
