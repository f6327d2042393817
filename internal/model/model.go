// Package model is the text-generation backend used by the agents.
package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
)

// Options tune a single Generate call. Zero values fall back to the
// generator defaults.
type Options struct {
	System    string
	MaxTokens int64
	Model     string
}

// Generator produces a completion for a prompt. Failures wrap
// agent.ErrModelUnavailable, agent.ErrModelTimeout or agent.ErrValidation.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, opts Options) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

// New returns the generator described by cfg: the Anthropic API behind a
// circuit breaker when an API key is set, the offline generator otherwise.
func New(cfg config.ModelConfig) Generator {
	if cfg.APIKey == "" {
		return Offline{}
	}
	return NewBreaker("anthropic", NewAnthropic(cfg), cfg.Breaker)
}

// Offline answers without a model. It echoes a condensed form of the prompt
// so that agents stay usable on machines with no API key.
type Offline struct{}

func (Offline) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", agent.Validationf("empty prompt")
	}

	var b strings.Builder
	b.WriteString("[offline] ")
	if opts.System != "" {
		fmt.Fprintf(&b, "(%s) ", firstLine(opts.System))
	}
	b.WriteString(truncate(prompt, 600))
	return b.String(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), 80)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
