package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
)

// Breaker wraps a Generator with a circuit breaker. Once the breaker opens,
// calls fail fast with agent.ErrModelUnavailable until the cool-down passes.
type Breaker struct {
	inner Generator
	cb    *gobreaker.CircuitBreaker[string]
}

// NewBreaker wraps inner. Only transient failures (model unavailable or
// timed out) count towards tripping the breaker.
func NewBreaker(name string, inner Generator, cfg config.BreakerConfig) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !agent.KindOf(err).Transient()
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		return b.inner.Generate(ctx, prompt, opts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: circuit %s", agent.ErrModelUnavailable, err)
	}
	return out, err
}

// State reports the breaker state for status output.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
