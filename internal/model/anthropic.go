package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
)

// Anthropic generates text through the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewAnthropic builds a generator from cfg. Extra request options (base URL,
// retry policy) are appended after the API key.
func NewAnthropic(cfg config.ModelConfig, opts ...option.RequestOption) *Anthropic {
	reqOpts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	a := &Anthropic{
		client:    anthropic.NewClient(reqOpts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
	}
	if a.model == "" {
		a.model = "claude-sonnet-4-5"
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 2048
	}
	return a
}

// Generate sends prompt as a single user message and returns the
// concatenated text blocks of the reply.
func (a *Anthropic) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", agent.Validationf("empty prompt")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.Model != "" {
		params.Model = anthropic.Model(opts.Model)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = opts.MaxTokens
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}

	callCtx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Messages.New(callCtx, params)
	if err != nil {
		return "", classify(ctx, callCtx, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(variant.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty response (stop reason %s)", agent.ErrModelUnavailable, resp.StopReason)
	}
	return b.String(), nil
}

// classify maps SDK and transport failures onto the shared error kinds.
// Cancellation of the caller's context is passed through untouched.
func classify(parent, call context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", agent.ErrModelTimeout, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusRequestTimeout:
			return fmt.Errorf("%w: status %d", agent.ErrModelTimeout, code)
		case code == http.StatusTooManyRequests, code >= 500:
			return fmt.Errorf("%w: status %d", agent.ErrModelUnavailable, code)
		case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: model rejected request (status %d)", agent.ErrValidation, code)
		default:
			return fmt.Errorf("%w: model api status %d", agent.ErrInternal, code)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", agent.ErrModelTimeout, err)
		}
		return fmt.Errorf("%w: %v", agent.ErrModelUnavailable, err)
	}
	return fmt.Errorf("%w: %v", agent.ErrModelUnavailable, err)
}
