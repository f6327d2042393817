// Package agent holds the types shared by every part of the orchestration
// pipeline: roles, requests, actor capabilities and results.
package agent

import (
	"context"
	"encoding/json"
	"maps"
	"time"
)

// Reserved request-context keys.
const (
	// UpstreamKey carries the []Upstream of a pipeline step's dependencies.
	UpstreamKey = "upstream"
	// ConversationKey groups requests into one conversation history.
	ConversationKey = "conversation_id"
	// SenderKey names who submitted the request (user, scheduler, telegram:<id>).
	SenderKey = "sender"
)

// Request is a single user request. It is never mutated after creation.
type Request struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Context     map[string]any `json:"context,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// ContextString returns a string-valued context entry, or "".
func (r Request) ContextString(key string) string {
	if r.Context == nil {
		return ""
	}
	s, _ := r.Context[key].(string)
	return s
}

// CloneContext returns a shallow copy of the request context that callers
// may modify freely.
func (r Request) CloneContext() map[string]any {
	out := make(map[string]any, len(r.Context)+1)
	maps.Copy(out, r.Context)
	return out
}

// Output is what an actor produces: plain text, structured data, or both.
type Output struct {
	Text string `json:"text,omitempty"`
	Data any    `json:"data,omitempty"`
}

// String renders the output as text, falling back to indented JSON for
// structured data.
func (o Output) String() string {
	if o.Text != "" || o.Data == nil {
		return o.Text
	}
	data, err := json.MarshalIndent(o.Data, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

// Actor is the capability an agent exposes to the dispatcher.
type Actor interface {
	Act(ctx context.Context, text string, rctx map[string]any) (Output, error)
}

// ActorFunc adapts a function to the Actor interface.
type ActorFunc func(ctx context.Context, text string, rctx map[string]any) (Output, error)

func (f ActorFunc) Act(ctx context.Context, text string, rctx map[string]any) (Output, error) {
	return f(ctx, text, rctx)
}

// Descriptor describes a registered agent. It is read-only once registered.
type Descriptor struct {
	Role              Role     `json:"role"`
	Description       string   `json:"description"`
	Keywords          []string `json:"keywords"`
	AvgCostEstimateMs float64  `json:"avg_cost_estimate_ms"`
	Actor             Actor    `json:"-"`
}

// Result is the terminal outcome of one executed plan step.
type Result struct {
	Role     Role          `json:"role"`
	Success  bool          `json:"success"`
	Output   Output        `json:"output"`
	Error    *StepError    `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
}

// DurationMs returns the step duration in fractional milliseconds.
func (r Result) DurationMs() float64 {
	return float64(r.Duration) / float64(time.Millisecond)
}

// Upstream is what a pipeline step sees of one of its dependencies.
type Upstream struct {
	Role    Role      `json:"role"`
	Success bool      `json:"success"`
	Output  string    `json:"output"`
	Error   ErrorKind `json:"error,omitempty"`
}

// UpstreamFrom returns the upstream entries stored in a step context.
func UpstreamFrom(rctx map[string]any) []Upstream {
	if rctx == nil {
		return nil
	}
	up, _ := rctx[UpstreamKey].([]Upstream)
	return up
}

// RunResult is the single artifact returned for a submitted request.
type RunResult struct {
	RequestID     string        `json:"request_id"`
	Success       bool          `json:"success"`
	Steps         []Result      `json:"steps"`
	MergedOutput  string        `json:"merged_output"`
	TotalDuration time.Duration `json:"total_duration"`
	Error         *StepError    `json:"error,omitempty"`
}

// TotalDurationMs returns the run duration in fractional milliseconds.
func (r RunResult) TotalDurationMs() float64 {
	return float64(r.TotalDuration) / float64(time.Millisecond)
}
