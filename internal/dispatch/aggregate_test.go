package dispatch

import (
	"strings"
	"testing"

	"github.com/mtzanidakis/quorum/internal/agent"
)

func TestAggregateSingle(t *testing.T) {
	out := "  exact output, untouched\n"
	got := Aggregate([]agent.Result{{Role: agent.Research, Success: true, Output: agent.Output{Text: out}}})
	if got != out {
		t.Errorf("single success must be returned unmodified, got %q", got)
	}
}

func TestAggregateEmpty(t *testing.T) {
	if Aggregate(nil) != "" {
		t.Error("expected empty output for no steps")
	}
}

func TestAggregateSections(t *testing.T) {
	got := Aggregate([]agent.Result{
		{Role: agent.Research, Success: true, Output: agent.Output{Text: "findings"}},
		{Role: agent.Knowledge, Error: &agent.StepError{Kind: agent.KindTimeout, Message: "step timed out"}},
		{Role: agent.SelfImprovement, Success: true, Output: agent.Output{Data: map[string]int{"n": 1}}},
	})

	want := "## Research\n\nfindings\n\n" +
		"## Knowledge\n\n_failed (timeout): step timed out_\n\n" +
		"## Self Improvement\n\n{\n  \"n\": 1\n}"
	if got != want {
		t.Errorf("unexpected aggregate:\n%s\nwant:\n%s", got, want)
	}

	// Plan order is preserved.
	if strings.Index(got, "Research") > strings.Index(got, "Knowledge") {
		t.Error("sections out of plan order")
	}
}

func TestAggregateAllFailed(t *testing.T) {
	got := Aggregate([]agent.Result{
		{Role: agent.Research, Error: &agent.StepError{Kind: agent.KindModelUnavailable, Message: "model unavailable"}},
		{Role: agent.Knowledge, Error: &agent.StepError{Kind: agent.KindValidation, Message: "empty note"}},
	})

	want := "All 2 agent steps failed:\n- research: model_unavailable: model unavailable\n- knowledge: validation_error: empty note"
	if got != want {
		t.Errorf("unexpected summary:\n%s", got)
	}
}

func TestAggregateSingleFailure(t *testing.T) {
	got := Aggregate([]agent.Result{{Role: agent.Coordinator, Error: &agent.StepError{Kind: agent.KindInternal, Message: "boom"}}})
	if !strings.HasPrefix(got, "All 1 agent steps failed:") {
		t.Errorf("expected failure summary, got %q", got)
	}
}
