package swarm

import (
	"errors"
	"strings"
	"testing"

	"github.com/mtzanidakis/quorum/internal/agent"
)

func steps(deps ...[]int) *Plan {
	p := &Plan{}
	for i, d := range deps {
		p.Steps = append(p.Steps, Step{Index: i, Role: agent.Coordinator, DependsOn: d})
	}
	return p
}

func TestValidate_FanOut(t *testing.T) {
	order, err := Validate(steps(nil, nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 {
		t.Fatalf("expected 3 steps in order, got %v", order)
	}
}

func TestValidate_LinearPipeline(t *testing.T) {
	order, err := Validate(steps(nil, []int{0}, []int{1}))
	if err != nil {
		t.Fatal(err)
	}
	for i, idx := range order {
		if idx != i {
			t.Fatalf("expected pipeline order 0,1,2, got %v", order)
		}
	}
}

func TestValidate_Diamond(t *testing.T) {
	order, err := Validate(steps(nil, []int{0}, []int{0}, []int{1, 2}))
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[int]int)
	for i, idx := range order {
		pos[idx] = i
	}
	if pos[3] < pos[1] || pos[3] < pos[2] || pos[1] < pos[0] {
		t.Fatalf("order violates dependencies: %v", order)
	}
}

func TestValidate_CycleDetection(t *testing.T) {
	_, err := Validate(steps([]int{2}, []int{0}, []int{1}))
	if !errors.Is(err, agent.ErrPlanCycle) {
		t.Fatalf("expected ErrPlanCycle, got %v", err)
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	_, err := Validate(steps(nil, []int{1}))
	if !errors.Is(err, agent.ErrPlanCycle) {
		t.Fatalf("expected ErrPlanCycle for self edge, got %v", err)
	}
}

func TestValidate_UnknownDependency(t *testing.T) {
	_, err := Validate(steps(nil, []int{5}))
	if !errors.Is(err, agent.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unknown step 5") {
		t.Errorf("unexpected message %v", err)
	}
}

func TestValidate_Empty(t *testing.T) {
	if _, err := Validate(&Plan{}); !errors.Is(err, agent.ErrValidation) {
		t.Fatalf("expected validation error for empty plan, got %v", err)
	}
}

func TestStepInput(t *testing.T) {
	base := agent.Request{ID: "r1", Text: "original", Context: map[string]any{"k": "v"}}
	s := Step{Index: 1, Role: agent.Knowledge, Text: "summarize it", DependsOn: []int{0}}

	text, rctx := s.Input(base, []agent.Result{{
		Role:    agent.Research,
		Success: true,
		Output:  agent.Output{Text: "found three papers"},
	}})

	if !strings.HasPrefix(text, "summarize it") || !strings.Contains(text, "### Output from Research\nfound three papers") {
		t.Errorf("unexpected step text %q", text)
	}
	ups := agent.UpstreamFrom(rctx)
	if len(ups) != 1 || ups[0].Output != "found three papers" || !ups[0].Success {
		t.Errorf("unexpected upstream %+v", ups)
	}
	if rctx["k"] != "v" {
		t.Error("base context should be carried")
	}
	if _, leaked := base.Context[agent.UpstreamKey]; leaked {
		t.Error("base request context must not be mutated")
	}
}

func TestStepInputFailureMarker(t *testing.T) {
	s := Step{Index: 1, Role: agent.Knowledge, Text: "summarize", DependsOn: []int{0}}
	failed := agent.Result{
		Role:  agent.Research,
		Error: &agent.StepError{Kind: agent.KindTimeout, Message: "step timed out"},
	}

	text, rctx := s.Input(agent.Request{}, []agent.Result{failed})

	marker := "[research failed: timeout: step timed out]"
	if FailureMarker(failed) != marker {
		t.Fatalf("unexpected marker %q", FailureMarker(failed))
	}
	if !strings.Contains(text, marker) {
		t.Errorf("expected marker in text, got %q", text)
	}
	ups := agent.UpstreamFrom(rctx)
	if len(ups) != 1 || ups[0].Success || ups[0].Output != marker || ups[0].Error != agent.KindTimeout {
		t.Errorf("unexpected upstream %+v", ups)
	}
}
