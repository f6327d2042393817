package router

import (
	"context"
	"testing"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/registry"
)

var noop = agent.ActorFunc(func(context.Context, string, map[string]any) (agent.Output, error) {
	return agent.Output{}, nil
})

func newTestClassifier(t *testing.T, roles ...agent.Role) *Classifier {
	t.Helper()
	if len(roles) == 0 {
		roles = agent.Roles()
	}
	reg := registry.New(nil)
	for _, r := range roles {
		if err := reg.Register(registry.Describe(r, noop, nil)); err != nil {
			t.Fatalf("register %s: %v", r, err)
		}
	}
	return New(reg, config.RouterConfig{MultiAgentTriggers: []string{"all agents", "everyone", "@all"}})
}

func TestClassifyAtPrefix(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify("@research find the latest go release notes")
	if !got.Explicit {
		t.Fatal("expected explicit classification")
	}
	if len(got.Candidates) != 1 || got.Top().Role != agent.Research || got.Top().Confidence != 1 {
		t.Errorf("unexpected candidates %+v", got.Candidates)
	}
	if got.Text != "find the latest go release notes" {
		t.Errorf("expected cleaned text, got %q", got.Text)
	}
}

func TestClassifyAtPrefixNoMessage(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify("@coder")
	if got.Top().Role != agent.CodeArchitecture {
		t.Errorf("expected alias to resolve to code, got %s", got.Top().Role)
	}
	if got.Text != "" {
		t.Errorf("expected empty text, got %q", got.Text)
	}
}

func TestClassifyUnknownPrefixFallsThrough(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify("@wizard please refactor this function")
	if got.Explicit {
		t.Error("unknown prefix should not be explicit")
	}
	if got.Top().Role != agent.CodeArchitecture {
		t.Errorf("expected keyword routing to code, got %s", got.Top().Role)
	}
	if got.Text != "@wizard please refactor this function" {
		t.Errorf("expected original text kept, got %q", got.Text)
	}
}

func TestClassifyMultiAgent(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify("Ask ALL AGENTS what they think")
	if !got.Multi {
		t.Fatal("expected multi-agent classification")
	}
	if len(got.Candidates) != agent.NumRoles() {
		t.Fatalf("expected %d candidates, got %d", agent.NumRoles(), len(got.Candidates))
	}
	for i, cand := range got.Candidates {
		if cand.Role != agent.Role(i) || cand.Confidence != 1 {
			t.Errorf("candidate %d = %+v", i, cand)
		}
	}
}

func TestClassifyFallback(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify("hmm")
	if len(got.Candidates) != 1 {
		t.Fatalf("expected single fallback candidate, got %+v", got.Candidates)
	}
	if got.Top().Role != agent.Coordinator || got.Top().Confidence != 0 {
		t.Errorf("expected (coordinator, 0), got %+v", got.Top())
	}
	if !got.Fallback() {
		t.Error("expected fallback")
	}
}

func TestClassifyRankingAndBounds(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify("research and find sources, then write a draft")
	if got.Top().Role != agent.Research {
		t.Errorf("expected research first, got %+v", got.Candidates)
	}
	for i, cand := range got.Candidates {
		if cand.Confidence <= 0 || cand.Confidence >= 1 {
			t.Errorf("keyword confidence out of (0,1): %+v", cand)
		}
		if i > 0 && cand.Confidence > got.Candidates[i-1].Confidence {
			t.Errorf("candidates not sorted: %+v", got.Candidates)
		}
	}
}

func TestClassifyTiesKeepRegistrationOrder(t *testing.T) {
	c := newTestClassifier(t)

	// One keyword each for knowledge and code.
	got := c.Classify("note this function")
	if len(got.Candidates) < 2 {
		t.Fatalf("expected two candidates, got %+v", got.Candidates)
	}
	if got.Candidates[0].Role != agent.Knowledge || got.Candidates[1].Role != agent.CodeArchitecture {
		t.Errorf("expected registration order on tie, got %+v", got.Candidates)
	}
}

func TestClassifyIgnoresUnregistered(t *testing.T) {
	c := newTestClassifier(t, agent.Coordinator, agent.Knowledge)

	got := c.Classify("@research something")
	if got.Explicit {
		t.Error("unregistered @role should not be explicit")
	}
	for _, cand := range c.Classify("research this").Candidates {
		if cand.Role == agent.Research {
			t.Error("unregistered role should never be a candidate")
		}
	}
}

func TestClassifyCacheDoesNotLeakMutation(t *testing.T) {
	c := newTestClassifier(t)

	first := c.Classify("fix this bug")
	first.Candidates[0].Confidence = 42

	second := c.Classify("fix this bug")
	if second.Top().Confidence == 42 {
		t.Error("cached candidates were mutated by a caller")
	}
}
