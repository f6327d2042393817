package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrModelUnavailable, KindModelUnavailable},
		{fmt.Errorf("call: %w", ErrModelTimeout), KindModelTimeout},
		{Validationf("empty"), KindValidation},
		{context.DeadlineExceeded, KindTimeout},
		{context.Canceled, KindCancelled},
		{errors.New("boom"), KindInternal},
		{ErrPlanCycle, KindPlanCycle},
		{ErrNoEligibleAgent, KindNoEligibleAgent},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestTransientKinds(t *testing.T) {
	if !KindModelUnavailable.Transient() || !KindModelTimeout.Transient() {
		t.Error("model kinds should be transient")
	}
	for _, k := range []ErrorKind{KindValidation, KindInternal, KindTimeout, KindCancelled} {
		if k.Transient() {
			t.Errorf("%s should not be transient", k)
		}
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles() {
		got, err := ParseRole(r.String())
		if err != nil {
			t.Fatalf("parse %s: %v", r, err)
		}
		if got != r {
			t.Errorf("expected %s, got %s", r, got)
		}
	}

	if r, err := ParseRole("Coder"); err != nil || r != CodeArchitecture {
		t.Errorf("expected alias coder -> code, got %v %v", r, err)
	}
	if _, err := ParseRole("nobody"); err == nil {
		t.Error("expected error for unknown role")
	}
	if len(Roles()) != 7 {
		t.Errorf("expected 7 roles, got %d", len(Roles()))
	}
}

func TestOutputString(t *testing.T) {
	if got := (Output{Text: "hi"}).String(); got != "hi" {
		t.Errorf("expected text output, got %q", got)
	}
	got := Output{Data: map[string]int{"a": 1}}.String()
	if got != "{\n  \"a\": 1\n}" {
		t.Errorf("unexpected json rendering %q", got)
	}
}
