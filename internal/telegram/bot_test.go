package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
)

func TestChunkMessage(t *testing.T) {
	// Short message
	chunks := chunkMessage("hello", 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	// Exact limit
	chunks = chunkMessage(strings.Repeat("a", 4096), 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for exact limit, got %d", len(chunks))
	}

	// Over limit
	chunks = chunkMessage(strings.Repeat("a", 8192), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}

	// Split at newline
	msg := []byte(strings.Repeat("a", 5000))
	msg[3000] = '\n'
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks with newline split, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 { // Up to and including the newline
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}
}

func TestToTelegramMarkdown(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"**bold**", "*bold*"},
		{"hello **world**!", "hello *world*!"},
		{"**a** and **b**", "*a* and *b*"},
		{"no bold here", "no bold here"},
		{"*already single*", "*already single*"},
		{"## Research\n\nfindings", "*Research*\n\nfindings"},
	}
	for _, tt := range tests {
		got := toTelegramMarkdown(tt.in)
		if got != tt.want {
			t.Errorf("toTelegramMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakeSubmitter struct {
	req agent.Request
	res *agent.RunResult
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req agent.Request) (*agent.RunResult, error) {
	f.req = req
	return f.res, f.err
}

func TestRespond(t *testing.T) {
	sub := &fakeSubmitter{res: &agent.RunResult{Success: true, MergedOutput: "hello back"}}
	b := &Bot{submit: sub}

	got := b.respond(context.Background(), 42, 7, "hello")
	if got != "hello back" {
		t.Errorf("unexpected reply %q", got)
	}
	if sub.req.ContextString(agent.ConversationKey) != "telegram:42" || sub.req.ContextString(agent.SenderKey) != "telegram:7" {
		t.Errorf("unexpected context %+v", sub.req.Context)
	}

	if got := b.respond(context.Background(), 42, 7, "/start"); got != helpText {
		t.Errorf("expected help text, got %q", got)
	}

	sub.err = errors.New("boom")
	if got := b.respond(context.Background(), 42, 7, "hi"); !strings.HasPrefix(got, "Sorry") {
		t.Errorf("expected apology, got %q", got)
	}
}

func TestAllowed(t *testing.T) {
	b := &Bot{}
	if !b.allowed(1) {
		t.Error("empty allow list should allow everyone")
	}
	b.cfg = config.TelegramConfig{AllowFrom: []int64{5}}
	if b.allowed(1) || !b.allowed(5) {
		t.Error("allow list not enforced")
	}
}
