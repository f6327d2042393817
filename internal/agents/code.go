package agents

import (
	"context"
	"strings"

	"github.com/mtzanidakis/quorum/internal/agent"
)

const codeSystem = `You are a senior software engineer. Answer with working code in fenced blocks, followed by a short explanation.
For design questions, describe the components, their responsibilities and the trade-offs. Prefer Go unless another language is requested.`

// Code handles code generation, review and architecture questions.
type Code struct {
	deps Deps
}

func (c *Code) Act(ctx context.Context, text string, rctx map[string]any) (agent.Output, error) {
	if strings.TrimSpace(text) == "" {
		return agent.Output{}, agent.Validationf("empty code request")
	}
	out, err := generate(ctx, c.deps, agent.CodeArchitecture, codeSystem, text)
	if err != nil {
		return agent.Output{}, err
	}
	return agent.Output{Text: out}, nil
}
