package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/fetch"
)

const (
	researchSystem = `You are a research agent. Synthesize the findings for the user's question.
Cite the source URL next to each claim taken from a fetched page. Say plainly when the sources do not answer the question.`

	maxResearchPages = 3
	maxPageChars     = 6000
)

// Research fetches the pages referenced in a request and asks the model to
// synthesize them.
type Research struct {
	deps Deps
}

type researchData struct {
	Summary string       `json:"summary"`
	Sources []fetch.Page `json:"sources,omitempty"`
	Failed  []string     `json:"failed,omitempty"`
}

func (r *Research) Act(ctx context.Context, text string, rctx map[string]any) (agent.Output, error) {
	question := strings.TrimSpace(text)
	if question == "" {
		return agent.Output{}, agent.Validationf("empty research question")
	}

	var data researchData
	urls := fetch.ExtractURLs(question)
	if len(urls) > maxResearchPages {
		urls = urls[:maxResearchPages]
	}
	for _, u := range urls {
		if r.deps.Fetcher == nil {
			break
		}
		page, err := r.deps.Fetcher.Fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return agent.Output{}, ctx.Err()
			}
			slog.Warn("research fetch failed", "url", u, "error", err)
			data.Failed = append(data.Failed, u)
			continue
		}
		data.Sources = append(data.Sources, page)
	}

	var prompt strings.Builder
	prompt.WriteString("Question:\n" + question + "\n")
	for _, p := range data.Sources {
		body := p.Text
		if len(body) > maxPageChars {
			body = body[:maxPageChars]
		}
		fmt.Fprintf(&prompt, "\n### Source: %s (%s)\n%s\n", p.URL, p.Title, body)
	}
	if len(data.Failed) > 0 {
		fmt.Fprintf(&prompt, "\nThese URLs could not be fetched: %s\n", strings.Join(data.Failed, ", "))
	}

	summary, err := generate(ctx, r.deps, agent.Research, researchSystem, prompt.String())
	if err != nil {
		return agent.Output{}, err
	}
	data.Summary = summary

	var out strings.Builder
	out.WriteString(summary)
	if len(data.Sources) > 0 {
		out.WriteString("\n\nSources:")
		for _, p := range data.Sources {
			fmt.Fprintf(&out, "\n- %s", p.URL)
		}
	}
	return agent.Output{Text: out.String(), Data: data}, nil
}
