package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/quorum/internal/agent"
)

const creativeSystem = `You are a writer. Produce the requested piece in markdown, starting with a "# " title line.
When earlier agents' output is included, build on it rather than repeating it verbatim.`

// Creative drafts content and, when asked to, exports it as a compressed
// markdown document.
type Creative struct {
	deps Deps
}

type creativeData struct {
	Content  string `json:"content"`
	Document string `json:"document,omitempty"`
}

func (c *Creative) Act(ctx context.Context, text string, rctx map[string]any) (agent.Output, error) {
	if strings.TrimSpace(text) == "" {
		return agent.Output{}, agent.Validationf("empty writing request")
	}

	content, err := generate(ctx, c.deps, agent.CreativeExport, creativeSystem, text)
	if err != nil {
		return agent.Output{}, err
	}
	data := creativeData{Content: content}

	if !wantsExport(text) || c.deps.Exporter == nil {
		return agent.Output{Text: content, Data: data}, nil
	}

	doc, err := c.deps.Exporter.Write(headline(content, 60), content)
	if err != nil {
		return agent.Output{}, fmt.Errorf("export document: %w", err)
	}
	data.Document = doc.Path
	return agent.Output{
		Text: fmt.Sprintf("%s\n\nExported to %s", content, doc.Path),
		Data: data,
	}, nil
}

func wantsExport(text string) bool {
	// Only the request itself counts, not upstream output appended below it.
	if i := strings.Index(text, "\n\n### Output from "); i >= 0 {
		text = text[:i]
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "export") || strings.Contains(lower, "save as document") || strings.Contains(lower, "as a document")
}
