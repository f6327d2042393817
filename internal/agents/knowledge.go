package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/store"
)

const knowledgeSystem = `You maintain a personal knowledge base. Summarize the material you are given into a short note:
a one-line title, then the key points as a bulleted list. Keep facts, names and numbers exact.`

var (
	rememberPrefixes = []string{"remember that", "remember", "save note", "note"}
	recallPrefixes   = []string{"recall", "search notes", "search knowledge", "what do i know about"}
)

// Knowledge stores, recalls and summarizes notes. Note bodies are sealed
// with the vault when one is configured.
type Knowledge struct {
	deps Deps
}

func (k *Knowledge) Act(ctx context.Context, text string, rctx map[string]any) (agent.Output, error) {
	if k.deps.Store == nil {
		return agent.Output{}, errors.New("knowledge store not configured")
	}

	if body, ok := stripPrefix(text, rememberPrefixes...); ok {
		if body == "" {
			return agent.Output{}, agent.Validationf("nothing to remember")
		}
		note, err := k.save(headline(body, 60), body, "user")
		if err != nil {
			return agent.Output{}, err
		}
		return agent.Output{Text: fmt.Sprintf("Saved note %q (%s)", note.Title, note.ID), Data: note}, nil
	}

	if query, ok := stripPrefix(text, recallPrefixes...); ok {
		return k.recall(strings.TrimSuffix(query, "?"))
	}

	summary, err := generate(ctx, k.deps, agent.Knowledge, knowledgeSystem, text)
	if err != nil {
		return agent.Output{}, err
	}
	note, err := k.save(headline(summary, 60), summary, "summary")
	if err != nil {
		return agent.Output{}, err
	}
	return agent.Output{Text: summary + fmt.Sprintf("\n\n(saved as note %s)", note.ID), Data: note}, nil
}

func (k *Knowledge) save(title, content, source string) (*store.Note, error) {
	note := &store.Note{
		ID:      uuid.New().String(),
		Title:   title,
		Content: content,
		Source:  source,
	}
	if k.deps.Vault != nil {
		sealed, err := k.deps.Vault.SealString(content)
		if err != nil {
			return nil, fmt.Errorf("seal note: %w", err)
		}
		note.Content = sealed
		note.Encrypted = true
	}
	if err := k.deps.Store.SaveNote(note); err != nil {
		return nil, err
	}
	// Callers see the plaintext.
	note.Content = content
	return note, nil
}

func (k *Knowledge) recall(query string) (agent.Output, error) {
	var (
		notes []store.Note
		err   error
	)
	if query == "" {
		notes, err = k.deps.Store.ListNotes(10)
	} else {
		notes, err = k.deps.Store.SearchNotes(query, 10)
	}
	if err != nil {
		return agent.Output{}, err
	}
	if len(notes) == 0 {
		return agent.Output{Text: fmt.Sprintf("No notes found for %q", query)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d note(s):", len(notes))
	for i := range notes {
		if err := k.open(&notes[i]); err != nil {
			return agent.Output{}, err
		}
		fmt.Fprintf(&b, "\n\n## %s\n%s", notes[i].Title, notes[i].Content)
	}
	return agent.Output{Text: b.String(), Data: notes}, nil
}

func (k *Knowledge) open(n *store.Note) error {
	if !n.Encrypted {
		return nil
	}
	if k.deps.Vault == nil {
		n.Content = "[encrypted]"
		return nil
	}
	plain, err := k.deps.Vault.OpenString(n.Content)
	if err != nil {
		return fmt.Errorf("open note %s: %w", n.ID, err)
	}
	n.Content = plain
	n.Encrypted = false
	return nil
}
