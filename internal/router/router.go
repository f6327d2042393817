// Package router classifies a request into ranked candidate roles.
package router

import (
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/registry"
)

// Candidate is a role with a confidence in [0, 1].
type Candidate struct {
	Role       agent.Role `json:"role"`
	Confidence float64    `json:"confidence"`
}

// Classification is the ranked, never-empty outcome of Classify.
type Classification struct {
	Candidates []Candidate
	// Multi is set when the request asked for every agent.
	Multi bool
	// Explicit is set when the request named its role with an @ prefix.
	Explicit bool
	// Text is the request text with any @role prefix removed.
	Text string
}

// Top returns the highest ranked candidate.
func (c Classification) Top() Candidate {
	return c.Candidates[0]
}

// Fallback reports whether nothing matched and the coordinator was chosen
// by default.
func (c Classification) Fallback() bool {
	return len(c.Candidates) == 1 && c.Candidates[0].Confidence == 0
}

type Classifier struct {
	registry *registry.Registry
	triggers []string
	cache    *lru.Cache[string, []Candidate]
}

func New(reg *registry.Registry, cfg config.RouterConfig) *Classifier {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, _ := lru.New[string, []Candidate](size)

	triggers := make([]string, 0, len(cfg.MultiAgentTriggers))
	for _, t := range cfg.MultiAgentTriggers {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			triggers = append(triggers, t)
		}
	}
	return &Classifier{registry: reg, triggers: triggers, cache: cache}
}

// Classify ranks candidate roles for text. It has no side effects beyond
// memoizing keyword scores.
func (c *Classifier) Classify(text string) Classification {
	text = strings.TrimSpace(text)

	// 1. Explicit @role prefix
	if strings.HasPrefix(text, "@") {
		parts := strings.SplitN(text, " ", 2)
		if role, err := agent.ParseRole(strings.TrimPrefix(parts[0], "@")); err == nil && c.registry.Has(role) {
			cleaned := ""
			if len(parts) > 1 {
				cleaned = strings.TrimSpace(parts[1])
			}
			return Classification{
				Candidates: []Candidate{{Role: role, Confidence: 1}},
				Explicit:   true,
				Text:       cleaned,
			}
		}
		// Unknown name: fall through and score the original text
	}

	lower := strings.ToLower(text)

	// 2. Multi-agent triggers
	for _, t := range c.triggers {
		if strings.Contains(lower, t) {
			roles := c.registry.Roles()
			cands := make([]Candidate, 0, len(roles))
			for _, r := range roles {
				cands = append(cands, Candidate{Role: r, Confidence: 1})
			}
			if len(cands) > 0 {
				return Classification{Candidates: cands, Multi: true, Text: text}
			}
		}
	}

	// 3. Keyword scoring, 4. coordinator fallback
	return Classification{Candidates: c.score(lower), Text: text}
}

func (c *Classifier) score(lower string) []Candidate {
	if cached, ok := c.cache.Get(lower); ok {
		return slices.Clone(cached)
	}

	var cands []Candidate
	for _, d := range c.registry.Descriptors() {
		hits := 0
		for _, kw := range d.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > 0 {
			cands = append(cands, Candidate{Role: d.Role, Confidence: float64(hits) / float64(hits+1)})
		}
	}
	if len(cands) == 0 {
		cands = []Candidate{{Role: agent.Coordinator, Confidence: 0}}
	}

	// Stable: equal confidences keep registration order.
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	c.cache.Add(lower, slices.Clone(cands))
	return cands
}
