package registry

import "github.com/mtzanidakis/quorum/internal/agent"

type defaultEntry struct {
	description string
	keywords    []string
	costMs      float64
}

var defaults = map[agent.Role]defaultEntry{
	agent.Coordinator: {
		description: "General questions, system status and recent run overview",
		keywords:    []string{"status", "overview", "help", "coordinate", "recent runs"},
		costMs:      3000,
	},
	agent.Research: {
		description: "Web research: fetches pages and synthesizes findings",
		keywords:    []string{"research", "search", "look up", "find", "investigate", "sources", "http://", "https://"},
		costMs:      15000,
	},
	agent.Knowledge: {
		description: "Stores, recalls and summarizes notes",
		keywords:    []string{"remember", "note", "recall", "knowledge", "summarize", "summary"},
		costMs:      4000,
	},
	agent.TaskCoordination: {
		description: "Creates and lists scheduled tasks",
		keywords:    []string{"schedule", "remind", "daily", "every day", "cron", "tasks"},
		costMs:      500,
	},
	agent.CreativeExport: {
		description: "Drafts content and exports documents",
		keywords:    []string{"write", "draft", "export", "story", "poem", "essay", "blog", "document"},
		costMs:      12000,
	},
	agent.CodeArchitecture: {
		description: "Code generation, review and architecture advice",
		keywords:    []string{"code", "function", "bug", "refactor", "architecture", "implement", "golang"},
		costMs:      10000,
	},
	agent.SelfImprovement: {
		description: "Reviews agent performance and recommends tuning",
		keywords:    []string{"improve", "performance", "tune", "optimize", "latency", "slow"},
		costMs:      200,
	},
}

// Default returns the built-in descriptor for role, without an actor.
func Default(role agent.Role) agent.Descriptor {
	e := defaults[role]
	return agent.Descriptor{
		Role:              role,
		Description:       e.description,
		Keywords:          append([]string(nil), e.keywords...),
		AvgCostEstimateMs: e.costMs,
	}
}
