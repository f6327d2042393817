package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/mtzanidakis/quorum/internal/agent"
)

const coordinatorSystem = `You are the coordinator of a team of specialist agents (research, knowledge, tasks, creative export, code, self improvement).
Answer general questions directly and concisely. When a request clearly belongs to a specialist, say which one and why.`

// Coordinator answers general requests and reports system status.
type Coordinator struct {
	deps Deps
}

func (c *Coordinator) Act(ctx context.Context, text string, rctx map[string]any) (agent.Output, error) {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "status") || strings.Contains(lower, "recent runs") {
		return c.status()
	}

	out, err := generate(ctx, c.deps, agent.Coordinator, coordinatorSystem, text)
	if err != nil {
		return agent.Output{}, err
	}
	return agent.Output{Text: out}, nil
}

func (c *Coordinator) status() (agent.Output, error) {
	var b strings.Builder
	b.WriteString("System status\n")

	if c.deps.Resources != nil {
		snap := c.deps.Resources.Latest()
		switch {
		case snap.SampledAt.IsZero():
			b.WriteString("\nResources: not sampled yet\n")
		case snap.Err != nil:
			fmt.Fprintf(&b, "\nResources: unavailable (%v)\n", snap.Err)
		default:
			disk := fmt.Sprintf("%.1f%%", snap.DiskPercent)
			if snap.DiskErr != nil {
				disk = "n/a"
			}
			fmt.Fprintf(&b, "\nResources: cpu %.1f%%, memory %.1f%%, disk %s", snap.CPUPercent, snap.MemoryPercent, disk)
			if c.deps.Resources.IsThrottled() {
				b.WriteString(" (throttled)")
			}
			b.WriteString("\n")
		}
	}

	if c.deps.Ledger != nil {
		b.WriteString("\nAgents:\n")
		snap := c.deps.Ledger.Snapshot()
		for _, role := range agent.Roles() {
			st := snap[role]
			if st.SampleCount == 0 {
				fmt.Fprintf(&b, "- %s: no runs yet\n", role.Title())
				continue
			}
			fmt.Fprintf(&b, "- %s: %d runs, %.0f%% success, avg %.0fms\n",
				role.Title(), st.SampleCount, st.SuccessRate*100, st.AvgLatencyMs)
		}
	}

	if c.deps.Store != nil {
		runs, err := c.deps.Store.ListRuns(5)
		if err != nil {
			return agent.Output{}, fmt.Errorf("list runs: %w", err)
		}
		b.WriteString("\nRecent runs:\n")
		if len(runs) == 0 {
			b.WriteString("- none\n")
		}
		for _, r := range runs {
			fmt.Fprintf(&b, "- %s [%s] %s (%.0fms)\n", r.StartedAt.Format("Jan 2 15:04"), r.Status, headline(r.Request, 60), r.DurationMs)
		}
	}

	return agent.Output{Text: strings.TrimSpace(b.String())}, nil
}
