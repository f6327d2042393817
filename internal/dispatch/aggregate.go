package dispatch

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/quorum/internal/agent"
)

// Aggregate merges step results, given in plan order, into one response.
//
// A single successful step is returned unmodified. Several steps become one
// "## <Role>" section each, failures included inline. When every step
// failed the result is a failure summary instead.
func Aggregate(steps []agent.Result) string {
	if len(steps) == 0 {
		return ""
	}
	if len(steps) == 1 && steps[0].Success {
		return steps[0].Output.String()
	}

	anyOK := false
	for _, s := range steps {
		if s.Success {
			anyOK = true
			break
		}
	}

	var sb strings.Builder
	if !anyOK {
		fmt.Fprintf(&sb, "All %d agent steps failed:", len(steps))
		for _, s := range steps {
			kind, msg := failure(s)
			fmt.Fprintf(&sb, "\n- %s: %s: %s", s.Role, kind, msg)
		}
		return sb.String()
	}

	for i, s := range steps {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## %s\n\n", s.Role.Title())
		if s.Success {
			sb.WriteString(strings.TrimRight(s.Output.String(), "\n"))
			continue
		}
		kind, msg := failure(s)
		fmt.Fprintf(&sb, "_failed (%s): %s_", kind, msg)
	}
	return sb.String()
}

func failure(r agent.Result) (agent.ErrorKind, string) {
	if r.Error == nil {
		return agent.KindInternal, "no output"
	}
	return r.Error.Kind, r.Error.Message
}
