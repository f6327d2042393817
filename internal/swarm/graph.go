package swarm

import (
	"fmt"

	"github.com/mtzanidakis/quorum/internal/agent"
)

// Validate checks step indices and dependency references and rejects
// cyclic plans with agent.ErrPlanCycle. It returns a topological order of
// step indices.
func Validate(p *Plan) ([]int, error) {
	if p == nil || len(p.Steps) == 0 {
		return nil, agent.Validationf("plan has no steps")
	}

	n := len(p.Steps)
	inDegree := make([]int, n)
	edges := make([][]int, n) // dependency -> dependents

	for i, s := range p.Steps {
		if s.Index != i {
			return nil, agent.Validationf("step %d has index %d", i, s.Index)
		}
		if !s.Role.Valid() {
			return nil, agent.Validationf("step %d has invalid role %d", i, int(s.Role))
		}
		seen := make(map[int]bool, len(s.DependsOn))
		for _, d := range s.DependsOn {
			if d < 0 || d >= n {
				return nil, agent.Validationf("step %d depends on unknown step %d", i, d)
			}
			if seen[d] {
				continue
			}
			seen[d] = true
			edges[d] = append(edges[d], i)
			inDegree[i]++
		}
	}

	// Kahn's algorithm; a self edge never reaches in-degree zero.
	queue := make([]int, 0, n)
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, n)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, next := range edges[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != n {
		return nil, fmt.Errorf("%w: %d of %d steps unreachable", agent.ErrPlanCycle, n-len(order), n)
	}
	return order, nil
}
