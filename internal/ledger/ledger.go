// Package ledger keeps a bounded, in-memory history of how each agent role
// has performed so routing can prefer fast and reliable agents.
package ledger

import (
	"sync"
	"time"

	"github.com/mtzanidakis/quorum/internal/agent"
)

const DefaultWindow = 50

// Sample is one recorded step execution.
type Sample struct {
	Role      agent.Role
	Timestamp time.Time
	Duration  time.Duration
	Success   bool
}

// Stats summarizes the samples currently held for a role.
type Stats struct {
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
	SampleCount  int     `json:"sample_count"`
}

// Neutral is reported for roles with no samples.
var Neutral = Stats{AvgLatencyMs: 0, SuccessRate: 1.0, SampleCount: 0}

type ring struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	full    bool
}

func (r *ring) add(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.next] = s
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.samples)
	}
	if n == 0 {
		return Neutral
	}

	var total time.Duration
	var ok int
	for _, s := range r.samples[:n] {
		total += s.Duration
		if s.Success {
			ok++
		}
	}
	return Stats{
		AvgLatencyMs: float64(total) / float64(time.Millisecond) / float64(n),
		SuccessRate:  float64(ok) / float64(n),
		SampleCount:  n,
	}
}

// Ledger holds one fixed-capacity ring buffer per role. Buffers are
// allocated up front for the closed role set, so recording for one role
// never contends with another.
type Ledger struct {
	window int
	rings  map[agent.Role]*ring
	now    func() time.Time
}

// New creates a ledger keeping the last window samples per role.
func New(window int) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Ledger{
		window: window,
		rings:  make(map[agent.Role]*ring, agent.NumRoles()),
		now:    time.Now,
	}
	for _, r := range agent.Roles() {
		l.rings[r] = &ring{samples: make([]Sample, window)}
	}
	return l
}

// Window returns the per-role capacity.
func (l *Ledger) Window() int { return l.window }

// Record appends a sample for role, evicting the oldest once the window
// is full. Unknown roles are ignored.
func (l *Ledger) Record(role agent.Role, d time.Duration, success bool) {
	r, ok := l.rings[role]
	if !ok {
		return
	}
	if d < 0 {
		d = 0
	}
	r.add(Sample{Role: role, Timestamp: l.now(), Duration: d, Success: success})
}

// Stats returns the summary for role. Roles without samples get Neutral.
func (l *Ledger) Stats(role agent.Role) Stats {
	r, ok := l.rings[role]
	if !ok {
		return Neutral
	}
	return r.stats()
}

// Snapshot returns stats for every role.
func (l *Ledger) Snapshot() map[agent.Role]Stats {
	out := make(map[agent.Role]Stats, len(l.rings))
	for role, r := range l.rings {
		out[role] = r.stats()
	}
	return out
}
