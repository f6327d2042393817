// Package monitor samples host CPU, memory and disk usage and reports
// whether the orchestrator should throttle parallel work.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time reading of host resources. Err is set when
// the CPU or memory reading failed; such snapshots never cause throttling.
// Disk usage is informational and its failure is kept in DiskErr.
type Snapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	SampledAt     time.Time `json:"sampled_at"`
	Err           error     `json:"-"`
	DiskErr       error     `json:"-"`
}

// Probe reads raw host metrics.
type Probe interface {
	CPU(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (float64, error)
	Disk(ctx context.Context, path string) (float64, error)
}

type hostProbe struct{}

func (hostProbe) CPU(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, errors.New("no cpu readings")
	}
	return pct[0], nil
}

func (hostProbe) Memory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (hostProbe) Disk(ctx context.Context, path string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}

// HostProbe reads metrics from the local machine.
func HostProbe() Probe { return hostProbe{} }

type Options struct {
	CPUThreshold    float64
	MemoryThreshold float64
	SampleInterval  time.Duration
	DiskPath        string
}

// Monitor keeps the latest snapshot in an atomic pointer, so readers never
// wait on the sampler.
type Monitor struct {
	probe  Probe
	opts   Options
	latest atomic.Pointer[Snapshot]
}

func New(probe Probe, opts Options) *Monitor {
	if probe == nil {
		probe = HostProbe()
	}
	if opts.CPUThreshold <= 0 {
		opts.CPUThreshold = 85
	}
	if opts.MemoryThreshold <= 0 {
		opts.MemoryThreshold = 85
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 5 * time.Second
	}
	if opts.DiskPath == "" {
		opts.DiskPath = "/"
	}
	return &Monitor{probe: probe, opts: opts}
}

// Sample takes a fresh reading and stores it as the latest snapshot.
func (m *Monitor) Sample(ctx context.Context) Snapshot {
	snap := Snapshot{SampledAt: time.Now()}
	var errs []error

	if v, err := m.probe.CPU(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else {
		snap.CPUPercent = v
	}
	if v, err := m.probe.Memory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		snap.MemoryPercent = v
	}
	if v, err := m.probe.Disk(ctx, m.opts.DiskPath); err != nil {
		snap.DiskErr = fmt.Errorf("disk %s: %w", m.opts.DiskPath, err)
	} else {
		snap.DiskPercent = v
	}
	snap.Err = errors.Join(errs...)

	m.latest.Store(&snap)
	return snap
}

// Latest returns the most recent snapshot without sampling. Before the
// first sample it returns a zero snapshot.
func (m *Monitor) Latest() Snapshot {
	if s := m.latest.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// IsThrottled reports whether CPU or memory usage in the latest snapshot
// exceeds its threshold. Failed or missing readings are optimistic.
func (m *Monitor) IsThrottled() bool {
	s := m.latest.Load()
	if s == nil || s.Err != nil {
		return false
	}
	return s.CPUPercent > m.opts.CPUThreshold || s.MemoryPercent > m.opts.MemoryThreshold
}

// Start samples immediately and then on every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.sampleAndLog(ctx)

	ticker := time.NewTicker(m.opts.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleAndLog(ctx)
		}
	}
}

func (m *Monitor) sampleAndLog(ctx context.Context) {
	wasThrottled := m.IsThrottled()
	s := m.Sample(ctx)
	if s.DiskErr != nil {
		slog.Debug("disk sample failed", "error", s.DiskErr)
	}
	if s.Err != nil {
		slog.Warn("resource sample failed", "error", s.Err)
		return
	}
	if now := m.IsThrottled(); now != wasThrottled {
		slog.Info("resource throttling changed", "throttled", now,
			"cpu", s.CPUPercent, "memory", s.MemoryPercent)
	}
}
