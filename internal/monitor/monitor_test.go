package monitor

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProbe struct {
	cpu, mem, disk float64
	err, diskErr   error
}

func (f *fakeProbe) CPU(context.Context) (float64, error)          { return f.cpu, f.err }
func (f *fakeProbe) Memory(context.Context) (float64, error)       { return f.mem, nil }
func (f *fakeProbe) Disk(context.Context, string) (float64, error) { return f.disk, f.diskErr }

func TestThrottledAboveThreshold(t *testing.T) {
	p := &fakeProbe{cpu: 95, mem: 40}
	m := New(p, Options{CPUThreshold: 80, MemoryThreshold: 80})

	if m.IsThrottled() {
		t.Error("should not be throttled before the first sample")
	}

	m.Sample(context.Background())
	if !m.IsThrottled() {
		t.Error("expected throttling with cpu above threshold")
	}

	p.cpu = 10
	p.mem = 90
	m.Sample(context.Background())
	if !m.IsThrottled() {
		t.Error("expected throttling with memory above threshold")
	}

	p.mem = 10
	m.Sample(context.Background())
	if m.IsThrottled() {
		t.Error("expected no throttling below thresholds")
	}
}

func TestFailedSampleIsOptimistic(t *testing.T) {
	p := &fakeProbe{cpu: 99, mem: 99, err: errors.New("no /proc")}
	m := New(p, Options{CPUThreshold: 50, MemoryThreshold: 50})

	s := m.Sample(context.Background())
	if s.Err == nil {
		t.Fatal("expected sample error")
	}
	if m.IsThrottled() {
		t.Error("failed readings should not throttle")
	}
	if m.Latest().Err == nil {
		t.Error("latest snapshot should carry the error")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	p := &fakeProbe{cpu: 1, mem: 1, disk: 1}
	m := New(p, Options{SampleInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if m.Latest().SampledAt.IsZero() {
		t.Error("expected at least one sample")
	}
}

func TestDiskFailureKeepsThrottling(t *testing.T) {
	p := &fakeProbe{cpu: 99, mem: 99, diskErr: errors.New("no such path")}
	m := New(p, Options{CPUThreshold: 80, MemoryThreshold: 80, DiskPath: "/missing"})

	s := m.Sample(context.Background())
	if s.Err != nil {
		t.Fatalf("cpu and memory readings succeeded, got %v", s.Err)
	}
	if s.DiskErr == nil {
		t.Error("expected disk error on snapshot")
	}
	if !m.IsThrottled() {
		t.Error("disk failure should not disable throttling")
	}
}

func TestThrottleAtThresholdIsNotExceeded(t *testing.T) {
	p := &fakeProbe{cpu: 80, mem: 80}
	m := New(p, Options{CPUThreshold: 80, MemoryThreshold: 80})

	m.Sample(context.Background())
	if m.IsThrottled() {
		t.Error("usage equal to the threshold should not throttle")
	}

	p.cpu = 80.5
	m.Sample(context.Background())
	if !m.IsThrottled() {
		t.Error("usage above the threshold should throttle")
	}
}
