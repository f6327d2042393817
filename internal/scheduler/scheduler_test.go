package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/schedule"
	"github.com/mtzanidakis/quorum/internal/store"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []agent.Request
	fail bool
	err  error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req agent.Request) (*agent.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &agent.RunResult{RequestID: "r1", Success: !f.fail, MergedOutput: "out"}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTask(t *testing.T, s *store.Store, id, role string, sched schedule.Schedule, next time.Time) {
	t.Helper()
	err := s.SaveTask(&store.ScheduledTask{
		ID: id, Role: role, Name: id, Schedule: sched.JSON(), Prompt: "do " + id, NextRunAt: &next,
	})
	if err != nil {
		t.Fatalf("save task: %v", err)
	}
}

func TestPollExecutesDueTasks(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	addTask(t, st, "interval", "research", schedule.Schedule{Kind: schedule.KindInterval, IntervalMs: 60000}, now.Add(-time.Minute))
	addTask(t, st, "once", "", schedule.Schedule{Kind: schedule.KindOnce, AtMs: now.Add(-time.Second).UnixMilli()}, now.Add(-time.Second))
	addTask(t, st, "future", "", schedule.Schedule{Kind: schedule.KindInterval, IntervalMs: 60000}, now.Add(time.Hour))

	sub := &fakeSubmitter{}
	s := New(st, sub, nil, config.SchedulerConfig{})
	s.now = func() time.Time { return now }
	s.poll(context.Background())

	if len(sub.reqs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(sub.reqs))
	}
	var sawRole bool
	for _, r := range sub.reqs {
		if r.ContextString(agent.SenderKey) != "scheduler" {
			t.Errorf("expected scheduler sender, got %v", r.Context)
		}
		if r.Text == "@research do interval" {
			sawRole = true
		}
	}
	if !sawRole {
		t.Error("expected role-pinned prompt for interval task")
	}

	interval, _ := st.GetTask("interval")
	if interval.LastStatus != "success" || interval.Status != "active" {
		t.Errorf("unexpected interval task state %+v", interval)
	}
	if interval.NextRunAt == nil || !interval.NextRunAt.Equal(now.Add(time.Minute)) {
		t.Errorf("expected next run one minute out, got %v", interval.NextRunAt)
	}

	once, _ := st.GetTask("once")
	if once.Status != "completed" {
		t.Errorf("expected one-off task completed, got %s", once.Status)
	}

	future, _ := st.GetTask("future")
	if future.LastStatus != "" {
		t.Errorf("future task should not have run, got %+v", future)
	}
}

func TestPollRecordsFailures(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	addTask(t, st, "a", "", schedule.Schedule{Kind: schedule.KindInterval, IntervalMs: 60000}, now.Add(-time.Minute))

	s := New(st, &fakeSubmitter{fail: true}, nil, config.SchedulerConfig{})
	s.now = func() time.Time { return now }
	s.poll(context.Background())

	task, _ := st.GetTask("a")
	if task.LastStatus != "error" || task.LastError != "out" {
		t.Errorf("expected failed run recorded, got %+v", task)
	}

	addTask(t, st, "b", "", schedule.Schedule{Kind: schedule.KindInterval, IntervalMs: 60000}, now.Add(-time.Minute))
	s = New(st, &fakeSubmitter{err: errors.New("boom")}, nil, config.SchedulerConfig{})
	s.now = func() time.Time { return now }
	s.poll(context.Background())

	task, _ = st.GetTask("b")
	if task.LastStatus != "error" || task.LastError != "boom" {
		t.Errorf("expected submit error recorded, got %+v", task)
	}
}

func TestTaskExecutedEvent(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{Port: -1})
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	defer bus.Close()
	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	events := make(chan natsbus.Event, 1)
	_, err = client.Subscribe(natsbus.TopicEventsTask, func(msg *nats.Msg) {
		var ev natsbus.Event
		if json.Unmarshal(msg.Data, &ev) == nil {
			events <- ev
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	client.Flush()

	st := newTestStore(t)
	now := time.Now().UTC()
	addTask(t, st, "ev", "", schedule.Schedule{Kind: schedule.KindInterval, IntervalMs: 60000}, now.Add(-time.Minute))

	s := New(st, &fakeSubmitter{}, client, config.SchedulerConfig{})
	s.now = func() time.Time { return now }
	s.poll(context.Background())

	select {
	case ev := <-events:
		if ev.Type != natsbus.EventTaskExecuted || ev.Data["id"] != "ev" || ev.Data["status"] != "success" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for task event")
	}
}

func TestStartStops(t *testing.T) {
	s := New(newTestStore(t), &fakeSubmitter{}, nil, config.SchedulerConfig{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
