package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/schedule"
	"github.com/mtzanidakis/quorum/internal/store"
)

// TaskIDKey is set in the request context of scheduled submissions.
const TaskIDKey = "task_id"

// Submitter runs a request through the orchestrator.
type Submitter interface {
	Submit(ctx context.Context, req agent.Request) (*agent.RunResult, error)
}

type Scheduler struct {
	store        *store.Store
	submit       Submitter
	natsClient   *natsbus.Client
	pollInterval time.Duration
	now          func() time.Time
}

// New creates a scheduler. client may be nil, in which case no task events
// are published.
func New(s *store.Store, submit Submitter, client *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		submit:       submit,
		natsClient:   client,
		pollInterval: cfg.PollInterval,
		now:          time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	tasks, err := s.store.GetDueTasks(s.now())
	if err != nil {
		slog.Error("failed to get due tasks", "error", err)
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, task)
	}
}

func (s *Scheduler) execute(ctx context.Context, task store.ScheduledTask) {
	slog.Info("executing scheduled task", "id", task.ID, "name", task.Name, "role", task.Role)

	text := task.Prompt
	if task.Role != "" {
		text = "@" + task.Role + " " + text
	}
	req := agent.Request{
		Text: text,
		Context: map[string]any{
			agent.SenderKey: "scheduler",
			TaskIDKey:       task.ID,
		},
	}

	var lastStatus, lastError string
	res, err := s.submit.Submit(ctx, req)
	switch {
	case err != nil:
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("task execution failed", "id", task.ID, "error", err)
	case !res.Success:
		lastStatus = "error"
		lastError = res.MergedOutput
		slog.Warn("task run failed", "id", task.ID, "request", res.RequestID)
	default:
		lastStatus = "success"
	}

	var nextRun *time.Time
	if sched, err := schedule.ParseSchedule(task.Schedule); err == nil {
		nextRun = sched.Next(s.now())
	}

	if err := s.store.UpdateTaskRun(task.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update task run", "id", task.ID, "error", err)
	}

	s.publishTaskExecutedEvent(task, lastStatus)

	// Mark one-off tasks as completed when they have no next run
	if nextRun == nil {
		slog.Info("no next run, marking one-off task as completed", "id", task.ID, "name", task.Name)
		if err := s.store.UpdateTaskStatus(task.ID, "completed"); err != nil {
			slog.Error("failed to complete task", "id", task.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishTaskExecutedEvent(task store.ScheduledTask, status string) {
	if s.natsClient == nil {
		return
	}
	err := s.natsClient.PublishEvent(natsbus.TopicEventsTaskID(task.ID), natsbus.EventTaskExecuted, "", map[string]any{
		"id":     task.ID,
		"name":   task.Name,
		"status": status,
	})
	if err != nil {
		slog.Warn("publish task event failed", "id", task.ID, "error", err)
	}
}
