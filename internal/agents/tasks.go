package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/schedule"
	"github.com/mtzanidakis/quorum/internal/store"
)

var (
	listTaskPrefixes   = []string{"list tasks", "show tasks", "list scheduled tasks", "tasks"}
	deleteTaskPrefixes = []string{"delete task", "cancel task", "remove task"}
	fillerPrefixes     = []string{"remind me to", "remind me", "schedule a task to", "schedule", "please"}
)

// Tasks creates, lists and removes scheduled tasks. The scheduler picks
// created tasks up on its next poll.
type Tasks struct {
	deps Deps
}

func (t *Tasks) Act(ctx context.Context, text string, rctx map[string]any) (agent.Output, error) {
	if t.deps.Store == nil {
		return agent.Output{}, errors.New("task store not configured")
	}

	if rest, ok := stripPrefix(text, listTaskPrefixes...); ok && rest == "" {
		return t.list()
	}
	if id, ok := stripPrefix(text, deleteTaskPrefixes...); ok {
		return t.delete(id)
	}
	return t.create(text)
}

func (t *Tasks) create(text string) (agent.Output, error) {
	now := t.deps.now()
	sched, rest, err := schedule.ParsePhrase(text, now)
	if err != nil {
		return agent.Output{}, agent.Validationf("%v; try \"every 30 minutes ...\", \"daily at 9:00 ...\", \"in 10 minutes ...\" or \"cron: 0 9 * * 1 ...\"", err)
	}

	prompt := rest
	for {
		stripped, ok := stripPrefix(prompt, fillerPrefixes...)
		if !ok {
			break
		}
		prompt = stripped
	}
	prompt = strings.TrimSpace(strings.TrimSuffix(prompt, "."))
	if prompt == "" {
		return agent.Output{}, agent.Validationf("scheduled task has no prompt")
	}

	task := &store.ScheduledTask{
		ID:        uuid.New().String(),
		Name:      headline(prompt, 40),
		Schedule:  sched.JSON(),
		Prompt:    prompt,
		NextRunAt: sched.Next(now),
	}
	if task.NextRunAt == nil {
		return agent.Output{}, agent.Validationf("schedule never fires")
	}
	if err := t.deps.Store.SaveTask(task); err != nil {
		return agent.Output{}, err
	}

	return agent.Output{
		Text: fmt.Sprintf("Scheduled %q (%s), next run %s. Task id: %s",
			task.Prompt, schedule.FormatSchedule(task.Schedule), task.NextRunAt.Format("Jan 2 15:04"), task.ID),
		Data: task,
	}, nil
}

func (t *Tasks) list() (agent.Output, error) {
	tasks, err := t.deps.Store.ListTasks()
	if err != nil {
		return agent.Output{}, err
	}
	if len(tasks) == 0 {
		return agent.Output{Text: "No scheduled tasks."}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d scheduled task(s):", len(tasks))
	for _, task := range tasks {
		next := "-"
		if task.NextRunAt != nil {
			next = task.NextRunAt.Format("Jan 2 15:04")
		}
		fmt.Fprintf(&b, "\n- %s [%s] %s: %s (next %s)", task.ID, task.Status, schedule.FormatSchedule(task.Schedule), task.Prompt, next)
	}
	return agent.Output{Text: b.String(), Data: tasks}, nil
}

func (t *Tasks) delete(id string) (agent.Output, error) {
	if id == "" {
		return agent.Output{}, agent.Validationf("missing task id")
	}
	task, err := t.deps.Store.GetTask(id)
	if err != nil {
		return agent.Output{}, err
	}
	if task == nil {
		return agent.Output{}, agent.Validationf("task %s not found", id)
	}
	if err := t.deps.Store.DeleteTask(id); err != nil {
		return agent.Output{}, err
	}
	return agent.Output{Text: fmt.Sprintf("Deleted task %q (%s)", task.Name, id)}, nil
}
