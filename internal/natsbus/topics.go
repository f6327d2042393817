package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

const (
	// TopicSubmit carries SubmitRequest/SubmitReply request-reply pairs.
	TopicSubmit = "orchestrator.submit"

	TopicEventsAll  = "events.>"
	TopicEventsRuns = "events.run.*"
	TopicEventsTask = "events.task.*"
)

// Event types.
const (
	EventRunStarted    = "run_started"
	EventStepCompleted = "step_completed"
	EventRunCompleted  = "run_completed"
	EventTaskCreated   = "task_created"
	EventTaskExecuted  = "task_executed"
	EventTaskDeleted   = "task_deleted"
)

func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

func TopicEventsTaskID(taskID string) string {
	return fmt.Sprintf("events.task.%s", taskID)
}

// Event is the envelope of every message on an events.* topic.
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// SubmitRequest is the payload of TopicSubmit.
type SubmitRequest struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

// SubmitReply answers a SubmitRequest. Error is set when the request was
// rejected before planning.
type SubmitReply struct {
	RequestID    string   `json:"request_id,omitempty"`
	Success      bool     `json:"success"`
	MergedOutput string   `json:"merged_output,omitempty"`
	DurationMs   float64  `json:"duration_ms,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Error        string   `json:"error,omitempty"`
}
