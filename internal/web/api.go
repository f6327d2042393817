package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/ledger"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/schedule"
	"github.com/mtzanidakis/quorum/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Requests and runs
	mux.HandleFunc("POST /api/requests", s.limiter.wrap(s.submitRequest))
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.getConversation)

	// Agents and host
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/resources", s.getResources)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text           string         `json:"text"`
		ConversationID string         `json:"conversation_id"`
		Sender         string         `json:"sender"`
		Context        map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rctx := body.Context
	if rctx == nil {
		rctx = map[string]any{}
	}
	if body.ConversationID != "" {
		rctx[agent.ConversationKey] = body.ConversationID
	}
	if body.Sender != "" {
		rctx[agent.SenderKey] = body.Sender
	} else if _, ok := rctx[agent.SenderKey]; !ok {
		rctx[agent.SenderKey] = "web"
	}

	res, err := s.deps.Submitter.Submit(r.Context(), agent.Request{Text: body.Text, Context: rctx})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, agent.ErrValidation) {
			code = http.StatusBadRequest
		}
		jsonError(w, err.Error(), code)
		return
	}
	jsonResponse(w, runResultToAPI(res))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.deps.Store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		out = append(out, runToAPI(run, false))
	}
	jsonResponse(w, out)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Store.GetRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, runToAPI(*run, true))
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	messages, err := s.deps.Store.GetMessages(r.PathValue("id"), 100)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"id":     m.ID,
			"sender": m.Sender,
			"role":   mapSenderToRole(m.Sender),
			"text":   m.Content,
			"time":   formatMessageTime(m.CreatedAt),
		})
	}
	jsonResponse(w, out)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		jsonResponse(w, []any{})
		return
	}
	out := make([]map[string]any, 0, s.deps.Registry.Len())
	for _, d := range s.deps.Registry.Descriptors() {
		stats := ledger.Neutral
		if s.deps.Ledger != nil {
			stats = s.deps.Ledger.Stats(d.Role)
		}
		out = append(out, map[string]any{
			"role":                 d.Role,
			"name":                 d.Role.Title(),
			"description":          d.Description,
			"keywords":             d.Keywords,
			"avg_cost_estimate_ms": d.AvgCostEstimateMs,
			"position":             s.deps.Registry.Position(d.Role),
			"stats":                stats,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) getResources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resources == nil {
		jsonError(w, "resource monitor disabled", http.StatusServiceUnavailable)
		return
	}
	snap := s.deps.Resources.Latest()
	out := map[string]any{
		"cpu_percent":    snap.CPUPercent,
		"memory_percent": snap.MemoryPercent,
		"disk_percent":   snap.DiskPercent,
		"sampled_at":     snap.SampledAt,
		"throttled":      s.deps.Resources.IsThrottled(),
	}
	if snap.Err != nil {
		out["error"] = snap.Err.Error()
	}
	if snap.DiskErr != nil {
		out["disk_error"] = snap.DiskErr.Error()
	}
	jsonResponse(w, out)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.deps.Store.ListTasks()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToAPI(t))
	}
	jsonResponse(w, out)
}

// normalizeTaskSchedule accepts the stored JSON form, a cron expression or
// a phrase such as "every 2 hours".
func normalizeTaskSchedule(raw string, now time.Time) (string, error) {
	if normalized, err := schedule.NormalizeSchedule(raw); err == nil {
		return normalized, nil
	}
	sched, rest, err := schedule.ParsePhrase(raw, now)
	if err != nil {
		return "", fmt.Errorf("invalid schedule: %s", raw)
	}
	if strings.TrimSpace(rest) != "" {
		return "", fmt.Errorf("invalid schedule: unexpected %q", strings.TrimSpace(rest))
	}
	return sched.JSON(), nil
}

func parseTaskRole(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	role, err := agent.ParseRole(raw)
	if err != nil {
		return "", err
	}
	return role.String(), nil
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role     string `json:"role"`
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Prompt   string `json:"prompt"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Schedule == "" || body.Prompt == "" {
		jsonError(w, "schedule and prompt are required", http.StatusBadRequest)
		return
	}

	role, err := parseTaskRole(body.Role)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	normalized, err := normalizeTaskSchedule(body.Schedule, time.Now())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	status := "active"
	if body.Enabled != nil && !*body.Enabled {
		status = "paused"
	}
	name := body.Name
	if name == "" {
		name = body.Prompt
	}

	t := store.ScheduledTask{
		ID:       uuid.New().String(),
		Role:     role,
		Name:     name,
		Schedule: normalized,
		Prompt:   body.Prompt,
		Status:   status,
	}

	// Calculate initial next_run_at
	if status == "active" {
		t.NextRunAt = schedule.CalculateNextRun(normalized)
	}

	if err := s.deps.Store.SaveTask(&t); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.publishTask(natsbus.EventTaskCreated, t.ID)
	jsonResponse(w, taskToAPI(t))
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := s.deps.Store.GetTask(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}

	var body struct {
		Name     *string `json:"name"`
		Schedule *string `json:"schedule"`
		Prompt   *string `json:"prompt"`
		Role     *string `json:"role"`
		Enabled  *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		existing.Name = *body.Name
	}
	if body.Prompt != nil {
		existing.Prompt = *body.Prompt
	}
	if body.Role != nil {
		role, err := parseTaskRole(*body.Role)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		existing.Role = role
	}

	// Completed one-shot tasks stay completed unless rescheduled.
	if body.Enabled != nil {
		if *body.Enabled {
			existing.Status = "active"
		} else if existing.Status != "completed" {
			existing.Status = "paused"
		}
	}

	if body.Schedule != nil {
		normalized, err := normalizeTaskSchedule(*body.Schedule, time.Now())
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		existing.Schedule = normalized
	}

	// Recalculate next_run_at
	if existing.Status == "active" {
		existing.NextRunAt = schedule.CalculateNextRun(existing.Schedule)
	} else {
		existing.NextRunAt = nil
	}

	if err := s.deps.Store.SaveTask(existing); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, taskToAPI(*existing))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.deps.Store.GetTask(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	if err := s.deps.Store.DeleteTask(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.publishTask(natsbus.EventTaskDeleted, id)
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	tasks, _ := s.deps.Store.ListTasks()
	pendingTasks := 0
	for _, t := range tasks {
		if t.Status == "active" {
			pendingTasks++
		}
	}
	runs, _ := s.deps.Store.CountRuns()

	agents := 0
	if s.deps.Registry != nil {
		agents = s.deps.Registry.Len()
	}

	natsStatus := "disabled"
	if s.deps.Client != nil {
		natsStatus = "ok"
		if err := s.deps.Client.Flush(); err != nil {
			natsStatus = err.Error()
		}
	}

	status := map[string]any{
		"status":        "ok",
		"agents_count":  agents,
		"pending_tasks": pendingTasks,
		"runs":          runs,
		"ws_clients":    s.hub.Len(),
		"uptime":        formatUptime(time.Since(s.startedAt)),
		"nats":          natsStatus,
		"timestamp":     time.Now().UTC(),
		"version":       s.deps.Version,
	}
	if s.deps.Resources != nil {
		status["throttled"] = s.deps.Resources.IsThrottled()
	}

	jsonResponse(w, status)
}

func (s *Server) publishTask(eventType, id string) {
	if s.deps.Client == nil {
		return
	}
	if err := s.deps.Client.PublishEvent(natsbus.TopicEventsTaskID(id), eventType, "", map[string]any{"id": id}); err != nil {
		slog.Warn("publish task event failed", "id", id, "error", err)
	}
}

func runResultToAPI(res *agent.RunResult) map[string]any {
	steps := make([]map[string]any, 0, len(res.Steps))
	for _, st := range res.Steps {
		step := map[string]any{
			"role":        st.Role,
			"success":     st.Success,
			"output":      st.Output.String(),
			"duration_ms": st.DurationMs(),
			"attempts":    st.Attempts,
		}
		if st.Error != nil {
			step["error"] = st.Error
		}
		steps = append(steps, step)
	}
	m := map[string]any{
		"request_id":    res.RequestID,
		"success":       res.Success,
		"merged_output": res.MergedOutput,
		"duration_ms":   res.TotalDurationMs(),
		"steps":         steps,
	}
	if res.Error != nil {
		m["error"] = res.Error
	}
	return m
}

func runToAPI(run store.Run, detail bool) map[string]any {
	m := map[string]any{
		"id":          run.ID,
		"request":     run.Request,
		"status":      run.Status,
		"roles":       json.RawMessage(orNull(run.Roles)),
		"duration_ms": run.DurationMs,
		"started_at":  run.StartedAt,
	}
	if run.ConversationID != "" {
		m["conversation_id"] = run.ConversationID
	}
	if run.Sender != "" {
		m["sender"] = run.Sender
	}
	if run.CompletedAt != nil {
		m["completed_at"] = run.CompletedAt
	}
	if detail {
		m["steps"] = json.RawMessage(orNull(run.Steps))
		m["merged_output"] = run.MergedOutput
	}
	return m
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func taskToAPI(t store.ScheduledTask) map[string]any {
	m := map[string]any{
		"id":               t.ID,
		"name":             t.Name,
		"schedule":         json.RawMessage(t.Schedule),
		"schedule_display": schedule.FormatSchedule(t.Schedule),
		"prompt":           t.Prompt,
		"enabled":          t.Status == "active",
		"status":           t.Status,
	}
	if t.Role != "" {
		m["role"] = t.Role
	}
	if t.LastRunAt != nil {
		m["last_run"] = formatMessageTime(*t.LastRunAt)
		m["last_status"] = t.LastStatus
	}
	if t.LastError != "" {
		m["last_error"] = t.LastError
	}
	if t.NextRunAt != nil {
		m["next_run"] = formatMessageTime(*t.NextRunAt)
		m["next_run_at"] = t.NextRunAt
	}
	return m
}

func mapSenderToRole(sender string) string {
	if sender == "assistant" {
		return "assistant"
	}
	return "user"
}

func formatMessageTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
