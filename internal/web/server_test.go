package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/ledger"
	"github.com/mtzanidakis/quorum/internal/monitor"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/registry"
	"github.com/mtzanidakis/quorum/internal/store"
)

type fakeSubmitter struct {
	last agent.Request
}

func (f *fakeSubmitter) Submit(ctx context.Context, req agent.Request) (*agent.RunResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, agent.Validationf("empty request text")
	}
	f.last = req
	return &agent.RunResult{
		RequestID:     "req-1",
		Success:       true,
		MergedOutput:  "done: " + req.Text,
		TotalDuration: 1500 * time.Millisecond,
		Steps: []agent.Result{{
			Role:     agent.Research,
			Success:  true,
			Output:   agent.Output{Text: "done: " + req.Text},
			Attempts: 1,
		}},
	}, nil
}

type fakeResources struct{}

func (fakeResources) Latest() monitor.Snapshot {
	return monitor.Snapshot{CPUPercent: 91, MemoryPercent: 40, DiskPercent: 10, SampledAt: time.Now()}
}

func (fakeResources) IsThrottled() bool { return true }

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	store  *store.Store
	client *natsbus.Client
	sub    *fakeSubmitter
}

func newTestEnv(t *testing.T, cfg config.WebConfig) *testEnv {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus, err := natsbus.New(config.NATSConfig{Port: -1})
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	t.Cleanup(bus.Close)
	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(client.Close)

	reg := registry.New(st)
	noop := agent.ActorFunc(func(ctx context.Context, text string, rctx map[string]any) (agent.Output, error) {
		return agent.Output{}, nil
	})
	for _, role := range agent.Roles() {
		if err := reg.Register(registry.Describe(role, noop, nil)); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	reg.Seal()

	led := ledger.New(10)
	led.Record(agent.Research, 2*time.Second, true)

	sub := &fakeSubmitter{}
	srv := NewServer(cfg, Deps{
		Submitter: sub,
		Registry:  reg,
		Ledger:    led,
		Resources: fakeResources{},
		Store:     st,
		Client:    client,
		Gatherer:  prometheus.NewRegistry(),
		Version:   "test",
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{srv: srv, http: hs, store: st, client: client, sub: sub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestSubmitRequest(t *testing.T) {
	env := newTestEnv(t, config.WebConfig{})

	resp, body := env.do(t, "POST", "/api/requests", `{"text":"research go","conversation_id":"c1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		RequestID    string  `json:"request_id"`
		Success      bool    `json:"success"`
		MergedOutput string  `json:"merged_output"`
		DurationMs   float64 `json:"duration_ms"`
		Steps        []struct {
			Role   string `json:"role"`
			Output string `json:"output"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.MergedOutput != "done: research go" || out.DurationMs != 1500 {
		t.Errorf("unexpected response %+v", out)
	}
	if len(out.Steps) != 1 || out.Steps[0].Role != "research" {
		t.Errorf("unexpected steps %+v", out.Steps)
	}
	if env.sub.last.ContextString(agent.ConversationKey) != "c1" || env.sub.last.ContextString(agent.SenderKey) != "web" {
		t.Errorf("unexpected request context %+v", env.sub.last.Context)
	}

	resp, _ = env.do(t, "POST", "/api/requests", `{"text":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty text, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "POST", "/api/requests", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", resp.StatusCode)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	env := newTestEnv(t, config.WebConfig{RequestsPerMinute: 1, Burst: 2})

	for i := range 2 {
		resp, _ := env.do(t, "POST", "/api/requests", `{"text":"hi"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
	resp, _ := env.do(t, "POST", "/api/requests", `{"text":"hi"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}

	// Reads are not limited.
	resp, _ = env.do(t, "GET", "/api/runs", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for runs, got %d", resp.StatusCode)
	}
}

func TestRuns(t *testing.T) {
	env := newTestEnv(t, config.WebConfig{})
	run := &store.Run{
		ID:           "run-1",
		Request:      "hello",
		Status:       store.RunCompleted,
		Roles:        json.RawMessage(`["coordinator"]`),
		Steps:        json.RawMessage(`[]`),
		MergedOutput: "hi there",
	}
	if err := env.store.SaveRun(run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	resp, body := env.do(t, "GET", "/api/runs", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"run-1"`) {
		t.Errorf("unexpected list: %d %s", resp.StatusCode, body)
	}
	if strings.Contains(string(body), "hi there") {
		t.Error("list should not include merged output")
	}

	resp, body = env.do(t, "GET", "/api/runs/run-1", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "hi there") {
		t.Errorf("unexpected run: %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, "GET", "/api/runs/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAgentsAndResources(t *testing.T) {
	env := newTestEnv(t, config.WebConfig{})

	resp, body := env.do(t, "GET", "/api/agents", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var agents []struct {
		Role     string       `json:"role"`
		Position int          `json:"position"`
		Stats    ledger.Stats `json:"stats"`
	}
	if err := json.Unmarshal(body, &agents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(agents) != agent.NumRoles() {
		t.Fatalf("expected %d agents, got %d", agent.NumRoles(), len(agents))
	}
	if agents[1].Role != "research" || agents[1].Position != 1 || agents[1].Stats.SampleCount != 1 {
		t.Errorf("unexpected research entry %+v", agents[1])
	}
	if agents[0].Stats.SuccessRate != 1 || agents[0].Stats.SampleCount != 0 {
		t.Errorf("expected neutral stats for coordinator, got %+v", agents[0].Stats)
	}

	resp, body = env.do(t, "GET", "/api/resources", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"throttled":true`) {
		t.Errorf("unexpected resources: %d %s", resp.StatusCode, body)
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, config.WebConfig{})

	events := make(chan natsbus.Event, 4)
	if _, err := env.client.Subscribe(natsbus.TopicEventsTask, func(msg *nats.Msg) {
		var ev natsbus.Event
		if json.Unmarshal(msg.Data, &ev) == nil {
			events <- ev
		}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	env.client.Flush()

	resp, body := env.do(t, "POST", "/api/tasks", `{"schedule":"every 2 hours","prompt":"check feeds","role":"researcher"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}
	var created struct {
		ID              string `json:"id"`
		Role            string `json:"role"`
		ScheduleDisplay string `json:"schedule_display"`
		Enabled         bool   `json:"enabled"`
		NextRun         string `json:"next_run"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Role != "research" || created.ScheduleDisplay != "Every 2 hours" || !created.Enabled || created.NextRun == "" {
		t.Errorf("unexpected task %+v", created)
	}

	resp, _ = env.do(t, "POST", "/api/tasks", `{"schedule":"sometime","prompt":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad schedule, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "POST", "/api/tasks", `{"schedule":"0 9 * * *","prompt":"x","role":"janitor"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, "PUT", "/api/tasks/"+created.ID, `{"enabled":false,"schedule":"0 9 * * *"}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"paused"`) {
		t.Errorf("unexpected update: %d %s", resp.StatusCode, body)
	}
	task, _ := env.store.GetTask(created.ID)
	if task == nil || task.NextRunAt != nil {
		t.Errorf("paused task should have no next run, got %+v", task)
	}

	resp, _ = env.do(t, "DELETE", "/api/tasks/"+created.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "DELETE", "/api/tasks/"+created.ID, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", resp.StatusCode)
	}

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("timeout waiting for task events, got %v", types)
		}
	}
	if types[0] != natsbus.EventTaskCreated || types[1] != natsbus.EventTaskDeleted {
		t.Errorf("unexpected task events %v", types)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, config.WebConfig{Auth: "secret"})

	resp, _ := env.do(t, "GET", "/api/status", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "GET", "/metrics", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for metrics, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", env.http.URL+"/api/status", nil)
	req.SetBasicAuth("", "secret")
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with basic auth, got %d", r.StatusCode)
	}

	resp, _ = env.do(t, "POST", "/api/login", `{"password":"wrong"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "POST", "/api/login", `{"password":"secret"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d", resp.StatusCode)
	}
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatal("expected session cookie")
	}

	req, _ = http.NewRequest("GET", env.http.URL+"/api/auth/check", nil)
	req.AddCookie(session)
	r, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Errorf("expected valid session, got %d", r.StatusCode)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	env := newTestEnv(t, config.WebConfig{})

	resp, body := env.do(t, "GET", "/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var status map[string]any
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["version"] != "test" || status["nats"] != "ok" || status["agents_count"] != float64(agent.NumRoles()) {
		t.Errorf("unexpected status %v", status)
	}

	resp, _ = env.do(t, "GET", "/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: %d", resp.StatusCode)
	}
}

func TestWebSocketForwardsEvents(t *testing.T) {
	env := newTestEnv(t, config.WebConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.hub.Run(ctx)
	env.srv.subscribeEvents()
	defer env.srv.unsubscribe()
	env.client.Flush()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := env.client.PublishEvent(natsbus.TopicEventsRun("r1"), natsbus.EventRunStarted, "r1", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev natsbus.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != natsbus.EventRunStarted || ev.RunID != "r1" || ev.Data["text"] != "hi" {
		t.Errorf("unexpected event %+v", ev)
	}
}
