// Package orchestrator is the single entry point for requests: it classifies
// them, plans the agent steps, dispatches the plan and records the run.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/dispatch"
	"github.com/mtzanidakis/quorum/internal/ledger"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/registry"
	"github.com/mtzanidakis/quorum/internal/router"
	"github.com/mtzanidakis/quorum/internal/store"
	"github.com/mtzanidakis/quorum/internal/swarm"
)

// Deps wires the orchestrator. Store, Client, Throttle and Metrics may be
// nil; a nil Ledger is replaced by an empty one.
type Deps struct {
	Config   *config.Config
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	Throttle swarm.Throttler
	Store    *store.Store
	Client   *natsbus.Client
	Metrics  *dispatch.Metrics
}

type Orchestrator struct {
	registry   *registry.Registry
	ledger     *ledger.Ledger
	classifier *router.Classifier
	planner    *swarm.Planner
	dispatcher *dispatch.Dispatcher
	store      *store.Store
	client     *natsbus.Client
	sub        *nats.Subscription
}

func New(d Deps) *Orchestrator {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}
	led := d.Ledger
	if led == nil {
		led = ledger.New(cfg.Ledger.Window)
	}

	o := &Orchestrator{
		registry: d.Registry,
		ledger:   led,
		store:    d.Store,
		client:   d.Client,
	}
	o.classifier = router.New(d.Registry, cfg.Router)
	o.planner = swarm.NewPlanner(d.Registry, o.classifier, led, d.Throttle, cfg)

	opts := dispatch.OptionsFromConfig(cfg.Orchestrator)
	opts.Metrics = d.Metrics
	opts.Observer = o.onStep
	o.dispatcher = dispatch.New(d.Registry, led, opts)
	return o
}

// Ledger returns the performance ledger fed by this orchestrator.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Submit runs req to completion. It returns an error only for malformed
// requests, such as empty text or an @role prefix with no message; planning and step failures come back as an unsuccessful
// RunResult whose merged output explains what went wrong.
func (o *Orchestrator) Submit(ctx context.Context, req agent.Request) (*agent.RunResult, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, agent.Validationf("empty request text")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	start := time.Now()

	o.logMessage(req, req.ContextString(agent.SenderKey), req.Text)

	cls := o.classifier.Classify(req.Text)
	plan, err := o.planner.Plan(req, cls)
	if errors.Is(err, agent.ErrValidation) {
		return nil, err
	}
	if err != nil {
		return o.fail(req, start, err), nil
	}

	slog.Info("request planned", "request", req.ID, "shape", plan.Shape, "roles", plan.Roles(),
		"throttled", plan.Throttled, "workflow", plan.Workflow)
	o.recordStart(req, plan)

	res, err := o.dispatcher.Execute(ctx, plan, req)
	if err != nil {
		return o.fail(req, start, err), nil
	}
	res.TotalDuration = time.Since(start)

	o.recordEnd(req, res)
	return res, nil
}

// fail builds the result for a request that could not be planned or
// executed.
func (o *Orchestrator) fail(req agent.Request, start time.Time, err error) *agent.RunResult {
	var msg string
	stepErr := agent.NewStepError(err)
	switch {
	case errors.Is(err, agent.ErrNoEligibleAgent):
		msg = "No agent is available to handle this request right now. Try again later or address an agent directly with @role."
	case errors.Is(err, agent.ErrPlanCycle):
		slog.Error("planner produced a cyclic plan", "request", req.ID, "error", err)
		stepErr = &agent.StepError{Kind: agent.KindInternal, Message: err.Error()}
		msg = "Internal error while planning this request."
	default:
		slog.Error("request failed before dispatch", "request", req.ID, "error", err)
		msg = fmt.Sprintf("Request could not be processed: %v", err)
	}

	res := &agent.RunResult{
		RequestID:     req.ID,
		Success:       false,
		MergedOutput:  msg,
		TotalDuration: time.Since(start),
		Error:         stepErr,
	}
	slog.Warn("request not dispatched", "request", req.ID, "kind", stepErr.Kind)
	o.recordStart(req, nil)
	o.recordEnd(req, res)
	return res
}

func (o *Orchestrator) recordStart(req agent.Request, plan *swarm.Plan) {
	var roles []string
	if plan != nil {
		for _, r := range plan.Roles() {
			roles = append(roles, r.String())
		}
	}

	if o.store != nil {
		rolesJSON, _ := json.Marshal(roles)
		run := &store.Run{
			ID:             req.ID,
			Request:        req.Text,
			ConversationID: req.ContextString(agent.ConversationKey),
			Sender:         req.ContextString(agent.SenderKey),
			Status:         store.RunRunning,
			Roles:          rolesJSON,
		}
		if err := o.store.SaveRun(run); err != nil {
			slog.Error("failed to save run", "request", req.ID, "error", err)
		}
	}

	data := map[string]any{"text": req.Text, "roles": roles}
	if plan != nil {
		data["shape"] = plan.Shape
		data["throttled"] = plan.Throttled
	}
	o.publish(req.ID, natsbus.EventRunStarted, data)
}

func (o *Orchestrator) recordEnd(req agent.Request, res *agent.RunResult) {
	status := store.RunCompleted
	if !res.Success {
		status = store.RunFailed
	}

	if o.store != nil {
		steps, _ := json.Marshal(res.Steps)
		run := &store.Run{
			ID:           req.ID,
			Request:      req.Text,
			Status:       status,
			Steps:        steps,
			MergedOutput: res.MergedOutput,
			DurationMs:   res.TotalDurationMs(),
		}
		if existing, err := o.store.GetRun(req.ID); err == nil && existing != nil {
			run.Roles = existing.Roles
		}
		if err := o.store.SaveRun(run); err != nil {
			slog.Error("failed to save run", "request", req.ID, "error", err)
		}
	}

	o.logMessage(req, "assistant", res.MergedOutput)
	o.publish(req.ID, natsbus.EventRunCompleted, map[string]any{
		"success":       res.Success,
		"status":        status,
		"duration_ms":   res.TotalDurationMs(),
		"merged_output": res.MergedOutput,
	})
}

// onStep publishes the outcome of each step as soon as it is final.
func (o *Orchestrator) onStep(req agent.Request, step swarm.Step, res agent.Result) {
	data := map[string]any{
		"index":       step.Index,
		"role":        res.Role.String(),
		"success":     res.Success,
		"duration_ms": res.DurationMs(),
		"attempts":    res.Attempts,
	}
	if res.Error != nil {
		data["error"] = res.Error.Kind
	}
	o.publish(req.ID, natsbus.EventStepCompleted, data)
}

// logMessage appends to the conversation history when the request names a
// conversation.
func (o *Orchestrator) logMessage(req agent.Request, sender, content string) {
	convID := req.ContextString(agent.ConversationKey)
	if o.store == nil || convID == "" {
		return
	}
	if sender == "" {
		sender = "user"
	}
	meta, _ := json.Marshal(map[string]string{"request_id": req.ID})
	msg := &store.Message{ConversationID: convID, Sender: sender, Content: content, Metadata: meta}
	if err := o.store.SaveMessage(msg); err != nil {
		slog.Error("failed to save message", "conversation", convID, "error", err)
	}
}

func (o *Orchestrator) publish(runID, eventType string, data map[string]any) {
	if o.client == nil {
		return
	}
	if err := o.client.PublishEvent(natsbus.TopicEventsRun(runID), eventType, runID, data); err != nil {
		slog.Warn("publish run event failed", "request", runID, "type", eventType, "error", err)
	}
}
