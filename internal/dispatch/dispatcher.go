// Package dispatch executes plans: it runs steps in dependency order under
// a concurrency cap, bounds them with timeouts and retries, records their
// performance and merges their results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/swarm"
)

const tracerName = "github.com/mtzanidakis/quorum/internal/dispatch"

// Recorder receives one sample per executed step. Steps that end as
// Cancelled, whether skipped or interrupted in flight, are not recorded.
type Recorder interface {
	Record(role agent.Role, d time.Duration, success bool)
}

// Actors resolves the actor registered for a role.
type Actors interface {
	Get(role agent.Role) (agent.Descriptor, bool)
}

// StepObserver is called once per step as soon as its result is final.
// It is called from the step's goroutine and must not block.
type StepObserver func(req agent.Request, step swarm.Step, res agent.Result)

type Options struct {
	MaxConcurrency int
	StepTimeout    time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	Metrics        *Metrics
	Observer       StepObserver
}

// OptionsFromConfig maps the orchestrator section onto dispatcher options.
func OptionsFromConfig(cfg config.OrchestratorConfig) Options {
	return Options{
		MaxConcurrency: cfg.MaxConcurrency,
		StepTimeout:    cfg.StepTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
	}
}

type Dispatcher struct {
	actors   Actors
	recorder Recorder
	opts     Options
	tracer   trace.Tracer
}

func New(actors Actors, recorder Recorder, opts Options) *Dispatcher {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Dispatcher{
		actors:   actors,
		recorder: recorder,
		opts:     opts,
		tracer:   otel.Tracer(tracerName),
	}
}

// Execute runs every step of plan and returns the results in plan order.
// It fails only when the plan itself is invalid; step failures are carried
// in the returned RunResult.
func (d *Dispatcher) Execute(ctx context.Context, plan *swarm.Plan, req agent.Request) (*agent.RunResult, error) {
	if _, err := swarm.Validate(plan); err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.run", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("plan.shape", string(plan.Shape)),
		attribute.Int("plan.steps", len(plan.Steps)),
		attribute.Bool("plan.throttled", plan.Throttled),
	))
	defer span.End()

	limit := d.opts.MaxConcurrency
	if plan.MaxConcurrency > 0 {
		limit = min(limit, plan.MaxConcurrency)
	}
	sem := semaphore.NewWeighted(int64(limit))

	start := time.Now()
	n := len(plan.Steps)
	results := make([]agent.Result, n)
	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for i, step := range plan.Steps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done[i])

			// Dependencies always reach a terminal result, failed or not.
			upstream := make([]agent.Result, 0, len(step.DependsOn))
			for _, dep := range step.DependsOn {
				<-done[dep]
				upstream = append(upstream, results[dep])
			}

			results[i] = d.schedule(ctx, sem, req, step, upstream)
			if d.opts.Observer != nil {
				d.opts.Observer(req, step, results[i])
			}
		}()
	}
	wg.Wait()

	run := &agent.RunResult{
		RequestID:     req.ID,
		Success:       true,
		Steps:         results,
		TotalDuration: time.Since(start),
	}
	for _, r := range results {
		if !r.Success {
			run.Success = false
			break
		}
	}
	run.MergedOutput = Aggregate(results)

	status := "success"
	if !run.Success {
		status = "failure"
		span.SetStatus(codes.Error, "one or more steps failed")
	}
	d.opts.Metrics.incRun(string(plan.Shape), status)
	slog.Info("plan executed", "request", req.ID, "shape", plan.Shape, "steps", n,
		"success", run.Success, "duration", run.TotalDuration)

	return run, nil
}

// schedule waits for a concurrency slot and runs the step. Steps that have
// not started when ctx is cancelled are marked cancelled without running.
func (d *Dispatcher) schedule(ctx context.Context, sem *semaphore.Weighted, req agent.Request, step swarm.Step, upstream []agent.Result) agent.Result {
	if err := ctx.Err(); err != nil {
		return cancelled(step.Role, err)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return cancelled(step.Role, err)
	}
	defer sem.Release(1)

	if err := ctx.Err(); err != nil {
		return cancelled(step.Role, err)
	}

	d.opts.Metrics.stepStarted()
	defer d.opts.Metrics.stepFinished()

	res := d.runStep(ctx, req, step, upstream)

	status := "success"
	if !res.Success {
		status = string(res.Error.Kind)
	}
	d.opts.Metrics.observeStep(step.Role.String(), status, res.Duration)

	// Cancelled steps say nothing about the agent.
	if d.recorder != nil && (res.Success || res.Error.Kind != agent.KindCancelled) {
		d.recorder.Record(step.Role, res.Duration, res.Success)
	}
	return res
}

func (d *Dispatcher) runStep(ctx context.Context, req agent.Request, step swarm.Step, upstream []agent.Result) (res agent.Result) {
	ctx, span := d.tracer.Start(ctx, "dispatch.step", trace.WithAttributes(
		attribute.Int("step.index", step.Index),
		attribute.String("step.role", step.Role.String()),
	))
	defer span.End()

	res = agent.Result{Role: step.Role}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(attribute.Int("step.attempts", res.Attempts))
		if res.Error != nil {
			span.SetStatus(codes.Error, res.Error.Error())
		}
	}()

	desc, ok := d.actors.Get(step.Role)
	if !ok || desc.Actor == nil {
		res.Error = &agent.StepError{Kind: agent.KindNoEligibleAgent, Message: fmt.Sprintf("no actor registered for %s", step.Role)}
		return res
	}

	text, rctx := step.Input(req, upstream)

	stepCtx, cancel := context.WithTimeout(ctx, d.opts.StepTimeout)
	defer cancel()

	for {
		res.Attempts++
		out, err := invoke(stepCtx, desc.Actor, text, rctx)
		if err == nil {
			res.Success = true
			res.Output = out
			return res
		}

		res.Error = d.classify(ctx, stepCtx, err)
		if !res.Error.Kind.Transient() || res.Attempts > d.opts.MaxRetries {
			d.logFailure(req, step, res)
			return res
		}

		d.opts.Metrics.incRetry(step.Role.String(), string(res.Error.Kind))
		slog.Debug("retrying step", "request", req.ID, "role", step.Role,
			"attempt", res.Attempts, "kind", res.Error.Kind)

		if d.opts.RetryBackoff > 0 {
			timer := time.NewTimer(d.opts.RetryBackoff)
			select {
			case <-timer.C:
			case <-stepCtx.Done():
				timer.Stop()
				res.Error = d.classify(ctx, stepCtx, stepCtx.Err())
				d.logFailure(req, step, res)
				return res
			}
		}
	}
}

// classify maps an attempt error onto a step error. Cancellation of the
// request and expiry of the step deadline take precedence over whatever
// the actor returned.
func (d *Dispatcher) classify(parent, stepCtx context.Context, err error) *agent.StepError {
	if parent.Err() != nil {
		return &agent.StepError{Kind: agent.KindCancelled, Message: "request cancelled"}
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return &agent.StepError{Kind: agent.KindTimeout, Message: fmt.Sprintf("step timed out after %s", d.opts.StepTimeout)}
	}
	return agent.NewStepError(err)
}

func (d *Dispatcher) logFailure(req agent.Request, step swarm.Step, res agent.Result) {
	if res.Error.Kind == agent.KindCancelled {
		return
	}
	slog.Warn("step failed", "request", req.ID, "step", step.Index, "role", step.Role,
		"kind", res.Error.Kind, "error", res.Error.Message, "attempts", res.Attempts)
}

type outcome struct {
	out agent.Output
	err error
}

// invoke calls the actor in its own goroutine so a step whose actor
// ignores ctx still ends at its deadline. Panics become internal errors.
func invoke(ctx context.Context, actor agent.Actor, text string, rctx map[string]any) (agent.Output, error) {
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("%w: actor panic: %v", agent.ErrInternal, r)}
			}
		}()
		out, err := actor.Act(ctx, text, rctx)
		ch <- outcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		return o.out, o.err
	case <-ctx.Done():
		return agent.Output{}, ctx.Err()
	}
}

func cancelled(role agent.Role, err error) agent.Result {
	return agent.Result{
		Role:  role,
		Error: &agent.StepError{Kind: agent.KindCancelled, Message: fmt.Sprintf("not started: %v", err)},
	}
}
