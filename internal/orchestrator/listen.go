package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/natsbus"
)

const submitQueue = "orchestrator"

// Listen serves natsbus.TopicSubmit requests until ctx is done or Close is
// called. Each request runs in its own goroutine under ctx.
func (o *Orchestrator) Listen(ctx context.Context) error {
	if o.client == nil {
		return errors.New("orchestrator has no nats client")
	}
	sub, err := o.client.QueueSubscribe(natsbus.TopicSubmit, submitQueue, func(msg *nats.Msg) {
		go o.handleSubmit(ctx, msg)
	})
	if err != nil {
		return err
	}
	o.sub = sub
	slog.Info("orchestrator listening", "topic", natsbus.TopicSubmit)
	return nil
}

func (o *Orchestrator) Close() {
	if o.sub != nil {
		_ = o.sub.Unsubscribe()
	}
}

func (o *Orchestrator) handleSubmit(ctx context.Context, msg *nats.Msg) {
	var req natsbus.SubmitRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		o.respondIPC(msg, natsbus.SubmitReply{Error: "invalid payload"})
		return
	}

	if req.Context == nil {
		req.Context = map[string]any{}
	}
	if _, ok := req.Context[agent.SenderKey]; !ok {
		req.Context[agent.SenderKey] = "nats"
	}

	res, err := o.Submit(ctx, agent.Request{Text: req.Text, Context: req.Context})
	if err != nil {
		o.respondIPC(msg, natsbus.SubmitReply{Error: err.Error()})
		return
	}
	o.respondIPC(msg, Reply(res))
}

// Reply converts a run result into its wire form.
func Reply(res *agent.RunResult) natsbus.SubmitReply {
	reply := natsbus.SubmitReply{
		RequestID:    res.RequestID,
		Success:      res.Success,
		MergedOutput: res.MergedOutput,
		DurationMs:   res.TotalDurationMs(),
	}
	for _, s := range res.Steps {
		reply.Roles = append(reply.Roles, s.Role.String())
	}
	return reply
}

func (o *Orchestrator) respondIPC(msg *nats.Msg, data any) {
	resp, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(resp); err != nil {
		slog.Error("failed to respond to IPC", "error", err)
	}
}
