package middleware

import (
	"context"

	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) StartRun(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunConfig, error) {
	ctx, span := tm.tracer.Start(ctx, "start-run", trace.WithAttributes(
		attribute.String("id", cfg.ID),
		attribute.Int64("rounds", int64(cfg.Rounds)),
	))
	defer span.End()

	return tm.svc.StartRun(ctx, cfg)
}

func (tm *tracing) Run(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunResult, error) {
	ctx, span := tm.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("id", cfg.ID),
		attribute.Int64("rounds", int64(cfg.Rounds)),
	))
	defer span.End()

	return tm.svc.Run(ctx, cfg)
}

func (tm *tracing) StopRun(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "stop-run")
	defer span.End()

	return tm.svc.StopRun(ctx)
}

func (tm *tracing) Status(ctx context.Context) (orchestration.Status, error) {
	ctx, span := tm.tracer.Start(ctx, "status")
	defer span.End()

	return tm.svc.Status(ctx)
}

func (tm *tracing) LastRun(ctx context.Context) (coordinator.RunSummary, error) {
	ctx, span := tm.tracer.Start(ctx, "last-run")
	defer span.End()

	return tm.svc.LastRun(ctx)
}

func (tm *tracing) GetClient(ctx context.Context, clientID string) (orchestration.Client, error) {
	ctx, span := tm.tracer.Start(ctx, "get-client", trace.WithAttributes(
		attribute.String("id", clientID),
	))
	defer span.End()

	return tm.svc.GetClient(ctx, clientID)
}

func (tm *tracing) ListClients(ctx context.Context, offset, limit uint64) (orchestration.ClientPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-clients", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListClients(ctx, offset, limit)
}

func (tm *tracing) ListRounds(ctx context.Context, runID string, offset, limit uint64) (orchestration.RoundReportPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-rounds", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRounds(ctx, runID, offset, limit)
}

func (tm *tracing) ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error) {
	ctx, span := tm.tracer.Start(ctx, "list-checkpoints")
	defer span.End()

	return tm.svc.ListCheckpoints(ctx)
}

func (tm *tracing) GetCheckpoint(ctx context.Context, round uint64) (checkpoint.Checkpoint, error) {
	ctx, span := tm.tracer.Start(ctx, "get-checkpoint", trace.WithAttributes(
		attribute.Int64("round", int64(round)),
	))
	defer span.End()

	return tm.svc.GetCheckpoint(ctx, round)
}

func (tm *tracing) EvaluateCheckpoint(ctx context.Context, round uint64, cfg fl.FitConfig) (coordinator.Evaluation, error) {
	ctx, span := tm.tracer.Start(ctx, "evaluate-checkpoint", trace.WithAttributes(
		attribute.Int64("round", int64(round)),
		attribute.Int("epochs", cfg.Epochs),
		attribute.Int("batch_size", cfg.BatchSize),
	))
	defer span.End()

	return tm.svc.EvaluateCheckpoint(ctx, round, cfg)
}

func (tm *tracing) Subscribe(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "subscribe")
	defer span.End()

	return tm.svc.Subscribe(ctx)
}

func (tm *tracing) ExpireClients(ctx context.Context) ([]string, error) {
	ctx, span := tm.tracer.Start(ctx, "expire-clients")
	defer span.End()

	return tm.svc.ExpireClients(ctx)
}
