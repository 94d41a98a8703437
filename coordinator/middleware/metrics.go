package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/go-kit/kit/metrics"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     coordinator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) observe(method string, begin time.Time) {
	mm.counter.With("method", method).Add(1)
	mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) StartRun(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunConfig, error) {
	defer mm.observe("start-run", time.Now())

	return mm.svc.StartRun(ctx, cfg)
}

func (mm *metricsMiddleware) Run(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunResult, error) {
	defer mm.observe("run", time.Now())

	return mm.svc.Run(ctx, cfg)
}

func (mm *metricsMiddleware) StopRun(ctx context.Context) error {
	defer mm.observe("stop-run", time.Now())

	return mm.svc.StopRun(ctx)
}

func (mm *metricsMiddleware) Status(ctx context.Context) (orchestration.Status, error) {
	defer mm.observe("status", time.Now())

	return mm.svc.Status(ctx)
}

func (mm *metricsMiddleware) LastRun(ctx context.Context) (coordinator.RunSummary, error) {
	defer mm.observe("last-run", time.Now())

	return mm.svc.LastRun(ctx)
}

func (mm *metricsMiddleware) GetClient(ctx context.Context, clientID string) (orchestration.Client, error) {
	defer mm.observe("get-client", time.Now())

	return mm.svc.GetClient(ctx, clientID)
}

func (mm *metricsMiddleware) ListClients(ctx context.Context, offset, limit uint64) (orchestration.ClientPage, error) {
	defer mm.observe("list-clients", time.Now())

	return mm.svc.ListClients(ctx, offset, limit)
}

func (mm *metricsMiddleware) ListRounds(ctx context.Context, runID string, offset, limit uint64) (orchestration.RoundReportPage, error) {
	defer mm.observe("list-rounds", time.Now())

	return mm.svc.ListRounds(ctx, runID, offset, limit)
}

func (mm *metricsMiddleware) ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error) {
	defer mm.observe("list-checkpoints", time.Now())

	return mm.svc.ListCheckpoints(ctx)
}

func (mm *metricsMiddleware) GetCheckpoint(ctx context.Context, round uint64) (checkpoint.Checkpoint, error) {
	defer mm.observe("get-checkpoint", time.Now())

	return mm.svc.GetCheckpoint(ctx, round)
}

func (mm *metricsMiddleware) EvaluateCheckpoint(ctx context.Context, round uint64, cfg fl.FitConfig) (coordinator.Evaluation, error) {
	defer mm.observe("evaluate-checkpoint", time.Now())

	return mm.svc.EvaluateCheckpoint(ctx, round, cfg)
}

func (mm *metricsMiddleware) Subscribe(ctx context.Context) error {
	defer mm.observe("subscribe", time.Now())

	return mm.svc.Subscribe(ctx)
}

func (mm *metricsMiddleware) ExpireClients(ctx context.Context) ([]string, error) {
	defer mm.observe("expire-clients", time.Now())

	return mm.svc.ExpireClients(ctx)
}
