package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
)

var _ coordinator.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    coordinator.Service
}

func Logging(logger *slog.Logger, svc coordinator.Service) coordinator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) StartRun(ctx context.Context, cfg orchestration.RunConfig) (resp orchestration.RunConfig, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("run",
				slog.String("id", resp.ID),
				slog.Uint64("rounds", cfg.Rounds),
				slog.Int("min_fit_clients", cfg.Round.MinFitClients),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Start run failed", args...)

			return
		}
		lm.logger.Info("Start run completed successfully", args...)
	}(time.Now())

	return lm.svc.StartRun(ctx, cfg)
}

func (lm *loggingMiddleware) Run(ctx context.Context, cfg orchestration.RunConfig) (resp orchestration.RunResult, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("run",
				slog.String("id", resp.RunID),
				slog.Uint64("rounds", cfg.Rounds),
				slog.Uint64("last_checkpoint", resp.LastCheckpoint),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Run failed", args...)

			return
		}
		lm.logger.Info("Run completed successfully", args...)
	}(time.Now())

	return lm.svc.Run(ctx, cfg)
}

func (lm *loggingMiddleware) StopRun(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Stop run failed", args...)

			return
		}
		lm.logger.Info("Stop run completed successfully", args...)
	}(time.Now())

	return lm.svc.StopRun(ctx)
}

func (lm *loggingMiddleware) Status(ctx context.Context) (orchestration.Status, error) {
	return lm.svc.Status(ctx)
}

func (lm *loggingMiddleware) LastRun(ctx context.Context) (resp coordinator.RunSummary, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get last run failed", args...)

			return
		}
		lm.logger.Info("Get last run completed successfully", args...)
	}(time.Now())

	return lm.svc.LastRun(ctx)
}

func (lm *loggingMiddleware) GetClient(ctx context.Context, clientID string) (resp orchestration.Client, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("client",
				slog.String("id", clientID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get client failed", args...)

			return
		}
		lm.logger.Info("Get client completed successfully", args...)
	}(time.Now())

	return lm.svc.GetClient(ctx, clientID)
}

func (lm *loggingMiddleware) ListClients(ctx context.Context, offset, limit uint64) (resp orchestration.ClientPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List clients failed", args...)

			return
		}
		lm.logger.Info("List clients completed successfully", args...)
	}(time.Now())

	return lm.svc.ListClients(ctx, offset, limit)
}

func (lm *loggingMiddleware) ListRounds(ctx context.Context, runID string, offset, limit uint64) (resp orchestration.RoundReportPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("run_id", runID),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List rounds failed", args...)

			return
		}
		lm.logger.Info("List rounds completed successfully", args...)
	}(time.Now())

	return lm.svc.ListRounds(ctx, runID, offset, limit)
}

func (lm *loggingMiddleware) ListCheckpoints(ctx context.Context) (resp []checkpoint.Info, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("count", len(resp)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List checkpoints failed", args...)

			return
		}
		lm.logger.Info("List checkpoints completed successfully", args...)
	}(time.Now())

	return lm.svc.ListCheckpoints(ctx)
}

func (lm *loggingMiddleware) GetCheckpoint(ctx context.Context, round uint64) (resp checkpoint.Checkpoint, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("round", round),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get checkpoint failed", args...)

			return
		}
		lm.logger.Info("Get checkpoint completed successfully", args...)
	}(time.Now())

	return lm.svc.GetCheckpoint(ctx, round)
}

func (lm *loggingMiddleware) EvaluateCheckpoint(ctx context.Context, round uint64, cfg fl.FitConfig) (resp coordinator.Evaluation, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("evaluation",
				slog.Uint64("round", resp.Round),
				slog.Int("clients", len(resp.Clients)),
				slog.Int("failures", len(resp.Failures)),
				slog.Float64("loss", resp.Loss),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Evaluate checkpoint failed", args...)

			return
		}
		lm.logger.Info("Evaluate checkpoint completed successfully", args...)
	}(time.Now())

	return lm.svc.EvaluateCheckpoint(ctx, round, cfg)
}

func (lm *loggingMiddleware) Subscribe(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Subscribe failed", args...)

			return
		}
		lm.logger.Info("Subscribe completed successfully", args...)
	}(time.Now())

	return lm.svc.Subscribe(ctx)
}

func (lm *loggingMiddleware) ExpireClients(ctx context.Context) (resp []string, err error) {
	defer func(begin time.Time) {
		if err == nil && len(resp) == 0 {
			return
		}
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Any("expired", resp),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Expire clients failed", args...)

			return
		}
		lm.logger.Info("Expire clients completed successfully", args...)
	}(time.Now())

	return lm.svc.ExpireClients(ctx)
}
