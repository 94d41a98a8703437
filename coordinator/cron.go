package coordinator

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

const defaultLivenessSchedule = "@every 10s"

// NewLivenessSweeper schedules svc.ExpireClients on spec. The caller starts
// and stops the returned scheduler.
func NewLivenessSweeper(ctx context.Context, svc Service, spec string, logger *slog.Logger) (*cron.Cron, error) {
	if spec == "" {
		spec = defaultLivenessSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		expired, err := svc.ExpireClients(ctx)
		if err != nil {
			logger.Error("liveness sweep failed", slog.Any("error", err))

			return
		}
		for _, id := range expired {
			logger.Warn("client expired", slog.String("client_id", id))
		}
	}); err != nil {
		return nil, err
	}

	return c, nil
}
