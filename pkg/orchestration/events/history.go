package events

import (
	"context"

	"github.com/absmach/fedids/pkg/orchestration"
)

// RoundRepository persists finished rounds.
type RoundRepository interface {
	SaveRound(ctx context.Context, report orchestration.RoundReport) error
}

type historyEmitter struct {
	repo RoundRepository
}

// NewHistoryEmitter stores every finished round, completed or aborted, and
// ignores the other events.
func NewHistoryEmitter(repo RoundRepository) orchestration.EventEmitter {
	return &historyEmitter{repo: repo}
}

func (h *historyEmitter) EmitClientRegistered(context.Context, orchestration.Client) error {
	return nil
}

func (h *historyEmitter) EmitClientDisconnected(context.Context, string) error {
	return nil
}

func (h *historyEmitter) EmitRoundStarted(context.Context, string, uint64, []string) error {
	return nil
}

func (h *historyEmitter) EmitRoundFinished(ctx context.Context, report orchestration.RoundReport) error {
	return h.repo.SaveRound(ctx, report)
}

func (h *historyEmitter) EmitRunFinished(context.Context, orchestration.RunResult) error {
	return nil
}
