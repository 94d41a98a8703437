package events

import (
	"context"
	"errors"

	"github.com/absmach/fedids/pkg/orchestration"
)

type fanout []orchestration.EventEmitter

// Fanout delivers every event to all emitters and joins their errors.
func Fanout(emitters ...orchestration.EventEmitter) orchestration.EventEmitter {
	return fanout(emitters)
}

func (f fanout) EmitClientRegistered(ctx context.Context, c orchestration.Client) error {
	return f.each(func(e orchestration.EventEmitter) error { return e.EmitClientRegistered(ctx, c) })
}

func (f fanout) EmitClientDisconnected(ctx context.Context, clientID string) error {
	return f.each(func(e orchestration.EventEmitter) error { return e.EmitClientDisconnected(ctx, clientID) })
}

func (f fanout) EmitRoundStarted(ctx context.Context, runID string, round uint64, participants []string) error {
	return f.each(func(e orchestration.EventEmitter) error {
		return e.EmitRoundStarted(ctx, runID, round, participants)
	})
}

func (f fanout) EmitRoundFinished(ctx context.Context, report orchestration.RoundReport) error {
	return f.each(func(e orchestration.EventEmitter) error { return e.EmitRoundFinished(ctx, report) })
}

func (f fanout) EmitRunFinished(ctx context.Context, result orchestration.RunResult) error {
	return f.each(func(e orchestration.EventEmitter) error { return e.EmitRunFinished(ctx, result) })
}

func (f fanout) each(fn func(orchestration.EventEmitter) error) error {
	var errs []error
	for _, e := range f {
		if err := fn(e); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
