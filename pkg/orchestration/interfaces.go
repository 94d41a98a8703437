package orchestration

import (
	"context"
	"time"

	"github.com/absmach/fedids/pkg/fl"
)

// Registry keeps the registered client sessions.
type Registry interface {
	CreateClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id string) (Client, error)
	UpdateClient(ctx context.Context, c Client) error
	ListClients(ctx context.Context, offset, limit uint64) ([]Client, uint64, error)
}

// Dispatch is the payload of one round sent to one client.
type Dispatch struct {
	RunID      string
	Round      uint64
	Parameters fl.ParameterSet
	Config     fl.FitConfig
	Deadline   time.Time
}

type Dispatcher interface {
	// Dispatch hands the round to a client. An error means the client could
	// not be reached.
	Dispatch(ctx context.Context, clientID string, d Dispatch) error
}

type EventEmitter interface {
	EmitClientRegistered(ctx context.Context, c Client) error
	EmitClientDisconnected(ctx context.Context, clientID string) error
	EmitRoundStarted(ctx context.Context, runID string, round uint64, participants []string) error
	EmitRoundFinished(ctx context.Context, report RoundReport) error
	EmitRunFinished(ctx context.Context, result RunResult) error
}

type Selector interface {
	// Select picks at most n of the alive clients. n <= 0 selects all of them.
	Select(ctx context.Context, clients []Client, n int) ([]Client, error)
}
