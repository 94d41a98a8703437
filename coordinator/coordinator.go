// Package coordinator runs the training coordinator service: it binds the
// round coordinator to the MQTT protocol, keeps the run lifecycle and serves
// the history of rounds and checkpoints.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/evaluator"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
)

var (
	ErrNotEnoughClients = errors.New("not enough clients registered")
	ErrNoRun            = errors.New("no run has finished yet")
	ErrNoActiveRun      = errors.New("no run in progress")
	ErrNoReplies        = errors.New("no client replied")
	ErrBootstrap        = errors.New("failed to bootstrap initial parameters")
)

type Service interface {
	// StartRun starts a run in the background and returns its resolved
	// configuration.
	StartRun(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunConfig, error)
	// Run blocks until the run has completed or aborted.
	Run(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunResult, error)
	// StopRun cancels the active run, which aborts its current round.
	StopRun(ctx context.Context) error
	Status(ctx context.Context) (orchestration.Status, error)
	LastRun(ctx context.Context) (RunSummary, error)

	GetClient(ctx context.Context, clientID string) (orchestration.Client, error)
	ListClients(ctx context.Context, offset, limit uint64) (orchestration.ClientPage, error)
	ListRounds(ctx context.Context, runID string, offset, limit uint64) (orchestration.RoundReportPage, error)

	ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error)
	GetCheckpoint(ctx context.Context, round uint64) (checkpoint.Checkpoint, error)
	// EvaluateCheckpoint asks every alive client to score the checkpoint of
	// round, or the latest one when round is 0, on its local data.
	EvaluateCheckpoint(ctx context.Context, round uint64, cfg fl.FitConfig) (Evaluation, error)

	Subscribe(ctx context.Context) error
	// ExpireClients marks clients silent for longer than the alive timeout
	// as disconnected.
	ExpireClients(ctx context.Context) ([]string, error)
}

// RunSummary is the outcome of the last finished run.
type RunSummary struct {
	orchestration.RunResult
	Test *evaluator.Report `json:"test,omitempty"`
}

type ClientEvaluation struct {
	NumSamples int        `json:"num_samples"`
	Loss       float64    `json:"loss"`
	Metrics    fl.Metrics `json:"metrics,omitempty"`
}

// Evaluation is the federated evaluation of one checkpoint. Loss and
// Metrics are weighted by the clients' sample counts.
type Evaluation struct {
	Round      uint64                      `json:"round"`
	NumSamples int                         `json:"num_samples"`
	Loss       float64                     `json:"loss"`
	Metrics    fl.Metrics                  `json:"metrics,omitempty"`
	Clients    map[string]ClientEvaluation `json:"clients"`
	Failures   map[string]string           `json:"failures,omitempty"`
}

type Config struct {
	DomainID  string
	ChannelID string
	// MinAvailableClients is how many alive clients a run waits for.
	MinAvailableClients int
	WaitTimeout         time.Duration
	RequestTimeout      time.Duration
	AliveTimeout        time.Duration
	// LivenessSchedule is the cron spec of the liveness sweep.
	LivenessSchedule string
	// TestData is an optional CSV the final model is evaluated on.
	TestData string
}
