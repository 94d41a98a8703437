package mocks

import (
	"context"

	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Service = (*Service)(nil)

// Service is a mock implementation of coordinator.Service.
type Service struct {
	mock.Mock
}

func (m *Service) StartRun(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunConfig, error) {
	args := m.Called(ctx, cfg)
	return args.Get(0).(orchestration.RunConfig), args.Error(1)
}

func (m *Service) Run(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunResult, error) {
	args := m.Called(ctx, cfg)
	return args.Get(0).(orchestration.RunResult), args.Error(1)
}

func (m *Service) StopRun(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Service) Status(ctx context.Context) (orchestration.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(orchestration.Status), args.Error(1)
}

func (m *Service) LastRun(ctx context.Context) (coordinator.RunSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(coordinator.RunSummary), args.Error(1)
}

func (m *Service) GetClient(ctx context.Context, clientID string) (orchestration.Client, error) {
	args := m.Called(ctx, clientID)
	return args.Get(0).(orchestration.Client), args.Error(1)
}

func (m *Service) ListClients(ctx context.Context, offset, limit uint64) (orchestration.ClientPage, error) {
	args := m.Called(ctx, offset, limit)
	return args.Get(0).(orchestration.ClientPage), args.Error(1)
}

func (m *Service) ListRounds(ctx context.Context, runID string, offset, limit uint64) (orchestration.RoundReportPage, error) {
	args := m.Called(ctx, runID, offset, limit)
	return args.Get(0).(orchestration.RoundReportPage), args.Error(1)
}

func (m *Service) ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error) {
	args := m.Called(ctx)
	return args.Get(0).([]checkpoint.Info), args.Error(1)
}

func (m *Service) GetCheckpoint(ctx context.Context, round uint64) (checkpoint.Checkpoint, error) {
	args := m.Called(ctx, round)
	return args.Get(0).(checkpoint.Checkpoint), args.Error(1)
}

func (m *Service) EvaluateCheckpoint(ctx context.Context, round uint64, cfg fl.FitConfig) (coordinator.Evaluation, error) {
	args := m.Called(ctx, round, cfg)
	return args.Get(0).(coordinator.Evaluation), args.Error(1)
}

func (m *Service) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Service) ExpireClients(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}
