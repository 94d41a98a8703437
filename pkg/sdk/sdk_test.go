package sdk_test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/coordinator/api"
	"github.com/absmach/fedids/coordinator/mocks"
	"github.com/absmach/fedids/pkg/checkpoint"
	pkgerrors "github.com/absmach/fedids/pkg/errors"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/absmach/fedids/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (sdk.SDK, *mocks.Service) {
	t.Helper()

	svc := new(mocks.Service)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(api.MakeHandler(svc, logger, "test"))
	t.Cleanup(ts.Close)

	return sdk.NewSDK(sdk.Config{CoordinatorURL: ts.URL}), svc
}

func TestStartRun(t *testing.T) {
	s, svc := setup(t)

	expected := orchestration.RunConfig{
		Rounds: 3,
		Round: orchestration.RoundConfig{
			MinFitClients: 2,
			Timeout:       5 * time.Minute,
			Fit:           fl.FitConfig{Epochs: 1, BatchSize: 32},
		},
	}
	resolved := expected
	resolved.ID = "run-1"
	svc.On("StartRun", mock.Anything, expected).Return(resolved, nil).Once()

	cfg, err := s.StartRun(sdk.Run{Rounds: 3, MinFitClients: 2, Timeout: "5m", Epochs: 1, BatchSize: 32})
	require.NoError(t, err)
	assert.Equal(t, resolved, cfg)

	cases := []struct {
		desc string
		run  sdk.Run
	}{
		{desc: "bad timeout", run: sdk.Run{Rounds: 1, MinFitClients: 1, Timeout: "soon", Epochs: 1, BatchSize: 1}},
		{desc: "no rounds", run: sdk.Run{MinFitClients: 1, Timeout: "1m", Epochs: 1, BatchSize: 1}},
		{desc: "no epochs", run: sdk.Run{Rounds: 1, MinFitClients: 1, Timeout: "1m", BatchSize: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := s.StartRun(tc.run)
			assert.ErrorIs(t, err, sdk.ErrUnexpectedStatus)
			assert.Contains(t, err.Error(), "400")
		})
	}

	svc.On("StartRun", mock.Anything, mock.Anything).Return(orchestration.RunConfig{}, orchestration.ErrRunInProgress).Once()
	_, err = s.StartRun(sdk.Run{Rounds: 3, MinFitClients: 2, Timeout: "5m", Epochs: 1, BatchSize: 32})
	assert.ErrorIs(t, err, sdk.ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "409")

	svc.AssertExpectations(t)
}

func TestStopAndLastRun(t *testing.T) {
	s, svc := setup(t)

	svc.On("StopRun", mock.Anything).Return(nil).Once()
	require.NoError(t, s.StopRun())

	svc.On("StopRun", mock.Anything).Return(coordinator.ErrNoActiveRun).Once()
	assert.ErrorIs(t, s.StopRun(), sdk.ErrUnexpectedStatus)

	summary := coordinator.RunSummary{
		RunResult: orchestration.RunResult{
			RunID:          "run-1",
			Phase:          orchestration.Completed,
			LastCheckpoint: 3,
			GlobalMetrics:  fl.Metrics{"accuracy": 0.9},
		},
	}
	svc.On("LastRun", mock.Anything).Return(summary, nil).Once()
	got, err := s.LastRun()
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, orchestration.Completed, got.Phase)
	assert.Equal(t, uint64(3), got.LastCheckpoint)
	assert.InDelta(t, 0.9, got.GlobalMetrics["accuracy"], 1e-12)

	svc.On("LastRun", mock.Anything).Return(coordinator.RunSummary{}, coordinator.ErrNoRun).Once()
	_, err = s.LastRun()
	assert.Contains(t, err.Error(), "404")

	svc.AssertExpectations(t)
}

func TestStatus(t *testing.T) {
	s, svc := setup(t)

	status := orchestration.Status{
		RunID:        "run-1",
		Phase:        orchestration.CollectingResults,
		Round:        2,
		Participants: []string{"c1", "c2"},
		Pending:      []string{"c2"},
		Received:     []string{"c1"},
	}
	svc.On("Status", mock.Anything).Return(status, nil).Once()

	got, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, status.Phase, got.Phase)
	assert.Equal(t, status.Participants, got.Participants)
	assert.Equal(t, status.Pending, got.Pending)
	svc.AssertExpectations(t)
}

func TestClients(t *testing.T) {
	s, svc := setup(t)

	svc.On("GetClient", mock.Anything, "c1").Return(orchestration.Client{ID: "c1", Name: "edge", Alive: true}, nil).Once()
	c, err := s.GetClient("c1")
	require.NoError(t, err)
	assert.Equal(t, "edge", c.Name)
	assert.True(t, c.Alive)

	svc.On("GetClient", mock.Anything, "c9").Return(orchestration.Client{}, pkgerrors.ErrNotFound).Once()
	_, err = s.GetClient("c9")
	assert.Contains(t, err.Error(), "404")

	page := orchestration.ClientPage{Offset: 1, Limit: 5, Total: 2, Clients: []orchestration.Client{{ID: "c2"}}}
	svc.On("ListClients", mock.Anything, uint64(1), uint64(5)).Return(page, nil).Once()
	got, err := s.ListClients(1, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Total)
	require.Len(t, got.Clients, 1)

	_, err = s.ListClients(0, 1000)
	assert.Contains(t, err.Error(), "400")

	svc.AssertExpectations(t)
}

func TestRounds(t *testing.T) {
	s, svc := setup(t)

	page := orchestration.RoundReportPage{
		Limit: 100,
		Total: 1,
		Reports: []orchestration.RoundReport{{
			RunID:  "run-1",
			Round:  1,
			Status: orchestration.RoundCompleted,
		}},
	}
	svc.On("ListRounds", mock.Anything, "run-1", uint64(0), uint64(100)).Return(page, nil).Once()

	got, err := s.ListRounds("run-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, got.Reports, 1)
	assert.Equal(t, orchestration.RoundCompleted, got.Reports[0].Status)
	svc.AssertExpectations(t)
}

func TestCheckpoints(t *testing.T) {
	s, svc := setup(t)

	written := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	infos := []checkpoint.Info{{Round: 1, WrittenAt: written, Size: 10}, {Round: 2, WrittenAt: written, Size: 12}}
	svc.On("ListCheckpoints", mock.Anything).Return(infos, nil).Once()
	gotInfos, err := s.ListCheckpoints()
	require.NoError(t, err)
	assert.Equal(t, infos, gotInfos)

	ckpt := checkpoint.Checkpoint{
		Round:      2,
		Parameters: fl.ParameterSet{{Shape: []int{2}, Data: []float64{0.5, -1}}},
		WrittenAt:  written,
	}
	svc.On("GetCheckpoint", mock.Anything, uint64(0)).Return(ckpt, nil).Once()
	svc.On("GetCheckpoint", mock.Anything, uint64(2)).Return(ckpt, nil).Once()
	svc.On("GetCheckpoint", mock.Anything, uint64(7)).Return(checkpoint.Checkpoint{}, checkpoint.ErrNotFound).Once()

	for _, round := range []uint64{0, 2} {
		got, err := s.GetCheckpoint(round)
		require.NoError(t, err)
		assert.Equal(t, ckpt, got)
	}
	_, err = s.GetCheckpoint(7)
	assert.Contains(t, err.Error(), "404")

	eval := coordinator.Evaluation{
		Round:      2,
		NumSamples: 100,
		Loss:       0.25,
		Clients:    map[string]coordinator.ClientEvaluation{"c1": {NumSamples: 100, Loss: 0.25}},
	}
	svc.On("EvaluateCheckpoint", mock.Anything, uint64(2), fl.FitConfig{BatchSize: 64}).Return(eval, nil).Once()
	gotEval, err := s.EvaluateCheckpoint(2, fl.FitConfig{BatchSize: 64})
	require.NoError(t, err)
	assert.Equal(t, 100, gotEval.NumSamples)
	assert.InDelta(t, 0.25, gotEval.Loss, 1e-12)
	assert.Contains(t, gotEval.Clients, "c1")

	svc.AssertExpectations(t)
}
