package cli_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/absmach/fedids/cli"
	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/coordinator/api"
	"github.com/absmach/fedids/coordinator/mocks"
	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/checkpoint/fs"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/model"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/absmach/fedids/pkg/sdk"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *mocks.Service {
	t.Helper()
	color.NoColor = true

	svc := new(mocks.Service)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(api.MakeHandler(svc, logger, "test"))
	t.Cleanup(ts.Close)

	cli.SetSDK(sdk.NewSDK(sdk.Config{CoordinatorURL: ts.URL}))

	return svc
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())

	return out.String(), errOut.String()
}

func TestRunsStartFromConfig(t *testing.T) {
	svc := setup(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	conf := "[run]\nrounds = 4\nmin_fit_clients = 2\ntimeout = \"1m\"\nepochs = 2\nbatch_size = 16\n"
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o600))

	expected := orchestration.RunConfig{
		Rounds: 6,
		Round: orchestration.RoundConfig{
			MinFitClients: 2,
			Timeout:       time.Minute,
			Fit:           fl.FitConfig{Epochs: 2, BatchSize: 16},
		},
	}
	started := expected
	started.ID = "run-42"
	svc.On("StartRun", mock.Anything, expected).Return(started, nil).Once()

	out, errOut := execute(t, cli.NewRunsCmd(), "start", "--config", path, "--rounds", "6")
	assert.Empty(t, errOut)
	assert.Contains(t, out, "run-42")
	svc.AssertExpectations(t)
}

func TestRunsStop(t *testing.T) {
	svc := setup(t)

	svc.On("StopRun", mock.Anything).Return(nil).Once()
	out, _ := execute(t, cli.NewRunsCmd(), "stop")
	assert.Contains(t, out, "ok")

	svc.On("StopRun", mock.Anything).Return(coordinator.ErrNoActiveRun).Once()
	_, errOut := execute(t, cli.NewRunsCmd(), "stop")
	assert.Contains(t, errOut, "409")

	svc.AssertExpectations(t)
}

func TestCheckpointsView(t *testing.T) {
	svc := setup(t)

	ckpt := checkpoint.Checkpoint{Round: 3, Parameters: fl.ParameterSet{{Shape: []int{1}, Data: []float64{1}}}}
	svc.On("GetCheckpoint", mock.Anything, uint64(0)).Return(ckpt, nil).Once()

	out, errOut := execute(t, cli.NewCheckpointsCmd(), "view", "latest")
	assert.Empty(t, errOut)
	assert.Contains(t, out, "parameters")

	_, errOut = execute(t, cli.NewCheckpointsCmd(), "view", "0")
	assert.Contains(t, errOut, "invalid round")

	out, _ = execute(t, cli.NewCheckpointsCmd(), "view")
	assert.Contains(t, out, "usage")

	svc.AssertExpectations(t)
}

func TestCheckpointsEvaluateLocal(t *testing.T) {
	setup(t)

	dir := t.TempDir()
	store, err := fs.NewStore(filepath.Join(dir, "checkpoints"))
	require.NoError(t, err)

	m, err := model.NewMLP(model.Config{Inputs: 2, Hidden: []int{4}, LearningRate: 0.01, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), checkpoint.Checkpoint{Round: 1, Parameters: m.Parameters()}))

	var csv strings.Builder
	for i := range 20 {
		a := float64(i%5) / 5
		fmt.Fprintf(&csv, "%g,%g,%d\n", a, 1-a, i%2)
	}
	data := filepath.Join(dir, "test.csv")
	require.NoError(t, os.WriteFile(data, []byte(csv.String()), 0o600))

	out, errOut := execute(t, cli.NewCheckpointsCmd(), "evaluate", "latest", "--data", data, "--store", filepath.Join(dir, "checkpoints"))
	assert.Empty(t, errOut)
	assert.Contains(t, out, "accuracy")
	assert.Contains(t, out, "confusion_matrix")
}
