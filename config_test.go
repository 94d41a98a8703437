package fedids_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/fedids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[coordinator]
url = "http://localhost:7070"
domain_id = "d1"
channel_id = "c1"

[client]
domain_id = "d1"
channel_id = "c1"
data_path = "train.csv"

[run]
rounds = 5
min_fit_clients = 3
timeout = "90s"
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := fedids.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:7070", cfg.Coordinator.URL)
	assert.Equal(t, "train.csv", cfg.Client.DataPath)
	assert.Equal(t, uint64(5), cfg.Run.Rounds)
	assert.Equal(t, 3, cfg.Run.MinFitClients)
	// Unset keys keep their defaults.
	assert.Equal(t, 1, cfg.Run.Epochs)
	assert.Equal(t, 32, cfg.Run.BatchSize)

	run, err := cfg.Run.Orchestration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, run.Round.Timeout)
	assert.Equal(t, 3, run.Round.MinFitClients)

	_, err = fedids.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := fedids.Config{Run: fedids.DefaultRunConfig()}
	cfg.Coordinator.URL = "http://coordinator:7070"
	cfg.Client.ParamsKey = "00ff"

	require.NoError(t, fedids.SaveConfig(path, cfg))

	loaded, err := fedids.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)
}

func TestRunConfigOrchestration(t *testing.T) {
	cases := []struct {
		desc   string
		mutate func(*fedids.RunConfig)
	}{
		{desc: "bad timeout", mutate: func(r *fedids.RunConfig) { r.Timeout = "later" }},
		{desc: "no rounds", mutate: func(r *fedids.RunConfig) { r.Rounds = 0 }},
		{desc: "no fit clients", mutate: func(r *fedids.RunConfig) { r.MinFitClients = 0 }},
		{desc: "no batch size", mutate: func(r *fedids.RunConfig) { r.BatchSize = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			run := fedids.DefaultRunConfig()
			tc.mutate(&run)
			_, err := run.Orchestration()
			assert.Error(t, err)
		})
	}
}
