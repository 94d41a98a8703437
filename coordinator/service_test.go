package coordinator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fedids/client"
	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/pkg/checkpoint/fs"
	"github.com/absmach/fedids/pkg/dataset"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/model"
	"github.com/absmach/fedids/pkg/mqtt"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/absmach/fedids/pkg/orchestration/events"
	"github.com/absmach/fedids/pkg/orchestration/executor"
	"github.com/absmach/fedids/pkg/orchestration/store"
	"github.com/absmach/fedids/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const (
	domainID  = "domain"
	channelID = "channel"
)

// broker delivers every message asynchronously to the handler subscribed to
// its exact topic.
type broker struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.Handler
	published map[string]int
}

func newBroker() *broker {
	return &broker{handlers: make(map[string]mqtt.Handler), published: make(map[string]int)}
}

func (b *broker) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.published[topic]
}

func (b *broker) Publish(_ context.Context, topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.published[topic]++
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if ok {
		go func() {
			_ = h(topic, data)
		}()
	}

	return nil
}

func (b *broker) Subscribe(_ context.Context, topic string, h mqtt.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h

	return nil
}

func (b *broker) Unsubscribe(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)

	return nil
}

func (b *broker) Disconnect(context.Context) error { return nil }

type roundHistory struct {
	mu      sync.Mutex
	reports []orchestration.RoundReport
}

func (h *roundHistory) SaveRound(_ context.Context, report orchestration.RoundReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, report)

	return nil
}

func (h *roundHistory) ListRounds(_ context.Context, runID string, offset, limit uint64) ([]orchestration.RoundReport, uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var matched []orchestration.RoundReport
	for _, r := range h.reports {
		if runID == "" || r.RunID == runID {
			matched = append(matched, r)
		}
	}
	total := uint64(len(matched))
	if offset >= total {
		return []orchestration.RoundReport{}, total, nil
	}

	return slices.Clone(matched[offset:min(offset+limit, total)]), total, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samples(n int, seed uint64) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := range n {
		a, b := rng.Float64()*2-1, rng.Float64()*2-1
		x.SetRow(i, []float64{a, b})
		if a+b > 0 {
			y[i] = 1
		}
	}

	return x, y
}

func writeCSV(t *testing.T, n int, seed uint64) string {
	t.Helper()

	x, y := samples(n, seed)
	var sb strings.Builder
	sb.WriteString("f1,f2,label\n")
	for i := range n {
		fmt.Fprintf(&sb, "%f,%f,%d\n", x.At(i, 0), x.At(i, 1), int(y[i]))
	}

	path := filepath.Join(t.TempDir(), "test.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o600))

	return path
}

type env struct {
	svc     coordinator.Service
	broker  *broker
	history *roundHistory
}

func newEnv(t *testing.T, cfg coordinator.Config, opts ...orchestration.Option) env {
	t.Helper()

	cfg.DomainID, cfg.ChannelID = domainID, channelID
	b := newBroker()
	codec := orchestration.NewCodec(nil)
	topics := orchestration.NewTopicBuilder(domainID, channelID)

	ckpts, err := fs.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ckpts.Close() })

	history := &roundHistory{}
	registry := store.NewMemoryRegistry(storage.NewInMemoryStorage())
	opts = append([]orchestration.Option{orchestration.WithEventEmitter(events.NewHistoryEmitter(history))}, opts...)
	coord := orchestration.NewCoordinator(
		registry,
		executor.NewMQTTDispatcher(b, topics, codec),
		ckpts,
		newLogger(),
		opts...,
	)

	svc := coordinator.NewService(cfg, coord, registry, ckpts, history, b, codec, newLogger())
	require.NoError(t, svc.Subscribe(context.Background()))

	return env{svc: svc, broker: b, history: history}
}

func (e env) startClient(t *testing.T, id string, n int, seed uint64) {
	t.Helper()

	m, err := model.NewMLP(model.Config{Inputs: 2, Hidden: []int{4}, LearningRate: 0.01, Seed: 11})
	require.NoError(t, err)
	x, y := samples(n, seed)
	data, err := dataset.New(x, y)
	require.NoError(t, err)

	cfg := client.Config{
		DomainID:         domainID,
		ChannelID:        channelID,
		LivenessInterval: 50 * time.Millisecond,
		AckTimeout:       200 * time.Millisecond,
		RegisterTimeout:  5 * time.Second,
	}
	svc := client.NewService(cfg, client.NewAgent(id, m, data), e.broker, orchestration.NewCodec(nil), newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func runConfig(rounds uint64) orchestration.RunConfig {
	return orchestration.RunConfig{
		Rounds: rounds,
		Round: orchestration.RoundConfig{
			MinFitClients: 2,
			Timeout:       10 * time.Second,
			Fit:           fl.FitConfig{Epochs: 1, BatchSize: 16},
		},
	}
}

func TestRunWithClients(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, coordinator.Config{
		MinAvailableClients: 2,
		WaitTimeout:         5 * time.Second,
		RequestTimeout:      5 * time.Second,
		TestData:            writeCSV(t, 100, 99),
	})
	e.startClient(t, "c1", 60, 1)
	e.startClient(t, "c2", 40, 2)

	result, err := e.svc.Run(ctx, runConfig(2))
	require.NoError(t, err)
	assert.Equal(t, orchestration.Completed, result.Phase)
	assert.Equal(t, uint64(2), result.LastCheckpoint)
	require.Len(t, result.Reports, 2)
	for i, report := range result.Reports {
		assert.Equal(t, uint64(i+1), report.Round)
		assert.Equal(t, orchestration.RoundCompleted, report.Status)
		assert.Equal(t, []string{"c1", "c2"}, report.Participants)
	}

	infos, err := e.svc.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	page, err := e.svc.ListRounds(ctx, result.RunID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Total)

	clients, err := e.svc.ListClients(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), clients.Total)
	c1, err := e.svc.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 60, c1.NumSamples)
	assert.NotEmpty(t, c1.Name)

	summary, err := e.svc.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.RunID, summary.RunID)
	require.NotNil(t, summary.Test)
	assert.Equal(t, 100, summary.Test.NumSamples)

	eval, err := e.svc.EvaluateCheckpoint(ctx, 0, fl.FitConfig{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), eval.Round)
	assert.Len(t, eval.Clients, 2)
	assert.Equal(t, 100, eval.NumSamples)
	assert.Empty(t, eval.Failures)
	expectedLoss := (eval.Clients["c1"].Loss*60 + eval.Clients["c2"].Loss*40) / 100
	assert.InDelta(t, expectedLoss, eval.Loss, 1e-9)

	// A second run resumes after the last checkpoint.
	result, err = e.svc.Run(ctx, runConfig(1))
	require.NoError(t, err)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, uint64(3), result.Reports[0].Round)
	assert.Equal(t, uint64(3), result.LastCheckpoint)

	expired, err := e.svc.ExpireClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestRunDispatchesToAllAliveClients(t *testing.T) {
	selector, err := orchestration.NewSelector("")
	require.NoError(t, err)

	e := newEnv(t, coordinator.Config{
		MinAvailableClients: 5,
		WaitTimeout:         5 * time.Second,
		RequestTimeout:      5 * time.Second,
	}, orchestration.WithSelector(selector))
	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		e.startClient(t, id, 30, uint64(i+1))
	}

	cfg := runConfig(1)
	cfg.Round.TargetClients = 3
	result, err := e.svc.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, ids, result.Reports[0].Participants)

	topics := orchestration.NewTopicBuilder(domainID, channelID)
	for _, id := range ids {
		assert.Equal(t, 1, e.broker.count(topics.DispatchTopic(id)), "client %s", id)
	}
}

func TestRunWithoutClients(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, coordinator.Config{
		MinAvailableClients: 1,
		WaitTimeout:         100 * time.Millisecond,
	})

	_, err := e.svc.Run(ctx, runConfig(1))
	assert.ErrorIs(t, err, coordinator.ErrNotEnoughClients)

	summary, err := e.svc.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestration.Aborted, summary.Phase)
	assert.Contains(t, summary.Error, coordinator.ErrNotEnoughClients.Error())

	_, err = e.svc.EvaluateCheckpoint(ctx, 0, fl.FitConfig{})
	assert.Error(t, err)
}

func TestStartAndStopRun(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, coordinator.Config{
		MinAvailableClients: 1,
		WaitTimeout:         time.Minute,
	})

	_, err := e.svc.LastRun(ctx)
	assert.ErrorIs(t, err, coordinator.ErrNoRun)
	assert.ErrorIs(t, e.svc.StopRun(ctx), coordinator.ErrNoActiveRun)

	_, err = e.svc.StartRun(ctx, orchestration.RunConfig{})
	assert.ErrorIs(t, err, orchestration.ErrInvalidRounds)

	cfg, err := e.svc.StartRun(ctx, runConfig(1))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ID)

	_, err = e.svc.StartRun(ctx, runConfig(1))
	assert.ErrorIs(t, err, orchestration.ErrRunInProgress)

	require.NoError(t, e.svc.StopRun(ctx))
	require.Eventually(t, func() bool {
		summary, err := e.svc.LastRun(ctx)
		return err == nil && summary.RunID == cfg.ID && summary.Phase == orchestration.Aborted
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return e.svc.StopRun(ctx) != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLivenessSweeper(t *testing.T) {
	e := newEnv(t, coordinator.Config{})

	c, err := coordinator.NewLivenessSweeper(context.Background(), e.svc, "@every 1s", newLogger())
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = coordinator.NewLivenessSweeper(context.Background(), e.svc, "not a schedule", newLogger())
	assert.Error(t, err)
}
