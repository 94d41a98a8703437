package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fedids/pkg/mqtt"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload []byte
}

type mockPubSub struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (m *mockPubSub) Publish(_ context.Context, topic string, msg any) error {
	if m.err != nil {
		return m.err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, published{topic: topic, payload: data})

	return nil
}

func (m *mockPubSub) Subscribe(context.Context, string, mqtt.Handler) error { return nil }
func (m *mockPubSub) Unsubscribe(context.Context, string) error             { return nil }
func (m *mockPubSub) Disconnect(context.Context) error                      { return nil }

type memoryRepo struct {
	reports []orchestration.RoundReport
}

func (r *memoryRepo) SaveRound(_ context.Context, report orchestration.RoundReport) error {
	r.reports = append(r.reports, report)

	return nil
}

func TestMQTTEventEmitter(t *testing.T) {
	ctx := context.Background()
	ps := &mockPubSub{}
	em := NewMQTTEventEmitter(ps, orchestration.NewTopicBuilder("d", "c"))

	require.NoError(t, em.EmitClientRegistered(ctx, orchestration.Client{ID: "c1"}))
	require.NoError(t, em.EmitRoundStarted(ctx, "run", 2, []string{"c1"}))
	require.NoError(t, em.EmitRoundFinished(ctx, orchestration.RoundReport{RunID: "run", Round: 2, Status: orchestration.RoundCompleted}))
	require.NoError(t, em.EmitRunFinished(ctx, orchestration.RunResult{RunID: "run", Phase: orchestration.Completed}))

	require.Len(t, ps.msgs, 4)
	types := make([]string, 0, len(ps.msgs))
	for _, m := range ps.msgs {
		assert.Equal(t, "m/d/c/c/fl/events", m.topic)
		var ev map[string]any
		require.NoError(t, json.Unmarshal(m.payload, &ev))
		types = append(types, ev["type"].(string))
	}
	assert.Equal(t, []string{ClientRegistered, RoundStarted, RoundFinished, RunFinished}, types)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(ps.msgs[3].payload, &ev))
	assert.Equal(t, "Completed", ev["result"].(map[string]any)["phase"])
}

func TestFanoutAndHistory(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{}
	broken := &mockPubSub{err: errors.New("broker down")}

	em := Fanout(NewMQTTEventEmitter(broken, orchestration.NewTopicBuilder("d", "c")), NewHistoryEmitter(repo))

	report := orchestration.RoundReport{RunID: "run", Round: 1, Status: orchestration.RoundAborted}
	err := em.EmitRoundFinished(ctx, report)
	assert.ErrorContains(t, err, "broker down")
	require.Len(t, repo.reports, 1, "history must be written even when another emitter fails")
	assert.Equal(t, report, repo.reports[0])

	broken.err = nil
	require.NoError(t, em.EmitClientDisconnected(ctx, "c1"))
	assert.Len(t, repo.reports, 1)
}

func TestMetricsEmitter(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	em := NewMetricsEmitter(reg)

	require.NoError(t, em.EmitClientRegistered(ctx, orchestration.Client{ID: "c1"}))
	require.NoError(t, em.EmitClientRegistered(ctx, orchestration.Client{ID: "c2"}))
	require.NoError(t, em.EmitClientDisconnected(ctx, "c2"))
	require.NoError(t, em.EmitRoundStarted(ctx, "run", 1, []string{"c1", "c2"}))

	started := time.Now()
	require.NoError(t, em.EmitRoundFinished(ctx, orchestration.RoundReport{
		RunID:         "run",
		Round:         1,
		Status:        orchestration.RoundCompleted,
		Clients:       map[string]orchestration.ClientResult{"c1": {NumSamples: 10}},
		Failures:      []orchestration.ClientFailure{{ClientID: "c2", Reason: orchestration.FailureDisconnect}},
		GlobalMetrics: map[string]float64{"accuracy": 0.75},
		StartedAt:     started,
		FinishedAt:    started.Add(3 * time.Second),
	}))
	require.NoError(t, em.EmitRoundFinished(ctx, orchestration.RoundReport{RunID: "run", Round: 2, Status: orchestration.RoundAborted}))
	require.NoError(t, em.EmitRunFinished(ctx, orchestration.RunResult{RunID: "run", Phase: orchestration.Aborted}))

	m := em.(*metricsEmitter)
	assert.InDelta(t, 2, testutil.ToFloat64(m.clients.WithLabelValues("registered")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.clients.WithLabelValues("disconnected")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rounds.WithLabelValues("completed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rounds.WithLabelValues("aborted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.updates), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.failures.WithLabelValues("disconnect")), 0)
	assert.InDelta(t, 0.75, testutil.ToFloat64(m.global.WithLabelValues("accuracy")), 1e-12)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("Aborted")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.participants), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}
