package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/absmach/fedids/pkg/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlite.Database {
	t.Helper()
	db, err := sqlite.NewDatabase(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func report(runID string, round uint64, status orchestration.RoundStatus, finished time.Time) orchestration.RoundReport {
	r := orchestration.RoundReport{
		RunID:        runID,
		Round:        round,
		Status:       status,
		Participants: []string{"a", "b"},
		Clients: map[string]orchestration.ClientResult{
			"a": {NumSamples: 10, Metrics: fl.Metrics{"loss": 0.3}},
		},
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
	if status == orchestration.RoundAborted {
		r.Failures = []orchestration.ClientFailure{{ClientID: "b", Reason: orchestration.FailureTimeout}}
		r.Error = "round 1: quorum not met"
	} else {
		r.GlobalMetrics = fl.Metrics{"loss": 0.3}
	}

	return r
}

func assertSameReport(t *testing.T, want, got orchestration.RoundReport) {
	t.Helper()

	assert.True(t, want.StartedAt.Equal(got.StartedAt), "started_at %s != %s", want.StartedAt, got.StartedAt)
	assert.True(t, want.FinishedAt.Equal(got.FinishedAt), "finished_at %s != %s", want.FinishedAt, got.FinishedAt)
	want.StartedAt, want.FinishedAt = time.Time{}, time.Time{}
	got.StartedAt, got.FinishedAt = time.Time{}, time.Time{}
	assert.Equal(t, want, got)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
}

func TestSaveAndGetRound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := sqlite.NewRoundRepository(newTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)

	cases := []struct {
		desc   string
		report orchestration.RoundReport
	}{
		{
			desc:   "completed round",
			report: report("run-1", 1, orchestration.RoundCompleted, now),
		},
		{
			desc:   "aborted round",
			report: report("run-1", 2, orchestration.RoundAborted, now.Add(time.Minute)),
		},
		{
			desc: "round without participants",
			report: orchestration.RoundReport{
				RunID:      "run-2",
				Round:      1,
				Status:     orchestration.RoundAborted,
				Clients:    map[string]orchestration.ClientResult{},
				Error:      "quorum not met",
				StartedAt:  now,
				FinishedAt: now,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			require.NoError(t, repo.SaveRound(ctx, tc.report))

			got, err := repo.GetRound(ctx, tc.report.RunID, tc.report.Round)
			require.NoError(t, err)
			if tc.report.Participants == nil {
				tc.report.Participants = []string{}
			}
			assertSameReport(t, tc.report, got)
		})
	}

	_, err := repo.GetRound(ctx, "run-1", 9)
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestSaveRoundReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := sqlite.NewRoundRepository(newTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.SaveRound(ctx, report("run", 1, orchestration.RoundAborted, now)))
	require.NoError(t, repo.SaveRound(ctx, report("run", 1, orchestration.RoundCompleted, now)))

	got, err := repo.GetRound(ctx, "run", 1)
	require.NoError(t, err)
	assert.Equal(t, orchestration.RoundCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestListRounds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := sqlite.NewRoundRepository(newTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, repo.SaveRound(ctx, report("run-a", i, orchestration.RoundCompleted, now.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, repo.SaveRound(ctx, report("run-b", 1, orchestration.RoundAborted, now.Add(10*time.Minute))))

	cases := []struct {
		desc   string
		runID  string
		offset uint64
		limit  uint64
		total  uint64
		rounds []uint64
	}{
		{desc: "all runs", limit: 10, total: 4, rounds: []uint64{1, 2, 3, 1}},
		{desc: "one run", runID: "run-a", limit: 10, total: 3, rounds: []uint64{1, 2, 3}},
		{desc: "paged", runID: "run-a", offset: 1, limit: 1, total: 3, rounds: []uint64{2}},
		{desc: "unknown run", runID: "run-z", limit: 10, total: 0, rounds: []uint64{}},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			reports, total, err := repo.ListRounds(ctx, tc.runID, tc.offset, tc.limit)
			require.NoError(t, err)
			assert.Equal(t, tc.total, total)

			rounds := make([]uint64, 0, len(reports))
			for _, r := range reports {
				rounds = append(rounds, r.Round)
			}
			assert.Equal(t, tc.rounds, rounds)
		})
	}
}
