package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
)

const roundColumns = `run_id, round, status, participants, clients, failures, global_metrics, error, started_at, finished_at`

type dbRound struct {
	RunID         string         `db:"run_id"`
	Round         uint64         `db:"round"`
	Status        string         `db:"status"`
	Participants  string         `db:"participants"`
	Clients       string         `db:"clients"`
	Failures      string         `db:"failures"`
	GlobalMetrics sql.NullString `db:"global_metrics"`
	Error         sql.NullString `db:"error"`
	StartedAt     time.Time      `db:"started_at"`
	FinishedAt    time.Time      `db:"finished_at"`
}

type roundRepo struct {
	db *Database
}

func NewRoundRepository(db *Database) RoundRepository {
	return &roundRepo{db: db}
}

func (r *roundRepo) SaveRound(ctx context.Context, report orchestration.RoundReport) error {
	row, err := toDBRound(report)
	if err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(
		ctx,
		`INSERT OR REPLACE INTO rounds (`+roundColumns+`)
		VALUES (:run_id, :round, :status, :participants, :clients, :failures, :global_metrics, :error, :started_at, :finished_at)`,
		row,
	); err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *roundRepo) GetRound(ctx context.Context, runID string, round uint64) (orchestration.RoundReport, error) {
	var row dbRound
	if err := r.db.GetContext(ctx, &row, `SELECT `+roundColumns+` FROM rounds WHERE run_id = ? AND round = ?`, runID, round); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orchestration.RoundReport{}, ErrNotFound
		}

		return orchestration.RoundReport{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return fromDBRound(row)
}

func (r *roundRepo) ListRounds(ctx context.Context, runID string, offset, limit uint64) ([]orchestration.RoundReport, uint64, error) {
	where, args := "", []any{}
	if runID != "" {
		where, args = ` WHERE run_id = ?`, append(args, runID)
	}

	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM rounds`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var rows []dbRound
	if err := r.db.SelectContext(
		ctx,
		&rows,
		`SELECT `+roundColumns+` FROM rounds`+where+` ORDER BY finished_at ASC, round ASC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	reports := make([]orchestration.RoundReport, 0, len(rows))
	for _, row := range rows {
		report, err := fromDBRound(row)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, report)
	}

	return reports, total, nil
}

func toDBRound(report orchestration.RoundReport) (dbRound, error) {
	participants, err := marshal(report.Participants, []string{})
	if err != nil {
		return dbRound{}, err
	}
	clients, err := marshal(report.Clients, map[string]orchestration.ClientResult{})
	if err != nil {
		return dbRound{}, err
	}
	failures, err := marshal(report.Failures, []orchestration.ClientFailure{})
	if err != nil {
		return dbRound{}, err
	}

	row := dbRound{
		RunID:        report.RunID,
		Round:        report.Round,
		Status:       string(report.Status),
		Participants: participants,
		Clients:      clients,
		Failures:     failures,
		Error:        sql.NullString{String: report.Error, Valid: report.Error != ""},
		StartedAt:    report.StartedAt.UTC(),
		FinishedAt:   report.FinishedAt.UTC(),
	}
	if len(report.GlobalMetrics) > 0 {
		data, err := json.Marshal(report.GlobalMetrics)
		if err != nil {
			return dbRound{}, fmt.Errorf("%w: %w", ErrMarshal, err)
		}
		row.GlobalMetrics = sql.NullString{String: string(data), Valid: true}
	}

	return row, nil
}

func fromDBRound(row dbRound) (orchestration.RoundReport, error) {
	report := orchestration.RoundReport{
		RunID:      row.RunID,
		Round:      row.Round,
		Status:     orchestration.RoundStatus(row.Status),
		Error:      row.Error.String,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
	}

	if err := unmarshal(row.Participants, &report.Participants); err != nil {
		return orchestration.RoundReport{}, err
	}
	if err := unmarshal(row.Clients, &report.Clients); err != nil {
		return orchestration.RoundReport{}, err
	}
	if err := unmarshal(row.Failures, &report.Failures); err != nil {
		return orchestration.RoundReport{}, err
	}
	if len(report.Failures) == 0 {
		report.Failures = nil
	}
	if row.GlobalMetrics.Valid {
		var m fl.Metrics
		if err := unmarshal(row.GlobalMetrics.String, &m); err != nil {
			return orchestration.RoundReport{}, err
		}
		report.GlobalMetrics = m
	}

	return report, nil
}

// marshal encodes v, or empty when v is nil, so that columns always hold
// valid JSON.
func marshal[T any](v, empty T) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	if string(data) == "null" {
		if data, err = json.Marshal(empty); err != nil {
			return "", fmt.Errorf("%w: %w", ErrMarshal, err)
		}
	}

	return string(data), nil
}

func unmarshal(data string, v any) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshal, err)
	}

	return nil
}
