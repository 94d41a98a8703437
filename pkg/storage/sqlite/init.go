package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedids/pkg/errors"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
	ErrMarshal      = errors.New("failed to marshal column")
	ErrUnmarshal    = errors.New("failed to unmarshal column")
	ErrNotFound     = pkgerrors.ErrNotFound
)

// RoundRepository is the history of finished rounds across runs.
type RoundRepository interface {
	// SaveRound stores report, replacing an earlier report of the same run
	// and round.
	SaveRound(ctx context.Context, report orchestration.RoundReport) error
	GetRound(ctx context.Context, runID string, round uint64) (orchestration.RoundReport, error)
	// ListRounds lists reports of runID, or of every run when runID is
	// empty, oldest first.
	ListRounds(ctx context.Context, runID string, offset, limit uint64) ([]orchestration.RoundReport, uint64, error)
}

type Database struct {
	*sqlx.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}
	if err := database.Migrate(); err != nil {
		db.Close()

		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_rounds",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS rounds (
						run_id TEXT NOT NULL,
						round INTEGER NOT NULL,
						status TEXT NOT NULL,
						participants TEXT NOT NULL,
						clients TEXT NOT NULL,
						failures TEXT NOT NULL,
						global_metrics TEXT,
						error TEXT,
						started_at TIMESTAMP NOT NULL,
						finished_at TIMESTAMP NOT NULL,
						PRIMARY KEY (run_id, round)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_rounds_finished_at ON rounds(finished_at)`,
				},
				Down: []string{
					`DROP INDEX IF EXISTS idx_rounds_finished_at`,
					`DROP TABLE IF EXISTS rounds`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("database migration error: %w", err)
	}

	return nil
}
