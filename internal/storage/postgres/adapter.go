package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	"github.com/kurihiro0119/issue-watch-bots/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_units (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		bot TEXT NOT NULL,
		tracker TEXT NOT NULL DEFAULT '',
		repository TEXT NOT NULL DEFAULT '',
		repositories JSONB NOT NULL DEFAULT '[]',
		entity_id TEXT NOT NULL,
		entity_updated_at TIMESTAMPTZ NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_units_bot ON work_units(bot);
	CREATE INDEX IF NOT EXISTS idx_work_units_kind ON work_units(kind);
	CREATE INDEX IF NOT EXISTS idx_work_units_created_at ON work_units(created_at);

	CREATE TABLE IF NOT EXISTS bot_runs (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		bot TEXT NOT NULL,
		phase TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		duration_ns BIGINT NOT NULL,
		emitted INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_bot_runs_bot_started ON bot_runs(bot, started_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveWorkUnits saves work units in one transaction
func (s *postgresStorage) SaveWorkUnits(ctx context.Context, units []*domain.WorkUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO work_units (id, kind, bot, tracker, repository, repositories, entity_id, entity_updated_at, title, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			entity_updated_at = EXCLUDED.entity_updated_at,
			title = EXCLUDED.title,
			url = EXCLUDED.url
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, unit := range units {
		reposJSON, err := json.Marshal(nonNil(unit.Repositories))
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx,
			unit.ID,
			string(unit.Kind),
			unit.Bot,
			unit.Tracker,
			unit.Repository,
			string(reposJSON),
			unit.EntityID,
			unit.EntityUpdatedAt,
			unit.Title,
			unit.URL,
			unit.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetWorkUnits lists work units, newest first
func (s *postgresStorage) GetWorkUnits(ctx context.Context, filter domain.WorkUnitFilter) ([]*domain.WorkUnit, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Bot != "" {
		conditions = append(conditions, "bot = "+arg(filter.Bot))
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = "+arg(string(filter.Kind)))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+arg(filter.Since))
	}

	query := `
		SELECT id, kind, bot, tracker, repository, repositories, entity_id, entity_updated_at, title, url, created_at
		FROM work_units
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []*domain.WorkUnit
	for rows.Next() {
		var unit domain.WorkUnit
		var kind string
		var reposJSON []byte
		if err := rows.Scan(
			&unit.ID, &kind, &unit.Bot, &unit.Tracker, &unit.Repository, &reposJSON,
			&unit.EntityID, &unit.EntityUpdatedAt, &unit.Title, &unit.URL, &unit.CreatedAt,
		); err != nil {
			return nil, err
		}
		unit.Kind = domain.WorkKind(kind)
		if err := json.Unmarshal(reposJSON, &unit.Repositories); err != nil {
			return nil, fmt.Errorf("work unit %s: decode repositories: %w", unit.ID, err)
		}
		units = append(units, &unit)
	}

	return units, rows.Err()
}

// SaveBotRun saves a single bot run
func (s *postgresStorage) SaveBotRun(ctx context.Context, run *domain.BotRun) error {
	query := `
		INSERT INTO bot_runs (id, bot, phase, started_at, duration_ns, emitted, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			duration_ns = EXCLUDED.duration_ns,
			emitted = EXCLUDED.emitted,
			error = EXCLUDED.error
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Bot,
		run.Phase,
		run.StartedAt,
		int64(run.Duration),
		run.Emitted,
		run.Error,
	)
	return err
}

// GetBotRuns lists the runs of one bot, newest first
func (s *postgresStorage) GetBotRuns(ctx context.Context, bot string, limit int) ([]*domain.BotRun, error) {
	query := `
		SELECT id, bot, phase, started_at, duration_ns, emitted, error
		FROM bot_runs
		WHERE bot = $1
		ORDER BY started_at DESC, seq DESC
	`
	args := []interface{}{bot}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.BotRun
	for rows.Next() {
		var run domain.BotRun
		var durationNS int64
		if err := rows.Scan(&run.ID, &run.Bot, &run.Phase, &run.StartedAt, &durationNS, &run.Emitted, &run.Error); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durationNS)
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
