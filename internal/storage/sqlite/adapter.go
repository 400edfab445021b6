package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/issue-watch-bots/internal/domain"
	"github.com/kurihiro0119/issue-watch-bots/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_units (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		bot TEXT NOT NULL,
		tracker TEXT NOT NULL DEFAULT '',
		repository TEXT NOT NULL DEFAULT '',
		repositories TEXT NOT NULL DEFAULT '[]',
		entity_id TEXT NOT NULL,
		entity_updated_at TIMESTAMP NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_units_bot ON work_units(bot);
	CREATE INDEX IF NOT EXISTS idx_work_units_kind ON work_units(kind);
	CREATE INDEX IF NOT EXISTS idx_work_units_created_at ON work_units(created_at);

	CREATE TABLE IF NOT EXISTS bot_runs (
		id TEXT PRIMARY KEY,
		bot TEXT NOT NULL,
		phase TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		duration_ns INTEGER NOT NULL,
		emitted INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_bot_runs_bot_started ON bot_runs(bot, started_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveWorkUnits saves work units in one transaction
func (s *sqliteStorage) SaveWorkUnits(ctx context.Context, units []*domain.WorkUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO work_units (id, kind, bot, tracker, repository, repositories, entity_id, entity_updated_at, title, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			unit.EntityUpdatedAt.UTC(),
			unit.Title,
			unit.URL,
			unit.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetWorkUnits lists work units, newest first
func (s *sqliteStorage) GetWorkUnits(ctx context.Context, filter domain.WorkUnitFilter) ([]*domain.WorkUnit, error) {
	var conditions []string
	var args []interface{}
	if filter.Bot != "" {
		conditions = append(conditions, "bot = ?")
		args = append(args, filter.Bot)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `
		SELECT id, kind, bot, tracker, repository, repositories, entity_id, entity_updated_at, title, url, created_at
		FROM work_units
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []*domain.WorkUnit
	for rows.Next() {
		var unit domain.WorkUnit
		var kind, reposJSON string
		if err := rows.Scan(
			&unit.ID, &kind, &unit.Bot, &unit.Tracker, &unit.Repository, &reposJSON,
			&unit.EntityID, &unit.EntityUpdatedAt, &unit.Title, &unit.URL, &unit.CreatedAt,
		); err != nil {
			return nil, err
		}
		unit.Kind = domain.WorkKind(kind)
		if err := json.Unmarshal([]byte(reposJSON), &unit.Repositories); err != nil {
			return nil, fmt.Errorf("work unit %s: decode repositories: %w", unit.ID, err)
		}
		units = append(units, &unit)
	}

	return units, rows.Err()
}

// SaveBotRun saves a single bot run
func (s *sqliteStorage) SaveBotRun(ctx context.Context, run *domain.BotRun) error {
	query := `
		INSERT OR REPLACE INTO bot_runs (id, bot, phase, started_at, duration_ns, emitted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Bot,
		run.Phase,
		run.StartedAt.UTC(),
		int64(run.Duration),
		run.Emitted,
		run.Error,
	)
	return err
}

// GetBotRuns lists the runs of one bot, newest first
func (s *sqliteStorage) GetBotRuns(ctx context.Context, bot string, limit int) ([]*domain.BotRun, error) {
	query := `
		SELECT id, bot, phase, started_at, duration_ns, emitted, error
		FROM bot_runs
		WHERE bot = ?
		ORDER BY started_at DESC, rowid DESC
	`
	args := []interface{}{bot}
	if limit > 0 {
		query += " LIMIT ?"
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
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
