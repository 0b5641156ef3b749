package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/bknd-io/bknd/errors"
)

const tableName = "configs"

// SQLiteStore persists configuration history in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig holds connection settings for the SQLite store.
type SQLiteConfig struct {
	// Path is the database file, or ":memory:" for an ephemeral database.
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore opens the database and verifies the connection. Sync must
// be called before the first read or write so the table exists.
func NewSQLiteStore(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle so modules can share the connection.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Sync creates the configuration table and its version index. With force
// set, the table is dropped and recreated empty.
func (s *SQLiteStore) Sync(ctx context.Context, force bool) error {
	if force {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+tableName); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	ddl := `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		type       TEXT    NOT NULL,
		version    INTEGER NOT NULL,
		json       TEXT    NOT NULL,
		created_at TEXT    NOT NULL,
		updated_at TEXT    NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	idx := `CREATE INDEX IF NOT EXISTS idx_configs_type_version ON ` + tableName + ` (type, version DESC)`
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// FetchLatest returns the highest-versioned row among the given types.
func (s *SQLiteStore) FetchLatest(ctx context.Context, types ...RecordType) (ConfigRecord, error) {
	query := `SELECT id, type, version, json, created_at, updated_at FROM ` + tableName
	args := make([]any, 0, len(types))
	if len(types) > 0 {
		query += ` WHERE type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY version DESC, id DESC LIMIT 1`

	var (
		rec                  ConfigRecord
		typ, payload         string
		createdAt, updatedAt string
	)
	row := s.db.QueryRowContext(ctx, query, args...)
	err := row.Scan(&rec.ID, &typ, &rec.Version, &payload, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ConfigRecord{}, errors.ErrConfigNotFound
	}
	if err != nil {
		return ConfigRecord{}, fmt.Errorf("fetch latest: %w", err)
	}
	rec.Type = RecordType(typ)
	rec.JSON = json.RawMessage(payload)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

// Insert appends one row.
func (s *SQLiteStore) Insert(ctx context.Context, rec ConfigRecord) (ConfigRecord, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO `+tableName+` (type, version, json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(rec.Type), rec.Version, string(rec.JSON), formatTime(now), formatTime(now),
	)
	if err != nil {
		return ConfigRecord{}, fmt.Errorf("insert row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ConfigRecord{}, fmt.Errorf("insert row: %w", err)
	}
	rec.ID = id
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return rec, nil
}

// InsertMany appends rows inside a single transaction.
func (s *SQLiteStore) InsertMany(ctx context.Context, recs []ConfigRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	now := formatTime(time.Now().UTC())
	for _, rec := range recs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+tableName+` (type, version, json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			string(rec.Type), rec.Version, string(rec.JSON), now, now,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpdateByID replaces the payload of an existing row.
func (s *SQLiteStore) UpdateByID(ctx context.Context, id int64, payload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+tableName+` SET json = ?, updated_at = ? WHERE id = ?`,
		string(payload), formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: row %d", errors.ErrRecordNotFound, id)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, '?')
	}
	return string(out)
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
