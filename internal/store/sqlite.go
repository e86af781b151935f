package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"altanian/internal/game"

	_ "modernc.org/sqlite"
)

// SQLite is the single-node document store used for local play and tests.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; transactions then never see SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ledgers (
		user_id        TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		doc            TEXT NOT NULL,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);`)
	return err
}

func (s *SQLite) Create(ctx context.Context, l game.Ledger) (game.Ledger, bool, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return game.Ledger{}, false, err
	}
	ts := l.CreatedAt.UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ledgers (user_id, schema_version, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.UserID, l.SchemaVersion, string(raw), ts, ts)
	if err != nil {
		return game.Ledger{}, false, unavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return l, true, nil
	}
	existing, err := s.Load(ctx, l.UserID)
	return existing, false, err
}

func (s *SQLite) Load(ctx context.Context, userID string) (game.Ledger, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM ledgers WHERE user_id = ?`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return game.Ledger{}, game.ErrNotStarted
		}
		return game.Ledger{}, unavailable(err)
	}
	return game.DecodeLedger([]byte(raw))
}

func (s *SQLite) Update(ctx context.Context, userID string, fn func(*game.Ledger) error) (game.Ledger, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return game.Ledger{}, unavailable(err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT doc FROM ledgers WHERE user_id = ?`, userID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return game.Ledger{}, game.ErrNotStarted
		}
		return game.Ledger{}, unavailable(err)
	}
	l, err := game.DecodeLedger([]byte(raw))
	if err != nil {
		return game.Ledger{}, err
	}
	if err := fn(&l); err != nil {
		return game.Ledger{}, err
	}
	next, err := json.Marshal(l)
	if err != nil {
		return game.Ledger{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE ledgers SET doc = ?, schema_version = ?, updated_at = ? WHERE user_id = ?
	`, string(next), l.SchemaVersion, time.Now().UTC().Format(time.RFC3339Nano), userID); err != nil {
		return game.Ledger{}, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return game.Ledger{}, unavailable(err)
	}
	return l, nil
}

func (s *SQLite) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM ledgers ORDER BY user_id`)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// PutRaw stores an arbitrary document, bypassing encoding. Legacy imports use it.
func (s *SQLite) PutRaw(ctx context.Context, userID string, raw []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledgers (user_id, schema_version, doc, created_at, updated_at)
		VALUES (?, 0, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, userID, string(raw), now, now)
	return unavailable(err)
}

// unavailable wraps driver failures; context expiry included.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", game.ErrStorageUnavailable, err)
}
