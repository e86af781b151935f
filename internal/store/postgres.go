package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"altanian/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps one JSONB document per player in game.ledgers.
type Postgres struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS game`,
		`CREATE TABLE IF NOT EXISTS game.ledgers (
			user_id        TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			doc            JSONB NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return classifyPG(err)
		}
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, l game.Ledger) (game.Ledger, bool, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return game.Ledger{}, false, err
	}
	cmd, err := p.db.Exec(ctx, `
		INSERT INTO game.ledgers (user_id, schema_version, doc, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, l.UserID, l.SchemaVersion, string(raw), l.CreatedAt)
	if err != nil {
		return game.Ledger{}, false, classifyPG(err)
	}
	if cmd.RowsAffected() == 1 {
		return l, true, nil
	}
	existing, err := p.Load(ctx, l.UserID)
	return existing, false, err
}

func (p *Postgres) Load(ctx context.Context, userID string) (game.Ledger, error) {
	var raw []byte
	err := p.db.QueryRow(ctx, `SELECT doc FROM game.ledgers WHERE user_id = $1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Ledger{}, game.ErrNotStarted
		}
		return game.Ledger{}, classifyPG(err)
	}
	return game.DecodeLedger(raw)
}

// Update runs fn under a row lock in a serializable transaction, retrying
// serialization failures with backoff.
func (p *Postgres) Update(ctx context.Context, userID string, fn func(*game.Ledger) error) (game.Ledger, error) {
	const maxAttempts = 6
	retryDelay := 50 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := p.updateOnce(ctx, userID, fn)
		if err == nil {
			return out, nil
		}
		if !isSerializationError(err) {
			return game.Ledger{}, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		p.log.Warn("ledger update conflict, retrying", "user_id", userID, "attempt", attempt+1)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return game.Ledger{}, classifyPG(err)
		}
		if retryDelay < 800*time.Millisecond {
			retryDelay *= 2
		}
	}
	return game.Ledger{}, game.ErrTxConflict
}

func (p *Postgres) updateOnce(ctx context.Context, userID string, fn func(*game.Ledger) error) (game.Ledger, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return game.Ledger{}, classifyPG(err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	if err := tx.QueryRow(ctx, `
		SELECT doc FROM game.ledgers WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Ledger{}, game.ErrNotStarted
		}
		return game.Ledger{}, classifyPG(err)
	}
	l, err := game.DecodeLedger(raw)
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
	if _, err := tx.Exec(ctx, `
		UPDATE game.ledgers
		SET doc = $1::jsonb, schema_version = $2, updated_at = now()
		WHERE user_id = $3
	`, string(next), l.SchemaVersion, userID); err != nil {
		return game.Ledger{}, classifyPG(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return game.Ledger{}, classifyPG(err)
	}
	return l, nil
}

func (p *Postgres) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT user_id FROM game.ledgers ORDER BY user_id`)
	if err != nil {
		return nil, classifyPG(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifyPG(err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPG(err)
	}
	return out, nil
}

// classifyPG marks connectivity failures as ErrStorageUnavailable and
// leaves serialization failures recognizable for the retry loop.
func classifyPG(err error) error {
	if err == nil || isSerializationError(err) {
		return err
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: %v", game.ErrStorageUnavailable, err)
	}
	return err
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P03", pgErr.Code == "53300":
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
