package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/macrorun/internal/indicator"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS indicator_lkg (
	indicator_id TEXT PRIMARY KEY,
	payload      JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS indicator_history (
	id           BIGSERIAL PRIMARY KEY,
	indicator_id TEXT NOT NULL,
	current      DOUBLE PRECISION NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	provider     TEXT NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_indicator_history_id_time
	ON indicator_history (indicator_id, observed_at DESC);
`

// PostgresStore persists last-known-good values and an append-only
// observation history. The lkg table answers fallback reads; history
// exists for offline analysis and is never read on the hot path.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects via lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveGood(ctx context.Context, v indicator.Value) error {
	if v.Symbol == "" {
		return nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", v.Symbol, err)
	}

	const upsert = `
		INSERT INTO indicator_lkg (indicator_id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (indicator_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, upsert, v.Symbol, payload); err != nil {
		return fmt.Errorf("upserting %s: %w", v.Symbol, err)
	}

	const insertHistory = `
		INSERT INTO indicator_history (indicator_id, current, confidence, provider, observed_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, insertHistory,
		v.Symbol, v.Current, v.Confidence, v.Provider, v.Timestamp); err != nil {
		return fmt.Errorf("recording history for %s: %w", v.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) LastKnownGood(ctx context.Context, id string) (indicator.Value, bool, error) {
	var payload []byte
	const query = `SELECT payload FROM indicator_lkg WHERE indicator_id = $1`
	if err := s.db.GetContext(ctx, &payload, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return indicator.Value{}, false, nil
		}
		return indicator.Value{}, false, fmt.Errorf("loading %s: %w", id, err)
	}

	var v indicator.Value
	if err := json.Unmarshal(payload, &v); err != nil {
		return indicator.Value{}, false, fmt.Errorf("decoding %s: %w", id, err)
	}
	return v, true, nil
}

// History returns the most recent observations for an indicator,
// newest first.
func (s *PostgresStore) History(ctx context.Context, id string, limit int) ([]HistoryRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows := []HistoryRow{}
	const query = `
		SELECT indicator_id, current, confidence, provider, observed_at
		FROM indicator_history
		WHERE indicator_id = $1
		ORDER BY observed_at DESC
		LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, query, id, limit); err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", id, err)
	}
	return rows, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// HistoryRow is one persisted observation.
type HistoryRow struct {
	IndicatorID string    `db:"indicator_id" json:"indicator_id"`
	Current     float64   `db:"current" json:"current"`
	Confidence  float64   `db:"confidence" json:"confidence"`
	Provider    string    `db:"provider" json:"provider"`
	ObservedAt  time.Time `db:"observed_at" json:"observed_at"`
}
