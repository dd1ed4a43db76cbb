package fallback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/nanzhong/marketdata/market"
)

const schema = `
CREATE TABLE IF NOT EXISTS fallback_values (
	symbol     TEXT        NOT NULL,
	data_type  TEXT        NOT NULL,
	item       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (symbol, data_type)
);

CREATE TABLE IF NOT EXISTS failed_fetches (
	symbol      TEXT        NOT NULL,
	data_type   TEXT        NOT NULL,
	last_error  TEXT        NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (symbol, data_type)
);

CREATE INDEX IF NOT EXISTS failed_fetches_recorded_at_idx ON failed_fetches (recorded_at);
`

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func OpenPostgres(dsn string, opts PoolOptions) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	return db, nil
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// EnsureSchema creates the fallback tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating fallback schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordFailedFetch(ctx context.Context, symbol string, dataType market.DataType, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_fetches (symbol, data_type, last_error, recorded_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (symbol, data_type) DO UPDATE SET
			last_error  = EXCLUDED.last_error,
			recorded_at = EXCLUDED.recorded_at
	`, symbol, string(dataType), reason)
	if err != nil {
		return fmt.Errorf("record failed fetch %s: %w", symbol, err)
	}
	return nil
}

func (s *PostgresStore) GetFallbackForSymbol(ctx context.Context, symbol string, dataType market.DataType) (*market.Item, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT item FROM fallback_values WHERE symbol = $1 AND data_type = $2`,
		symbol, string(dataType),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fallback %s: %w", symbol, err)
	}

	var item market.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode fallback %s: %w", symbol, err)
	}
	return &item, nil
}

func (s *PostgresStore) GetFallbackData(ctx context.Context, dataType market.DataType, symbols []string) (map[string]market.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, item FROM fallback_values WHERE data_type = $1 AND symbol = ANY($2)`,
		string(dataType), pq.Array(symbols),
	)
	if err != nil {
		return nil, fmt.Errorf("get fallback data: %w", err)
	}
	defer rows.Close()

	out := make(map[string]market.Item)
	for rows.Next() {
		var (
			symbol string
			raw    []byte
			item   market.Item
		)
		if err := rows.Scan(&symbol, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode fallback %s: %w", symbol, err)
		}
		out[symbol] = item
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveFallbackData(ctx context.Context, dataType market.DataType, items map[string]market.Item) (err error) {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fallback_values (symbol, data_type, item, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (symbol, data_type) DO UPDATE SET
			item       = EXCLUDED.item,
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare fallback upsert: %w", err)
	}
	defer stmt.Close()

	for symbol, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode fallback %s: %w", symbol, err)
		}
		if _, err := stmt.ExecContext(ctx, symbol, string(dataType), raw); err != nil {
			return fmt.Errorf("save fallback %s: %w", symbol, err)
		}
	}
	return nil
}

func (s *PostgresStore) FailedSymbols(ctx context.Context, day time.Time, dataType market.DataType) ([]Record, error) {
	start, end := dayBounds(day)
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, data_type, last_error, recorded_at
		FROM failed_fetches
		WHERE data_type = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY symbol
	`, string(dataType), start, end)
	if err != nil {
		return nil, fmt.Errorf("list failed symbols: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r  Record
			dt string
		)
		if err := rows.Scan(&r.Symbol, &dt, &r.LastError, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.DataType = market.DataType(dt)
		r.RecordedAt = r.RecordedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
