package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_contexts (
	context_id TEXT PRIMARY KEY,
	messages   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresBackend stores each context as one JSONB row.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Close() {
	b.pool.Close()
}

func (b *PostgresBackend) Read(ctx context.Context, contextID string) ([]Message, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT messages FROM conversation_contexts WHERE context_id = $1`, contextID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select context: %w", err)
	}

	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("parse context: %w", err)
	}
	return msgs, nil
}

func (b *PostgresBackend) Write(ctx context.Context, contextID string, messages []Message) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = b.pool.Exec(ctx, `
		INSERT INTO conversation_contexts (context_id, messages, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (context_id) DO UPDATE SET messages = EXCLUDED.messages, updated_at = now()`,
		contextID, raw,
	)
	if err != nil {
		return fmt.Errorf("upsert context: %w", err)
	}
	return nil
}
