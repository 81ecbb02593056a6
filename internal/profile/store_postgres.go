package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore keeps each profile as a JSONB document in the profiles table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	doc JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure profiles schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Profile, error) {
	var raw []byte
	const q = `SELECT doc FROM profiles WHERE id = $1`
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("query profile: %w", err)
	}
	return Decode(id, raw)
}

func (s *PostgresStore) Put(ctx context.Context, id string, p Profile) error {
	if err := validateKey(id); err != nil {
		return err
	}
	raw, err := Encode(p)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO profiles (id, doc, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (id) DO UPDATE
SET doc = EXCLUDED.doc,
	updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, id, raw); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM profiles WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}
