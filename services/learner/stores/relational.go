// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// solutionsSchema creates the corpus table. Deletion correctness relies
// on Postgres transactions, not application-level locking: the learning
// loop inserts while GC deletes, and both are single statements.
const solutionsSchema = `
CREATE TABLE IF NOT EXISTS solutions (
    id           UUID PRIMARY KEY,
    pattern_id   UUID NOT NULL,
    content_hash TEXT NOT NULL,
    value_score  DOUBLE PRECISION,
    source       TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS solutions_content_hash_idx ON solutions (content_hash);
CREATE INDEX IF NOT EXISTS solutions_value_score_idx ON solutions (value_score);
`

// Solution is one persisted corpus entry in the relational store.
//
// The relational store is the source of truth; the vector store is the
// derived index (orphan cleanup is asymmetric for this reason).
type Solution struct {
	ID          string     `json:"id"`
	PatternID   string     `json:"pattern_id"`
	ContentHash string     `json:"content_hash"`
	ValueScore  *float64   `json:"value_score"` // nil: stored awaiting feedback
	Source      string     `json:"source"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RelationalStore wraps a pgx pool over the solutions table.
//
// All calls are expected to run under the relational-store circuit
// breaker; the store itself performs no retries.
type RelationalStore struct {
	pool *pgxpool.Pool
}

// NewRelationalStore connects to Postgres and ensures the schema.
//
// Inputs:
//   - ctx: Context for connection and schema setup.
//   - dsn: Postgres connection string.
//
// Outputs:
//   - *RelationalStore: Ready to use store.
//   - error: Non-nil if the pool or schema cannot be created.
func NewRelationalStore(ctx context.Context, dsn string) (*RelationalStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	store := &RelationalStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *RelationalStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, solutionsSchema); err != nil {
		return fmt.Errorf("ensure solutions schema: %w", err)
	}
	return nil
}

// Insert stores one solution row.
func (s *RelationalStore) Insert(ctx context.Context, sol Solution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO solutions (id, pattern_id, content_hash, value_score, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sol.ID, sol.PatternID, sol.ContentHash, sol.ValueScore, sol.Source, sol.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert solution %s: %w", sol.ID, err)
	}
	return nil
}

// ListAll returns the full corpus, ordered by creation time.
//
// Used by GC passes only. The corpus is bounded by gc.max_solutions, so
// a full scan stays cheap.
func (s *RelationalStore) ListAll(ctx context.Context) ([]Solution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pattern_id, content_hash, value_score, source, created_at
		 FROM solutions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list solutions: %w", err)
	}
	defer rows.Close()

	var out []Solution
	for rows.Next() {
		var sol Solution
		if err := rows.Scan(&sol.ID, &sol.PatternID, &sol.ContentHash,
			&sol.ValueScore, &sol.Source, &sol.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan solution: %w", err)
		}
		out = append(out, sol)
	}
	return out, rows.Err()
}

// Count returns the corpus size.
func (s *RelationalStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM solutions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count solutions: %w", err)
	}
	return count, nil
}

// DeleteByIDs removes solutions by ID in one statement.
//
// Outputs:
//   - int64: Rows actually deleted.
//   - error: Non-nil on query failure.
func (s *RelationalStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM solutions WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete solutions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ContentHashExists reports whether the exact content is already stored.
func (s *RelationalStore) ContentHashExists(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM solutions WHERE content_hash = $1 LIMIT 1`, hash).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check content hash: %w", err)
	}
	return true, nil
}

// GetByPatternIDs returns the solution rows for the given pattern IDs.
//
// Used by the knowledge layer to merge authoritative value scores into
// vector search hits.
func (s *RelationalStore) GetByPatternIDs(ctx context.Context, patternIDs []string) ([]Solution, error) {
	if len(patternIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, pattern_id, content_hash, value_score, source, created_at
		 FROM solutions WHERE pattern_id = ANY($1)`, patternIDs)
	if err != nil {
		return nil, fmt.Errorf("get solutions by pattern id: %w", err)
	}
	defer rows.Close()

	var out []Solution
	for rows.Next() {
		var sol Solution
		if err := rows.Scan(&sol.ID, &sol.PatternID, &sol.ContentHash,
			&sol.ValueScore, &sol.Source, &sol.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan solution: %w", err)
		}
		out = append(out, sol)
	}
	return out, rows.Err()
}

// PatternIDExists reports whether a pattern ID has a solution row.
func (s *RelationalStore) PatternIDExists(ctx context.Context, patternID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM solutions WHERE pattern_id = $1 LIMIT 1`, patternID).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check pattern id: %w", err)
	}
	return true, nil
}

// ListPatternIDs returns the set of pattern IDs present in the corpus.
//
// Used by orphan cleanup to find vector entries with no relational row.
func (s *RelationalStore) ListPatternIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT pattern_id FROM solutions`)
	if err != nil {
		return nil, fmt.Errorf("list pattern ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pattern id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Ping verifies database connectivity.
func (s *RelationalStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *RelationalStore) Close() {
	s.pool.Close()
}
