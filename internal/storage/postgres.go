package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool holding run history.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogRun inserts a run and its attempts atomically.
func (db *DB) LogRun(ctx context.Context, run *Run, attempts []AttemptRecord) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning run insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, language, success, reason, code, code_hash,
			attempt_count, tests_total, tests_passed, complexity_score,
			complexity_rating, duration_ms, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		run.ID, run.Language, run.Success, run.Reason,
		truncateForDB(run.Code, 65535), run.CodeHash,
		run.AttemptCount, run.TestsTotal, run.TestsPassed,
		run.ComplexityScore, run.ComplexityTier,
		run.DurationMS, run.CreatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for i := range attempts {
		a := &attempts[i]
		_, err = tx.Exec(ctx, `
			INSERT INTO run_attempts (id, run_id, attempt_index, outcome, code_hash,
				violations, exec_status, tests_total, tests_passed, feedback,
				duration_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			a.ID, a.RunID, a.Index, a.Outcome, a.CodeHash,
			a.Violations, a.ExecStatus, a.TestsTotal, a.TestsPassed,
			truncateForDB(a.Feedback, 4096), a.DurationMS, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting attempt %d: %w", a.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing run insert: %w", err)
	}
	return nil
}

// GetRun retrieves a single run with its attempts.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, []AttemptRecord, error) {
	var run Run
	err := db.pool.QueryRow(ctx, `
		SELECT id, language, success, reason, code, code_hash, attempt_count,
			tests_total, tests_passed, complexity_score, complexity_rating,
			duration_ms, created_at, completed_at
		FROM runs WHERE id = $1`, id).Scan(
		&run.ID, &run.Language, &run.Success, &run.Reason, &run.Code,
		&run.CodeHash, &run.AttemptCount, &run.TestsTotal, &run.TestsPassed,
		&run.ComplexityScore, &run.ComplexityTier,
		&run.DurationMS, &run.CreatedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("querying run %s: %w", id, err)
	}

	rows, err := db.pool.Query(ctx, `
		SELECT id, run_id, attempt_index, outcome, code_hash, violations,
			exec_status, tests_total, tests_passed, feedback, duration_ms, created_at
		FROM run_attempts WHERE run_id = $1 ORDER BY attempt_index`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("querying attempts for run %s: %w", id, err)
	}
	defer rows.Close()

	var attempts []AttemptRecord
	for rows.Next() {
		var a AttemptRecord
		if err := rows.Scan(
			&a.ID, &a.RunID, &a.Index, &a.Outcome, &a.CodeHash, &a.Violations,
			&a.ExecStatus, &a.TestsTotal, &a.TestsPassed, &a.Feedback,
			&a.DurationMS, &a.CreatedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("scanning attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}
	return &run, attempts, rows.Err()
}

// ListRuns queries runs with optional filters, newest first.
func (db *DB) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	// Success is a tri-state filter: nil matches everything.
	success := -1
	if filter.Success != nil {
		success = 0
		if *filter.Success {
			success = 1
		}
	}

	rows, err := db.pool.Query(ctx, `
		SELECT id, language, success, reason, code_hash, attempt_count,
			tests_total, tests_passed, complexity_rating, duration_ms, created_at
		FROM runs
		WHERE ($1 = '' OR language = $1)
		  AND ($2 = -1 OR success = ($2 = 1))
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		filter.Language, success, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.Language, &run.Success, &run.Reason, &run.CodeHash,
			&run.AttemptCount, &run.TestsTotal, &run.TestsPassed,
			&run.ComplexityTier, &run.DurationMS, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		results = append(results, run)
	}

	return results, rows.Err()
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
