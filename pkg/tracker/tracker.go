package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/coastalcabana/gptbatch/pkg/models"
)

// Tracker records and queries request usage and spend.
type Tracker interface {
	// Record stores the usage of one succeeded request.
	Record(ctx context.Context, rec models.UsageRecord) error
	// RecordBatch stores the summary of a finished batch.
	RecordBatch(ctx context.Context, b models.BatchSummary) error
	// TotalCostByCaller returns the USD spent by a caller since a given time.
	// Caller "*" sums every caller.
	TotalCostByCaller(ctx context.Context, caller string, since time.Time) (float64, error)
	// Summary returns aggregated usage, optionally filtered by caller.
	Summary(ctx context.Context, caller string) ([]models.UsageSummary, error)
	// ListBatches returns batch summaries, newest first, optionally filtered by caller.
	ListBatches(ctx context.Context, caller string) ([]models.BatchSummary, error)
	// BatchRequests returns the usage rows of one batch in request order.
	BatchRequests(ctx context.Context, batchID string) ([]models.UsageRecord, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	caller TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	idx INTEGER NOT NULL DEFAULT 0,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost REAL NOT NULL DEFAULT 0,
	repaired INTEGER NOT NULL DEFAULT 0,
	cached INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_caller_time ON usage_records(caller, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_batch ON usage_records(batch_id);
`

const createBatchesTable = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	caller TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 0,
	failed_count INTEGER NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_batches_caller ON batches(caller);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	if _, err := db.Exec(createBatchesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate batches table: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (caller, batch_id, idx, model, prompt_tokens, completion_tokens, total_tokens, cost, repaired, cached, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Caller, rec.BatchID, rec.Index, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.Cost, rec.Repaired, rec.Cached, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// RecordBatch stores or replaces a batch summary.
func (t *SQLiteTracker) RecordBatch(ctx context.Context, b models.BatchSummary) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO batches (id, caller, started_at, finished_at, request_count, failed_count, total_cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET finished_at = excluded.finished_at,
		   request_count = excluded.request_count, failed_count = excluded.failed_count,
		   total_cost = excluded.total_cost`,
		b.ID, b.Caller, b.StartedAt, b.FinishedAt, b.RequestCount, b.FailedCount, b.TotalCost,
	)
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

// TotalCostByCaller returns the USD spent by a caller since a given time.
func (t *SQLiteTracker) TotalCostByCaller(ctx context.Context, caller string, since time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(cost), 0) FROM usage_records WHERE created_at >= ?`
	args := []any{since}
	if caller != "*" {
		query += ` AND caller = ?`
		args = append(args, caller)
	}
	var total float64
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by caller and model.
func (t *SQLiteTracker) Summary(ctx context.Context, caller string) ([]models.UsageSummary, error) {
	query := `SELECT caller, model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens), SUM(cost)
		 FROM usage_records`
	var args []any
	if caller != "" {
		query += ` WHERE caller = ?`
		args = append(args, caller)
	}
	query += ` GROUP BY caller, model ORDER BY caller, model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Caller, &s.Model, &s.RequestCount, &s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens, &s.TotalCost); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// ListBatches returns batch summaries, newest first.
func (t *SQLiteTracker) ListBatches(ctx context.Context, caller string) ([]models.BatchSummary, error) {
	query := `SELECT id, caller, started_at, finished_at, request_count, failed_count, total_cost FROM batches`
	var args []any
	if caller != "" {
		query += ` WHERE caller = ?`
		args = append(args, caller)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []models.BatchSummary
	for rows.Next() {
		var b models.BatchSummary
		if err := rows.Scan(&b.ID, &b.Caller, &b.StartedAt, &b.FinishedAt, &b.RequestCount, &b.FailedCount, &b.TotalCost); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// BatchRequests returns the usage rows of one batch ordered by request index.
func (t *SQLiteTracker) BatchRequests(ctx context.Context, batchID string) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, caller, batch_id, idx, model, prompt_tokens, completion_tokens, total_tokens, cost, repaired, cached, created_at
		 FROM usage_records WHERE batch_id = ? ORDER BY idx ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("batch requests: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.ID, &r.Caller, &r.BatchID, &r.Index, &r.Model, &r.PromptTokens, &r.CompletionTokens,
			&r.TotalTokens, &r.Cost, &r.Repaired, &r.Cached, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
