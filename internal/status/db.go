package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

const (
	upsertStatusQuery = `INSERT INTO sync_status (job, state, consecutive_failures, document, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (job) DO UPDATE
SET state = EXCLUDED.state,
    consecutive_failures = EXCLUDED.consecutive_failures,
    document = EXCLUDED.document,
    updated_at = EXCLUDED.updated_at`

	selectStatusQuery = `SELECT document FROM sync_status WHERE job = $1`

	selectAllStatusQuery = `SELECT job, document FROM sync_status ORDER BY job`
)

// dbStatusPersistence stores one sync_status row per job. The full status is
// kept as a JSON document; state and failure count are duplicated into
// columns for ad-hoc queries.
type dbStatusPersistence struct {
	db *sql.DB
}

// NewDBStatusPersistence creates a PostgreSQL-backed status persistence
func NewDBStatusPersistence(db *sql.DB) StatusPersistence {
	return &dbStatusPersistence{db: db}
}

// SaveStatus upserts the job's status row
func (d *dbStatusPersistence) SaveStatus(ctx context.Context, job string, status *SyncStatus) error {
	doc, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, upsertStatusQuery,
		job, string(status.State), status.ConsecutiveFailures, doc); err != nil {
		return fmt.Errorf("failed to save status for job '%s': %w", job, err)
	}
	return nil
}

// LoadStatus reads the job's status row
func (d *dbStatusPersistence) LoadStatus(ctx context.Context, job string) (*SyncStatus, error) {
	var doc []byte
	err := d.db.QueryRowContext(ctx, selectStatusQuery, job).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return &SyncStatus{Job: job}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status for job '%s': %w", job, err)
	}

	var status SyncStatus
	if err := json.Unmarshal(doc, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status for job '%s': %w", job, err)
	}
	return &status, nil
}

// LoadAllStatus reads every status row. Rows that cannot be decoded are skipped.
func (d *dbStatusPersistence) LoadAllStatus(ctx context.Context) (map[string]*SyncStatus, error) {
	rows, err := d.db.QueryContext(ctx, selectAllStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make(map[string]*SyncStatus)
	for rows.Next() {
		var (
			job string
			doc []byte
		)
		if err := rows.Scan(&job, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		var status SyncStatus
		if err := json.Unmarshal(doc, &status); err != nil {
			slog.WarnContext(ctx, "Skipping unreadable status row", "job", job, "error", err)
			continue
		}
		result[job] = &status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	return result, nil
}
