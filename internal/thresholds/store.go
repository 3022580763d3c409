// Package thresholds provides the SQLite-backed store for transaction
// threshold configuration read by the metrics threshold resolver.
package thresholds

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lumenapm/lumen/internal/metrics"
)

const createProjectThresholdsSQL = `
CREATE TABLE IF NOT EXISTS project_transaction_thresholds (
    organization_id INTEGER NOT NULL,
    project_id INTEGER NOT NULL,
    threshold INTEGER NOT NULL,
    metric INTEGER NOT NULL,
    date_updated INTEGER NOT NULL,
    PRIMARY KEY (organization_id, project_id)
)`

const createOverrideThresholdsSQL = `
CREATE TABLE IF NOT EXISTS project_transaction_threshold_overrides (
    organization_id INTEGER NOT NULL,
    project_id INTEGER NOT NULL,
    transaction_name TEXT NOT NULL,
    threshold INTEGER NOT NULL,
    metric INTEGER NOT NULL,
    date_updated INTEGER NOT NULL,
    PRIMARY KEY (organization_id, project_id, transaction_name)
)`

// SQLiteStore implements metrics.ThresholdStore on SQLite. Reads return
// rows ordered by primary key so the resolver's arrays are deterministic.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // write-only lock
}

// NewStore opens (or creates) the threshold database at dbPath.
func NewStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("thresholds: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)

	for _, stmt := range []string{createProjectThresholdsSQL, createOverrideThresholdsSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("thresholds: failed to initialize schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// placeholders builds a (?, ?, ...) group for an IN clause.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(orgID int64, projectIDs []int64) []interface{} {
	args := make([]interface{}, 0, len(projectIDs)+1)
	args = append(args, orgID)
	for _, id := range projectIDs {
		args = append(args, id)
	}
	return args
}

// ProjectThresholds returns project-level rows ordered by project id.
func (s *SQLiteStore) ProjectThresholds(ctx context.Context, orgID int64, projectIDs []int64) ([]metrics.ProjectThreshold, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, threshold, metric FROM project_transaction_thresholds
		 WHERE organization_id = ? AND project_id IN (`+placeholders(len(projectIDs))+`)
		 ORDER BY project_id`,
		int64Args(orgID, projectIDs)...)
	if err != nil {
		return nil, fmt.Errorf("thresholds: failed to query project thresholds: %w", err)
	}
	defer rows.Close()

	var out []metrics.ProjectThreshold
	for rows.Next() {
		var row metrics.ProjectThreshold
		var metric int
		if err := rows.Scan(&row.ProjectID, &row.Threshold, &metric); err != nil {
			return nil, fmt.Errorf("thresholds: failed to scan project threshold: %w", err)
		}
		row.Metric = metrics.ThresholdMetric(metric)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("thresholds: error iterating project thresholds: %w", err)
	}
	return out, nil
}

// TransactionThresholds returns override rows ordered by project id then
// transaction name.
func (s *SQLiteStore) TransactionThresholds(ctx context.Context, orgID int64, projectIDs []int64) ([]metrics.TransactionThreshold, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_name, project_id, threshold, metric FROM project_transaction_threshold_overrides
		 WHERE organization_id = ? AND project_id IN (`+placeholders(len(projectIDs))+`)
		 ORDER BY project_id, transaction_name`,
		int64Args(orgID, projectIDs)...)
	if err != nil {
		return nil, fmt.Errorf("thresholds: failed to query transaction thresholds: %w", err)
	}
	defer rows.Close()

	var out []metrics.TransactionThreshold
	for rows.Next() {
		var row metrics.TransactionThreshold
		var metric int
		if err := rows.Scan(&row.Transaction, &row.ProjectID, &row.Threshold, &metric); err != nil {
			return nil, fmt.Errorf("thresholds: failed to scan transaction threshold: %w", err)
		}
		row.Metric = metrics.ThresholdMetric(metric)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("thresholds: error iterating transaction thresholds: %w", err)
	}
	return out, nil
}

// SetProjectThreshold upserts a project-level threshold row.
func (s *SQLiteStore) SetProjectThreshold(ctx context.Context, orgID int64, row metrics.ProjectThreshold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_transaction_thresholds
			(organization_id, project_id, threshold, metric, date_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(organization_id, project_id)
		 DO UPDATE SET threshold = excluded.threshold, metric = excluded.metric,
			date_updated = excluded.date_updated`,
		orgID, row.ProjectID, row.Threshold, int(row.Metric), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("thresholds: failed to upsert project threshold: %w", err)
	}
	return nil
}

// SetTransactionThreshold upserts a per-transaction override row.
func (s *SQLiteStore) SetTransactionThreshold(ctx context.Context, orgID int64, row metrics.TransactionThreshold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_transaction_threshold_overrides
			(organization_id, project_id, transaction_name, threshold, metric, date_updated)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(organization_id, project_id, transaction_name)
		 DO UPDATE SET threshold = excluded.threshold, metric = excluded.metric,
			date_updated = excluded.date_updated`,
		orgID, row.ProjectID, row.Transaction, row.Threshold, int(row.Metric), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("thresholds: failed to upsert transaction threshold: %w", err)
	}
	return nil
}

// DeleteProjectThreshold removes a project-level row.
func (s *SQLiteStore) DeleteProjectThreshold(ctx context.Context, orgID, projectID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM project_transaction_thresholds WHERE organization_id = ? AND project_id = ?`,
		orgID, projectID)
	if err != nil {
		return fmt.Errorf("thresholds: failed to delete project threshold: %w", err)
	}
	return nil
}

// DeleteTransactionThreshold removes an override row.
func (s *SQLiteStore) DeleteTransactionThreshold(ctx context.Context, orgID, projectID int64, transaction string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM project_transaction_threshold_overrides
		 WHERE organization_id = ? AND project_id = ? AND transaction_name = ?`,
		orgID, projectID, transaction)
	if err != nil {
		return fmt.Errorf("thresholds: failed to delete transaction threshold: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
