package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"workflow-preview/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore opens the SQLite preview index and creates its tables.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// modernc serialises writers per connection; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	previewTableStmt := `
	CREATE TABLE IF NOT EXISTS previews (
		workflow_id TEXT NOT NULL,
		preview_id TEXT NOT NULL,
		light_url TEXT NOT NULL,
		dark_url TEXT NOT NULL,
		format TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (workflow_id, preview_id)
	);`
	if _, err = db.Exec(previewTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create previews table: %w", err)
	}

	pendingTableStmt := `
	CREATE TABLE IF NOT EXISTS pending_deletions (
		object_key TEXT PRIMARY KEY,
		reason TEXT,
		attempts INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME
	);`
	if _, err = db.Exec(pendingTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create pending_deletions table: %w", err)
	}

	return &sqliteStore{db}, nil
}

// Close releases the database handle.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// PreviewIndex implementation
func (s *sqliteStore) SavePreview(ctx context.Context, result *core.PreviewResult) error {
	log := logrus.WithFields(logrus.Fields{
		"workflow_id": result.WorkflowID,
		"preview_id":  result.PreviewID,
	})

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO previews (workflow_id, preview_id, light_url, dark_url, format, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (workflow_id, preview_id) DO UPDATE SET light_url = excluded.light_url, dark_url = excluded.dark_url, format = excluded.format, created_at = excluded.created_at`,
		result.WorkflowID, result.PreviewID, result.LightModeURL, result.DarkModeURL, string(result.Format), result.Timestamp)
	if err != nil {
		log.WithError(err).Error("Failed to save preview")
		return err
	}
	log.Debug("Preview recorded")
	return nil
}

func (s *sqliteStore) GetPreview(ctx context.Context, workflowID, previewID string) (*core.PreviewResult, error) {
	result := core.PreviewResult{WorkflowID: workflowID, PreviewID: previewID}
	var format string
	err := s.db.QueryRowContext(ctx,
		"SELECT light_url, dark_url, format, created_at FROM previews WHERE workflow_id = ? AND preview_id = ?",
		workflowID, previewID).Scan(&result.LightModeURL, &result.DarkModeURL, &format, &result.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("preview %s of workflow %s: %w", previewID, workflowID, core.ErrPreviewNotFound)
		}
		return nil, err
	}
	result.Format = core.Format(format)
	return &result, nil
}

func (s *sqliteStore) ListPreviews(ctx context.Context, workflowID string) ([]*core.PreviewResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT preview_id, light_url, dark_url, format, created_at FROM previews WHERE workflow_id = ? ORDER BY created_at DESC, preview_id DESC",
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*core.PreviewResult{}
	for rows.Next() {
		result := core.PreviewResult{WorkflowID: workflowID}
		var format string
		if err := rows.Scan(&result.PreviewID, &result.LightModeURL, &result.DarkModeURL, &format, &result.Timestamp); err != nil {
			return nil, err
		}
		result.Format = core.Format(format)
		results = append(results, &result)
	}
	return results, rows.Err()
}

func (s *sqliteStore) DeletePreview(ctx context.Context, workflowID, previewID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM previews WHERE workflow_id = ? AND preview_id = ?", workflowID, previewID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("preview %s of workflow %s: %w", previewID, workflowID, core.ErrPreviewNotFound)
	}
	return nil
}

// DeletionQueue implementation
func (s *sqliteStore) AddPendingDeletion(ctx context.Context, key, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_deletions (object_key, reason, attempts, created_at) VALUES (?, ?, 1, ?)
		ON CONFLICT (object_key) DO UPDATE SET reason = excluded.reason, attempts = attempts + 1`,
		key, reason, time.Now().UTC())
	if err != nil {
		logrus.WithField("key", key).WithError(err).Error("Failed to queue pending deletion")
	}
	return err
}

func (s *sqliteStore) ListPendingDeletions(ctx context.Context, limit int) ([]core.PendingDeletion, error) {
	query := "SELECT object_key, reason, attempts, created_at FROM pending_deletions ORDER BY attempts, created_at, object_key"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.PendingDeletion
	for rows.Next() {
		var entry core.PendingDeletion
		var reason sql.NullString
		if err := rows.Scan(&entry.Key, &reason, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Reason = reason.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *sqliteStore) RemovePendingDeletion(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pending_deletions WHERE object_key = ?", key)
	return err
}
