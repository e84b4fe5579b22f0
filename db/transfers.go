package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/migadu/ftrd/pkg/metrics"
)

// Transfer results.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultAborted = "aborted"
)

// Transfer is one completed, failed or aborted data transfer.
type Transfer struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"session_id"`
	Username  string        `json:"username"`
	Command   string        `json:"command"`
	Path      string        `json:"path"`
	Bytes     int64         `json:"bytes"`
	Duration  time.Duration `json:"duration_ns"`
	Digest    string        `json:"digest,omitempty"`
	Result    string        `json:"result"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// RecordTransfer stores t. CreatedAt defaults to now.
func (d *Database) RecordTransfer(ctx context.Context, t Transfer) error {
	if d == nil {
		return nil
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO transfers (session_id, username, command, path, bytes, duration_ms, digest, result, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Username, t.Command, t.Path, t.Bytes, t.Duration.Milliseconds(),
		t.Digest, t.Result, t.Error, t.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

// RecentTransfers returns up to limit transfers, newest first.
func (d *Database) RecentTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	if d == nil {
		return nil, nil
	}
	return d.query(ctx, `
		SELECT id, session_id, username, command, path, bytes, duration_ms, digest, result, error, created_at
		FROM transfers ORDER BY created_at DESC, id DESC LIMIT ?`, normalizeLimit(limit))
}

// TransfersForUser returns up to limit transfers of username, newest first.
func (d *Database) TransfersForUser(ctx context.Context, username string, limit int) ([]Transfer, error) {
	if d == nil {
		return nil, nil
	}
	return d.query(ctx, `
		SELECT id, session_id, username, command, path, bytes, duration_ms, digest, result, error, created_at
		FROM transfers WHERE username = ? ORDER BY created_at DESC, id DESC LIMIT ?`, username, normalizeLimit(limit))
}

// PurgeOlderThan deletes transfers recorded before cutoff and returns the count.
func (d *Database) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if d == nil {
		return 0, nil
	}
	res, err := d.db.ExecContext(ctx, `DELETE FROM transfers WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge transfers: %w", err)
	}
	return res.RowsAffected()
}

// HistoryStats implements metrics.StatsProvider.
func (d *Database) HistoryStats(ctx context.Context) (*metrics.HistoryStats, error) {
	if d == nil {
		return &metrics.HistoryStats{}, nil
	}
	var stats metrics.HistoryStats
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM transfers`).
		Scan(&stats.Transfers, &stats.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read history stats: %w", err)
	}
	return &stats, nil
}

func (d *Database) query(ctx context.Context, q string, args ...any) ([]Transfer, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfers: %w", err)
	}
	return out, nil
}

func scanTransfer(rows *sql.Rows) (Transfer, error) {
	var (
		t          Transfer
		durationMs int64
		createdAt  int64
	)
	if err := rows.Scan(&t.ID, &t.SessionID, &t.Username, &t.Command, &t.Path, &t.Bytes,
		&durationMs, &t.Digest, &t.Result, &t.Error, &createdAt); err != nil {
		return Transfer{}, fmt.Errorf("failed to scan transfer: %w", err)
	}
	t.Duration = time.Duration(durationMs) * time.Millisecond
	t.CreatedAt = time.Unix(0, createdAt)
	return t, nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	}
	return limit
}
