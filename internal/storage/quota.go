package storage

import (
	"context"
	"database/sql"
	"time"
)

// GetQuotaLimit returns the owner's stored limit in MB. ok is false when the
// owner has never set one.
func (s *Store) GetQuotaLimit(ctx context.Context, ownerID int64) (limitMB int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT limit_mb FROM storage_quotas WHERE owner_id = ?`, ownerID).Scan(&limitMB)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return limitMB, true, nil
}

// SetQuotaLimit stores the owner's limit in MB.
func (s *Store) SetQuotaLimit(ctx context.Context, ownerID int64, limitMB int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO storage_quotas (owner_id, limit_mb, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET limit_mb = excluded.limit_mb, updated_at = excluded.updated_at`,
		ownerID, limitMB, formatTime(now))
	return err
}
