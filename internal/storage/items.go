package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/offsync/internal/kind"
)

const itemColumns = `offline_id, kind, source_id, owner_id, title, description, tags, payload, size_bytes, version, synced, created_at, updated_at`

// ItemMutator computes the next state of an offline item. existing is nil when
// no mirror exists yet. Returning nil leaves the row untouched.
type ItemMutator func(existing *OfflineItem) (*OfflineItem, error)

// GetItem returns the owner's mirror of a source item.
func (s *Store) GetItem(ctx context.Context, ownerID int64, k kind.Kind, sourceID string) (OfflineItem, error) {
	return getItemBySource(ctx, s.db, ownerID, k, sourceID)
}

// GetItemByID returns an offline item by its offline id, scoped to owner.
func (s *Store) GetItemByID(ctx context.Context, ownerID int64, offlineID string) (OfflineItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM offline_items WHERE offline_id = ? AND owner_id = ?`,
		offlineID, ownerID)
	return scanItem(row.Scan)
}

// ApplyItem atomically loads the owner's mirror of a source item, passes it to
// fn and writes back whatever fn returns. The written item is returned; when fn
// returns nil the current stored state is returned instead.
func (s *Store) ApplyItem(ctx context.Context, ownerID int64, k kind.Kind, sourceID string, fn ItemMutator) (OfflineItem, error) {
	var out OfflineItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = applyItemTx(ctx, tx, ownerID, k, sourceID, fn)
		return err
	})
	return out, err
}

func applyItemTx(ctx context.Context, q queryer, ownerID int64, k kind.Kind, sourceID string, fn ItemMutator) (OfflineItem, error) {
	existing, err := getItemBySource(ctx, q, ownerID, k, sourceID)
	var current *OfflineItem
	switch {
	case err == nil:
		current = &existing
	case errors.Is(err, ErrNotFound):
	default:
		return OfflineItem{}, err
	}

	next, err := fn(current)
	if err != nil {
		return OfflineItem{}, err
	}
	if next == nil {
		if current == nil {
			return OfflineItem{}, ErrNotFound
		}
		return *current, nil
	}

	next.OwnerID = ownerID
	next.Kind = k
	next.SourceID = sourceID
	if current == nil {
		if err := insertItem(ctx, q, *next); err != nil {
			return OfflineItem{}, err
		}
		return *next, nil
	}
	next.OfflineID = current.OfflineID
	next.CreatedAt = current.CreatedAt
	if err := updateItem(ctx, q, *next); err != nil {
		return OfflineItem{}, err
	}
	return *next, nil
}

// InsertItem stores a new mirror. Returns ErrConflict if the owner already
// mirrors the same source item.
func (s *Store) InsertItem(ctx context.Context, item OfflineItem) error {
	return insertItem(ctx, s.db, item)
}

func insertItem(ctx context.Context, q queryer, item OfflineItem) error {
	tags, payload, err := encodeItemJSON(item)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO offline_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.OfflineID, string(item.Kind), item.SourceID, item.OwnerID, item.Title, item.Description,
		tags, payload, item.SizeBytes, item.Version, boolToInt(item.Synced),
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func updateItem(ctx context.Context, q queryer, item OfflineItem) error {
	tags, payload, err := encodeItemJSON(item)
	if err != nil {
		return err
	}
	// The version guard keeps the counter monotonic even if a caller misbehaves.
	res, err := q.ExecContext(ctx, `
		UPDATE offline_items
		SET title = ?, description = ?, tags = ?, payload = ?, size_bytes = ?, version = ?, synced = ?, updated_at = ?
		WHERE offline_id = ? AND version <= ?`,
		item.Title, item.Description, tags, payload, item.SizeBytes, item.Version, boolToInt(item.Synced),
		formatTime(item.UpdatedAt), item.OfflineID, item.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("updating item %s: version %d would move backwards", item.OfflineID, item.Version)
	}
	return nil
}

// ItemDetails holds the user-editable fields of an item. Nil fields are left as is.
type ItemDetails struct {
	Title       *string
	Description *string
	Tags        []string
	SetTags     bool
}

// UpdateItemDetails applies a user edit, bumping the version and clearing synced.
func (s *Store) UpdateItemDetails(ctx context.Context, ownerID int64, offlineID string, d ItemDetails, now time.Time) (OfflineItem, error) {
	var out OfflineItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM offline_items WHERE offline_id = ? AND owner_id = ?`,
			offlineID, ownerID)
		item, err := scanItem(row.Scan)
		if err != nil {
			return err
		}
		if d.Title != nil {
			item.Title = *d.Title
		}
		if d.Description != nil {
			item.Description = *d.Description
		}
		if d.SetTags {
			item.Tags = d.Tags
		}
		item.Version++
		item.Synced = false
		item.UpdatedAt = now
		if err := updateItem(ctx, tx, item); err != nil {
			return err
		}
		out = item
		return nil
	})
	return out, err
}

// ListItems returns a page of the owner's mirrors, newest first.
// An empty kind lists every kind.
func (s *Store) ListItems(ctx context.Context, ownerID int64, k kind.Kind, req PageRequest) (Page[OfflineItem], error) {
	req = req.Normalize()

	where := "owner_id = ?"
	args := []any{ownerID}
	if k != "" {
		where += " AND kind = ?"
		args = append(args, string(k))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM offline_items WHERE "+where, args...).Scan(&total); err != nil {
		return Page[OfflineItem]{}, fmt.Errorf("counting items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM offline_items WHERE `+where+` ORDER BY updated_at DESC, offline_id ASC LIMIT ? OFFSET ?`,
		append(args, req.PageSize, req.offset())...)
	if err != nil {
		return Page[OfflineItem]{}, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return Page[OfflineItem]{}, err
	}
	return newPage(items, total, req), nil
}

// ListUnsyncedItems returns the owner's mirrors with synced = false for the
// given kinds (all kinds when empty), oldest edit first.
func (s *Store) ListUnsyncedItems(ctx context.Context, ownerID int64, kinds []kind.Kind) ([]OfflineItem, error) {
	query := `SELECT ` + itemColumns + ` FROM offline_items WHERE owner_id = ? AND synced = 0`
	args := []any{ownerID}
	if len(kinds) > 0 {
		query += ` AND kind IN (?` + strings.Repeat(",?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY updated_at ASC, offline_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing unsynced items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// CountUnsyncedItems counts the owner's unsynced mirrors for the given kinds.
func (s *Store) CountUnsyncedItems(ctx context.Context, ownerID int64, kinds []kind.Kind) (int, error) {
	query := `SELECT COUNT(*) FROM offline_items WHERE owner_id = ? AND synced = 0`
	args := []any{ownerID}
	if len(kinds) > 0 {
		query += ` AND kind IN (?` + strings.Repeat(",?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// MarkItemSynced flags an item as synced if it is still at version. It returns
// false when the item was edited or deleted in the meantime.
func (s *Store) MarkItemSynced(ctx context.Context, offlineID string, version int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offline_items SET synced = 1, updated_at = ? WHERE offline_id = ? AND version = ?`,
		formatTime(now), offlineID, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteItem removes an owner's item and every download task referencing it.
// Returns the number of tasks removed alongside.
func (s *Store) DeleteItem(ctx context.Context, ownerID int64, offlineID string) (int, error) {
	var tasks int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var k, sourceID string
		err := tx.QueryRowContext(ctx, `SELECT kind, source_id FROM offline_items WHERE offline_id = ? AND owner_id = ?`,
			offlineID, ownerID).Scan(&k, &sourceID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_items WHERE offline_id = ? AND owner_id = ?`, offlineID, ownerID); err != nil {
			return err
		}
		// Tasks started before the item existed may still carry another id.
		res, err := tx.ExecContext(ctx, `
			DELETE FROM download_tasks
			WHERE owner_id = ? AND (offline_id = ? OR (kind = ? AND source_id = ?))`,
			ownerID, offlineID, k, sourceID)
		if err != nil {
			return err
		}
		m, err := res.RowsAffected()
		if err != nil {
			return err
		}
		tasks = int(m)
		return nil
	})
	return tasks, err
}

// UsageByKind sums item counts and stored size estimates per kind.
func (s *Store) UsageByKind(ctx context.Context, ownerID int64) (map[kind.Kind]KindUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*), COALESCE(SUM(size_bytes), 0) FROM offline_items WHERE owner_id = ? GROUP BY kind`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := make(map[kind.Kind]KindUsage)
	for rows.Next() {
		var k string
		var u KindUsage
		if err := rows.Scan(&k, &u.Items, &u.Bytes); err != nil {
			return nil, err
		}
		usage[kind.Kind(k)] = u
	}
	return usage, rows.Err()
}

// ClearOwner deletes every offline item and download task of an owner in one
// transaction. Counts reflect rows actually removed.
func (s *Store) ClearOwner(ctx context.Context, ownerID int64) (ClearResult, error) {
	var res ClearResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(size_bytes), 0) FROM offline_items WHERE owner_id = ?`, ownerID,
		).Scan(&res.FreedBytes); err != nil {
			return fmt.Errorf("summing item sizes: %w", err)
		}

		r, err := tx.ExecContext(ctx, `DELETE FROM download_tasks WHERE owner_id = ?`, ownerID)
		if err != nil {
			return fmt.Errorf("deleting download tasks: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		res.DeletedTasks = int(n)

		r, err = tx.ExecContext(ctx, `DELETE FROM offline_items WHERE owner_id = ?`, ownerID)
		if err != nil {
			return fmt.Errorf("deleting items: %w", err)
		}
		n, err = r.RowsAffected()
		if err != nil {
			return err
		}
		res.DeletedItems = int(n)
		return nil
	})
	if err != nil {
		return ClearResult{}, err
	}
	return res, nil
}

func getItemBySource(ctx context.Context, q queryer, ownerID int64, k kind.Kind, sourceID string) (OfflineItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM offline_items WHERE kind = ? AND owner_id = ? AND source_id = ?`,
		string(k), ownerID, sourceID)
	return scanItem(row.Scan)
}

func scanItems(rows *sql.Rows) ([]OfflineItem, error) {
	var items []OfflineItem
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(scan func(dest ...any) error) (OfflineItem, error) {
	var item OfflineItem
	var k, tags, payload, createdAt, updatedAt string
	var synced int
	err := scan(&item.OfflineID, &k, &item.SourceID, &item.OwnerID, &item.Title, &item.Description,
		&tags, &payload, &item.SizeBytes, &item.Version, &synced, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return OfflineItem{}, ErrNotFound
	}
	if err != nil {
		return OfflineItem{}, err
	}
	item.Kind = kind.Kind(k)
	item.Synced = synced != 0
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		return OfflineItem{}, fmt.Errorf("parsing tags for item %s: %w", item.OfflineID, err)
	}
	if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
		return OfflineItem{}, fmt.Errorf("parsing payload for item %s: %w", item.OfflineID, err)
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return OfflineItem{}, fmt.Errorf("parsing created_at for item %s: %w", item.OfflineID, err)
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return OfflineItem{}, fmt.Errorf("parsing updated_at for item %s: %w", item.OfflineID, err)
	}
	return item, nil
}

func encodeItemJSON(item OfflineItem) (string, string, error) {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	payload := item.Payload
	if payload == nil {
		payload = kind.Payload{}
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("marshalling tags: %w", err)
	}
	p, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshalling payload: %w", err)
	}
	return string(t), string(p), nil
}
