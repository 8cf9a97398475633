package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"beds4crew/internal/daterange"
	"beds4crew/internal/models"
)

// SaveBlockedPeriod stores the block and bumps the property version, since a
// block takes beds away from confirmations that are in flight.
func (db *DB) SaveBlockedPeriod(ctx context.Context, block *models.BlockedPeriod) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if block.Reason == "" {
		block.Reason = models.DefaultBlockReason
	}
	kind, room, bed := scopeColumns(block.Scope)
	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO blocked_periods (property_id, start_date, end_date, block_type, room_index, bed_index, reason, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		block.PropertyID,
		block.Range.Start.Format(dateLayout),
		block.Range.End.Format(dateLayout),
		kind, room, bed,
		block.Reason,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save blocked period: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := bumpPropertyVersion(ctx, tx, block.PropertyID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit blocked period: %w", err)
	}

	block.ID = id
	block.CreatedAt = now
	return nil
}

func (db *DB) DeleteBlockedPeriod(ctx context.Context, propertyID, blockID int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM blocked_periods WHERE id = ? AND property_id = ?`, blockID, propertyID)
	if err != nil {
		return fmt.Errorf("failed to delete blocked period: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("blocked period %d: %w", blockID, ErrNotFound)
	}
	return nil
}

func (db *DB) LoadBlockedPeriods(ctx context.Context, propertyID int64) ([]*models.BlockedPeriod, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, property_id, start_date, end_date, block_type, room_index, bed_index, reason, created_at
         FROM blocked_periods WHERE property_id = ? ORDER BY start_date, id`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocked periods: %w", err)
	}
	defer rows.Close()

	var blocks []*models.BlockedPeriod
	for rows.Next() {
		b := &models.BlockedPeriod{}
		var startStr, endStr, kind string
		var room, bed sql.NullInt64
		if err := rows.Scan(&b.ID, &b.PropertyID, &startStr, &endStr, &kind, &room, &bed, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocked period: %w", err)
		}
		if b.Range, err = daterange.Parse(startStr, endStr); err != nil {
			return nil, fmt.Errorf("failed to parse blocked period %d range: %w", b.ID, err)
		}
		if b.Scope, err = scanScope(kind, room, bed); err != nil {
			return nil, fmt.Errorf("failed to parse blocked period %d scope: %w", b.ID, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}
