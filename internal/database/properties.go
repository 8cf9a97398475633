package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"beds4crew/internal/models"
)

// CreateProperty inserts the property with its rooms and beds in one transaction.
// A non-zero ID is kept so seed fixtures stay addressable.
func (db *DB) CreateProperty(ctx context.Context, p *models.Property) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	var id any
	if p.ID != 0 {
		id = p.ID
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO properties (id, host_id, title, price_per_night, is_active, version, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		id, p.HostID, p.Title, p.PricePerNight, p.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert property: %w", err)
	}
	newID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	for pos, room := range p.Rooms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (property_id, room_index, position, label, is_private) VALUES (?, ?, ?, ?, ?)`,
			newID, room.Index, pos, room.Label, room.IsPrivate); err != nil {
			return fmt.Errorf("failed to insert room %d: %w", room.Index, err)
		}
		for bpos, bed := range room.Beds {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO beds (property_id, room_index, bed_index, position, label, price_per_night) VALUES (?, ?, ?, ?, ?, ?)`,
				newID, room.Index, bed.Index, bpos, bed.Label, bed.PricePerNight); err != nil {
				return fmt.Errorf("failed to insert bed %d/%d: %w", room.Index, bed.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit property: %w", err)
	}

	p.ID = newID
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// SeedProperties creates every property whose ID is not stored yet and returns how many were added.
func (db *DB) SeedProperties(ctx context.Context, props []models.Property) (int, error) {
	created := 0
	for i := range props {
		p := props[i]
		if p.ID != 0 {
			var exists int
			err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties WHERE id = ?`, p.ID).Scan(&exists)
			if err != nil {
				return created, fmt.Errorf("failed to check property %d: %w", p.ID, err)
			}
			if exists > 0 {
				continue
			}
		}
		if err := db.CreateProperty(ctx, &p); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (db *DB) LoadProperty(ctx context.Context, id int64) (*models.Property, error) {
	p := &models.Property{}
	err := db.QueryRowContext(ctx,
		`SELECT id, host_id, title, price_per_night, is_active, version, created_at, updated_at
         FROM properties WHERE id = ?`, id).Scan(
		&p.ID, &p.HostID, &p.Title, &p.PricePerNight, &p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "property", id)
	}

	if err := db.loadRooms(ctx, p); err != nil {
		return nil, err
	}

	beds, err := db.QueryContext(ctx,
		`SELECT room_index, bed_index, label, price_per_night FROM beds WHERE property_id = ? ORDER BY room_index, position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load beds: %w", err)
	}
	defer beds.Close()

	for beds.Next() {
		var roomIndex int
		var b models.Bed
		if err := beds.Scan(&roomIndex, &b.Index, &b.Label, &b.PricePerNight); err != nil {
			return nil, fmt.Errorf("failed to scan bed: %w", err)
		}
		if room, ok := p.Room(roomIndex); ok {
			room.Beds = append(room.Beds, b)
		}
	}
	if err := beds.Err(); err != nil {
		return nil, err
	}

	return p, nil
}

// loadRooms drains its rows before returning; an in-memory database has a single connection.
func (db *DB) loadRooms(ctx context.Context, p *models.Property) error {
	rooms, err := db.QueryContext(ctx,
		`SELECT room_index, label, is_private FROM rooms WHERE property_id = ? ORDER BY position`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load rooms: %w", err)
	}
	defer rooms.Close()

	for rooms.Next() {
		var r models.Room
		if err := rooms.Scan(&r.Index, &r.Label, &r.IsPrivate); err != nil {
			return fmt.Errorf("failed to scan room: %w", err)
		}
		p.Rooms = append(p.Rooms, r)
	}
	return rooms.Err()
}

// DeactivateProperty hides the property from new bookings. Existing bookings stay.
func (db *DB) DeactivateProperty(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE properties SET is_active = 0, version = version + 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate property: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("property %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteRoom removes a room and its beds unless an active booking or a block references it.
func (db *DB) DeleteRoom(ctx context.Context, propertyID int64, roomIndex int) error {
	return db.deleteResource(ctx, propertyID, roomIndex, nil)
}

func (db *DB) DeleteBed(ctx context.Context, propertyID int64, roomIndex, bedIndex int) error {
	return db.deleteResource(ctx, propertyID, roomIndex, &bedIndex)
}

func (db *DB) deleteResource(ctx context.Context, propertyID int64, roomIndex int, bedIndex *int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	inUse, err := resourceInUse(ctx, tx, propertyID, roomIndex, bedIndex)
	if err != nil {
		return err
	}
	if inUse {
		return ErrResourceInUse
	}

	var result sql.Result
	if bedIndex == nil {
		result, err = tx.ExecContext(ctx, `DELETE FROM rooms WHERE property_id = ? AND room_index = ?`, propertyID, roomIndex)
	} else {
		result, err = tx.ExecContext(ctx, `DELETE FROM beds WHERE property_id = ? AND room_index = ? AND bed_index = ?`,
			propertyID, roomIndex, *bedIndex)
	}
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("room %d of property %d: %w", roomIndex, propertyID, ErrNotFound)
	}

	if err := bumpPropertyVersion(ctx, tx, propertyID); err != nil {
		return err
	}
	return tx.Commit()
}

func resourceInUse(ctx context.Context, tx *sql.Tx, propertyID int64, roomIndex int, bedIndex *int) (bool, error) {
	var count int
	bookingQuery := `SELECT COUNT(*) FROM booked_beds bb JOIN bookings b ON b.id = bb.booking_id
                     WHERE b.property_id = ? AND b.status IN (?, ?) AND bb.room_index = ?`
	args := []interface{}{propertyID, models.StatusPending, models.StatusConfirmed, roomIndex}
	if bedIndex != nil {
		bookingQuery += ` AND bb.bed_index = ?`
		args = append(args, *bedIndex)
	}
	if err := tx.QueryRowContext(ctx, bookingQuery, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check bookings: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	blockQuery := `SELECT COUNT(*) FROM blocked_periods WHERE property_id = ? AND room_index = ?`
	args = []interface{}{propertyID, roomIndex}
	if bedIndex != nil {
		// a room-wide block also covers every bed in it
		blockQuery += ` AND (bed_index IS NULL OR bed_index = ?)`
		args = append(args, *bedIndex)
	}
	if err := tx.QueryRowContext(ctx, blockQuery, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check blocks: %w", err)
	}
	return count > 0, nil
}

// bumpPropertyVersion is used when a mutation increases occupancy outside of a confirm.
func bumpPropertyVersion(ctx context.Context, tx *sql.Tx, propertyID int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE properties SET version = version + 1, updated_at = ? WHERE id = ?`, time.Now(), propertyID)
	if err != nil {
		return fmt.Errorf("failed to bump property version: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("property %d: %w", propertyID, ErrNotFound)
	}
	return nil
}
