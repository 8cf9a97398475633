package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"beds4crew/internal/daterange"
	"beds4crew/internal/models"
)

const bookingColumns = `id, property_id, guest_id, host_id, start_date, end_date,
                 block_type, room_index, bed_index, total_price, status,
                 last_read_by_guest, last_read_by_host, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	b := &models.Booking{}
	var startStr, endStr, kind string
	var room, bed sql.NullInt64
	err := row.Scan(
		&b.ID, &b.PropertyID, &b.GuestID, &b.HostID, &startStr, &endStr,
		&kind, &room, &bed, &b.TotalPrice, &b.Status,
		&b.LastReadByGuest, &b.LastReadByHost, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Range, err = daterange.Parse(startStr, endStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking %d range: %w", b.ID, err)
	}
	b.Scope, err = scanScope(kind, room, bed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking %d scope: %w", b.ID, err)
	}
	return b, nil
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	kind, room, bed := scopeColumns(booking.Scope)
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (
            property_id, guest_id, host_id, start_date, end_date,
            block_type, room_index, bed_index, total_price, status,
            created_at, updated_at, version
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		booking.PropertyID,
		booking.GuestID,
		booking.HostID,
		booking.Range.Start.Format(dateLayout),
		booking.Range.End.Format(dateLayout),
		kind, room, bed,
		booking.TotalPrice,
		booking.Status,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, bb := range booking.BookedBeds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO booked_beds (booking_id, room_index, bed_index, label) VALUES (?, ?, ?, ?)`,
			id, bb.Bed.Room, bb.Bed.Bed, bb.Label); err != nil {
			return fmt.Errorf("failed to insert booked bed %s: %w", bb.Bed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

// GetBooking returns the booking with its booked beds and messages.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "booking", id)
	}

	if err := db.attachBookedBeds(ctx, []*models.Booking{b}); err != nil {
		return nil, err
	}
	msgs, err := db.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Messages = msgs
	return b, nil
}

// ConfirmBookingWithVersion confirms a pending booking and bumps the property
// version in one transaction. A stale version on either row fails the whole commit.
func (db *DB) ConfirmBookingWithVersion(ctx context.Context, id, bookingVersion, propertyID, propertyVersion int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE properties SET version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		now, propertyID, propertyVersion)
	if err != nil {
		return fmt.Errorf("failed to bump property version: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrConcurrentModification
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND version = ? AND status = ?`,
		models.StatusConfirmed, now, id, bookingVersion, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to confirm booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrConcurrentModification
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit confirm: %w", err)
	}
	return nil
}

func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now().UTC(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// LoadActiveBookingsForProperty returns pending and confirmed bookings with their beds.
// Messages are not loaded.
func (db *DB) LoadActiveBookingsForProperty(ctx context.Context, propertyID int64) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings
         WHERE property_id = ? AND status IN (?, ?) ORDER BY start_date, id`,
		propertyID, models.StatusPending, models.StatusConfirmed)
}

func (db *DB) ListGuestBookings(ctx context.Context, guestID int64) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE guest_id = ? ORDER BY start_date DESC, id DESC`, guestID)
}

func (db *DB) ListHostBookings(ctx context.Context, hostID int64) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE host_id = ? ORDER BY start_date DESC, id DESC`, hostID)
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := db.attachBookedBeds(ctx, bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (db *DB) attachBookedBeds(ctx context.Context, bookings []*models.Booking) error {
	for _, b := range bookings {
		rows, err := db.QueryContext(ctx,
			`SELECT room_index, bed_index, label FROM booked_beds WHERE booking_id = ? ORDER BY room_index, bed_index`, b.ID)
		if err != nil {
			return fmt.Errorf("failed to load booked beds: %w", err)
		}
		for rows.Next() {
			bb := models.BookedBed{Bed: models.BedID{PropertyID: b.PropertyID}}
			if err := rows.Scan(&bb.Bed.Room, &bb.Bed.Bed, &bb.Label); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan booked bed: %w", err)
			}
			b.BookedBeds = append(b.BookedBeds, bb)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
