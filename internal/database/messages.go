package database

import (
	"context"
	"fmt"
	"time"

	"beds4crew/internal/models"
)

func (db *DB) AppendMessage(ctx context.Context, bookingID int64, msg *models.Message) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	msg.SentAt = msg.SentAt.UTC()

	_, err := db.ExecContext(ctx,
		`INSERT INTO messages (id, booking_id, sender_id, text, sent_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, bookingID, msg.SenderID, msg.Text, msg.SentAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (db *DB) loadMessages(ctx context.Context, bookingID int64) ([]models.Message, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, sender_id, text, sent_at FROM messages WHERE booking_id = ? ORDER BY sent_at, rowid`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Text, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead moves the reader's marker on the booking. The reader must be its guest or host.
func (db *DB) MarkRead(ctx context.Context, bookingID, userID int64, at time.Time) error {
	at = at.UTC()
	result, err := db.ExecContext(ctx,
		`UPDATE bookings SET
            last_read_by_guest = CASE WHEN guest_id = ? THEN ? ELSE last_read_by_guest END,
            last_read_by_host = CASE WHEN host_id = ? THEN ? ELSE last_read_by_host END
         WHERE id = ? AND (guest_id = ? OR host_id = ?)`,
		userID, at, userID, at, bookingID, userID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("booking %d for user %d: %w", bookingID, userID, ErrNotFound)
	}
	return nil
}

// CountUnread counts messages from the other party that are newer than the
// user's read marker, across every booking where the user is guest or host.
func (db *DB) CountUnread(ctx context.Context, userID int64) (int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT b.guest_id, b.last_read_by_guest, b.last_read_by_host, m.sender_id, m.sent_at
         FROM messages m JOIN bookings b ON b.id = m.booking_id
         WHERE (b.guest_id = ? OR b.host_id = ?) AND m.sender_id <> ?`,
		userID, userID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var guestID, senderID int64
		var byGuest, byHost *time.Time
		var sentAt time.Time
		if err := rows.Scan(&guestID, &byGuest, &byHost, &senderID, &sentAt); err != nil {
			return 0, fmt.Errorf("failed to scan unread row: %w", err)
		}

		marker := byHost
		if guestID == userID {
			marker = byGuest
		}
		if marker == nil || sentAt.After(*marker) {
			count++
		}
	}
	return count, rows.Err()
}
