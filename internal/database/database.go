package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"beds4crew/internal/domain"
	"beds4crew/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

var (
	ErrResourceInUse = errors.New("resource is referenced by an active booking or block")

	// Domain sentinels, so callers above the repository need no database import.
	ErrConcurrentModification = domain.ErrConcurrentModification
	ErrNotFound               = domain.ErrNotFound
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

type Option func(*options)

type options struct {
	busyTimeout time.Duration
}

// WithBusyTimeout sets how long a writer waits for the SQLite lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

func NewDB(path string, logger *zerolog.Logger, opts ...Option) (*DB, error) {
	o := options{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_txlock=immediate&_foreign_keys=on", path, o.busyTimeout.Milliseconds())
	if !inMemory {
		dsn += "&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("База данных инициализирована")
	return db, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS properties (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            host_id INTEGER NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            price_per_night INTEGER NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS rooms (
            property_id INTEGER NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
            room_index INTEGER NOT NULL,
            position INTEGER NOT NULL,
            label TEXT NOT NULL DEFAULT '',
            is_private BOOLEAN NOT NULL DEFAULT 0,
            PRIMARY KEY (property_id, room_index)
        )`,
		`CREATE TABLE IF NOT EXISTS beds (
            property_id INTEGER NOT NULL,
            room_index INTEGER NOT NULL,
            bed_index INTEGER NOT NULL,
            position INTEGER NOT NULL,
            label TEXT NOT NULL DEFAULT '',
            price_per_night INTEGER NOT NULL DEFAULT 0,
            PRIMARY KEY (property_id, room_index, bed_index),
            FOREIGN KEY (property_id, room_index) REFERENCES rooms(property_id, room_index) ON DELETE CASCADE
        )`,
		`CREATE TABLE IF NOT EXISTS blocked_periods (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            property_id INTEGER NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
            start_date TEXT NOT NULL,
            end_date TEXT NOT NULL,
            block_type TEXT NOT NULL DEFAULT 'entire',
            room_index INTEGER,
            bed_index INTEGER,
            reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            property_id INTEGER NOT NULL REFERENCES properties(id),
            guest_id INTEGER NOT NULL,
            host_id INTEGER NOT NULL,
            start_date TEXT NOT NULL,
            end_date TEXT NOT NULL,
            block_type TEXT NOT NULL DEFAULT 'entire',
            room_index INTEGER,
            bed_index INTEGER,
            total_price INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            last_read_by_guest DATETIME,
            last_read_by_host DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS booked_beds (
            booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            room_index INTEGER NOT NULL,
            bed_index INTEGER NOT NULL,
            label TEXT NOT NULL DEFAULT '',
            PRIMARY KEY (booking_id, room_index, bed_index)
        )`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            sender_id INTEGER NOT NULL,
            text TEXT NOT NULL,
            sent_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_property_status ON bookings(property_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_guest ON bookings(guest_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_host ON bookings(host_id)`,
		`CREATE INDEX IF NOT EXISTS idx_blocked_periods_property ON blocked_periods(property_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_booking ON messages(booking_id, sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// scopeColumns flattens a scope into block_type/room_index/bed_index.
func scopeColumns(s models.Scope) (string, *int, *int) {
	var room, bed *int
	if r, ok := s.RoomIndex(); ok {
		room = &r
	}
	if b, ok := s.BedIndex(); ok {
		bed = &b
	}
	return string(s.Kind()), room, bed
}

func scanScope(kind string, room, bed sql.NullInt64) (models.Scope, error) {
	var r, b *int
	if room.Valid {
		v := int(room.Int64)
		r = &v
	}
	if bed.Valid {
		v := int(bed.Int64)
		b = &v
	}
	return models.ParseScope(kind, r, b)
}

// notFound maps sql.ErrNoRows to ErrNotFound, keeping the original message.
func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s %d: %w", what, id, err)
}
