package models

import (
	"time"

	"beds4crew/internal/daterange"
)

type Booking struct {
	ID         int64              `json:"id"`
	PropertyID int64              `json:"property_id"`
	GuestID    int64              `json:"guest_id"`
	HostID     int64              `json:"host_id"`
	Range      daterange.DayRange `json:"range"`
	Scope      Scope              `json:"scope"`
	BookedBeds []BookedBed        `json:"booked_beds"`
	TotalPrice int64              `json:"total_price"`
	Status     string             `json:"status"` // pending, confirmed, rejected, cancelled
	Messages   []Message          `json:"messages,omitempty"`

	LastReadByGuest *time.Time `json:"last_read_by_guest,omitempty"`
	LastReadByHost  *time.Time `json:"last_read_by_host,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// BookedBed is the snapshot of a bed taken when the booking was created.
type BookedBed struct {
	Bed   BedID  `json:"bed"`
	Label string `json:"label"`
}

type Message struct {
	ID       string    `json:"id"`
	SenderID int64     `json:"sender_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// IsParty reports whether the user is the guest or the host of the booking.
func (b *Booking) IsParty(userID int64) bool {
	return userID == b.GuestID || userID == b.HostID
}

// Occupies reports whether the booking holds its beds.
func (b *Booking) Occupies() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

func (b *Booking) BedIDs() []BedID {
	ids := make([]BedID, len(b.BookedBeds))
	for i, bb := range b.BookedBeds {
		ids[i] = bb.Bed
	}
	return ids
}

// BlockedPeriod is a host-declared unavailability window.
type BlockedPeriod struct {
	ID         int64              `json:"id"`
	PropertyID int64              `json:"property_id"`
	Range      daterange.DayRange `json:"range"`
	Scope      Scope              `json:"scope"`
	Reason     string             `json:"reason"`
	CreatedAt  time.Time          `json:"created_at"`
}
