package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Property is the top of the lodging hierarchy. A property without rooms is
// booked as a single implicit bed.
type Property struct {
	ID        int64     `yaml:"id" json:"id"`
	HostID    int64     `yaml:"host_id" json:"host_id"`
	Title     string    `yaml:"title" json:"title"`
	Rooms     []Room    `yaml:"rooms" json:"rooms"`
	IsActive  bool      `yaml:"is_active" json:"is_active"`
	Version   int64     `yaml:"-" json:"version"`
	CreatedAt time.Time `yaml:"-" json:"created_at"`
	UpdatedAt time.Time `yaml:"-" json:"updated_at"`

	// PricePerNight applies to the implicit bed of a roomless property.
	PricePerNight int64 `yaml:"price_per_night" json:"price_per_night"`
}

type Room struct {
	Index     int    `yaml:"index" json:"index"`
	Label     string `yaml:"label" json:"label"`
	IsPrivate bool   `yaml:"is_private" json:"is_private"`
	Beds      []Bed  `yaml:"beds" json:"beds"`
}

type Bed struct {
	Index         int    `yaml:"index" json:"index"`
	Label         string `yaml:"label" json:"label"`
	PricePerNight int64  `yaml:"price_per_night" json:"price_per_night"`
}

// Room returns the room with the given index.
func (p *Property) Room(index int) (*Room, bool) {
	for i := range p.Rooms {
		if p.Rooms[i].Index == index {
			return &p.Rooms[i], true
		}
	}
	return nil, false
}

func (r *Room) Bed(index int) (*Bed, bool) {
	for i := range r.Beds {
		if r.Beds[i].Index == index {
			return &r.Beds[i], true
		}
	}
	return nil, false
}

// ImplicitBed is the room/bed index pair used for roomless properties.
const ImplicitBed = -1

// BedID is the stable identity of a bookable unit.
type BedID struct {
	PropertyID int64 `json:"property_id"`
	Room       int   `json:"room"`
	Bed        int   `json:"bed"`
}

func (b BedID) IsImplicit() bool {
	return b.Room == ImplicitBed && b.Bed == ImplicitBed
}

// Less orders bed ids by room, then bed.
func (b BedID) Less(other BedID) bool {
	if b.PropertyID != other.PropertyID {
		return b.PropertyID < other.PropertyID
	}
	if b.Room != other.Room {
		return b.Room < other.Room
	}
	return b.Bed < other.Bed
}

// CompareBedID orders bed ids for slices.SortFunc.
func CompareBedID(a, b BedID) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

func (b BedID) String() string {
	return fmt.Sprintf("%d:%d:%d", b.PropertyID, b.Room, b.Bed)
}

// MarshalText lets BedID key JSON objects.
func (b BedID) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *BedID) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ":")
	if len(parts) != 3 {
		return fmt.Errorf("invalid bed id %q", text)
	}
	pid, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid bed id %q: %w", text, err)
	}
	room, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid bed id %q: %w", text, err)
	}
	bed, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("invalid bed id %q: %w", text, err)
	}
	*b = BedID{PropertyID: pid, Room: room, Bed: bed}
	return nil
}
