package models

import "time"

const (
	DayFree    = "free"
	DayPartial = "partial"
	DayBooked  = "booked"
	DayBlocked = "blocked"
)

// CalendarDay is the whole-property occupancy of a single day.
type CalendarDay struct {
	Date      time.Time `json:"date"`
	State     string    `json:"state"`
	FreeBeds  int       `json:"free_beds"`
	TotalBeds int       `json:"total_beds"`
	Past      bool      `json:"past"`
}

// BedDay is the occupancy of a single bed on a single day, used by exports.
type BedDay struct {
	Bed    BedID  `json:"bed"`
	State  string `json:"state"`
	Source string `json:"source,omitempty"`
}
