package domain

import (
	"errors"
	"fmt"

	"beds4crew/internal/daterange"
	"beds4crew/internal/models"
)

var (
	ErrInvalidRange      = daterange.ErrInvalidRange
	ErrInvalidResource   = errors.New("invalid resource")
	ErrBookingConflict   = errors.New("booking conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrTimeout           = errors.New("availability index build timed out")
	ErrNotFound          = errors.New("not found")
	ErrInvalidMessage    = errors.New("invalid message")

	// ErrConcurrentModification is returned by the repository when an optimistic version check fails.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// ConflictError names the interval that made a request unbookable.
//
// Bed is the first requested bed that collided. SourceScope is the scope of the
// colliding booking or block (an entire-property block reports entire), not the
// granularity of the request; Range is the colliding interval.
type ConflictError struct {
	Bed         models.BedID       `json:"bed"`
	Source      string             `json:"source"`
	SourceScope models.Scope       `json:"source_scope"`
	Range       daterange.DayRange `json:"range"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("booking conflict: bed %s is held by %s (%s, %s)", e.Bed, e.Source, e.SourceScope, e.Range)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrBookingConflict
}
