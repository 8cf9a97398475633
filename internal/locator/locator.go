package locator

import (
	"fmt"
	"slices"

	"beds4crew/internal/domain"
	"beds4crew/internal/models"
)

// Resolve expands a scope into the beds it occupies, ordered by (room, bed).
func Resolve(p *models.Property, scope models.Scope) ([]models.BedID, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: property is nil", domain.ErrInvalidResource)
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%w: property %d is inactive", domain.ErrInvalidResource, p.ID)
	}
	return Expand(p, scope)
}

// Expand is Resolve without the active check. It is used to place already
// persisted blocks on an index.
func Expand(p *models.Property, scope models.Scope) ([]models.BedID, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: property is nil", domain.ErrInvalidResource)
	}

	if len(p.Rooms) == 0 {
		if scope.Kind() != models.ScopeEntire {
			return nil, fmt.Errorf("%w: property %d has no rooms, scope %s", domain.ErrInvalidResource, p.ID, scope)
		}
		return []models.BedID{{PropertyID: p.ID, Room: models.ImplicitBed, Bed: models.ImplicitBed}}, nil
	}

	var beds []models.BedID
	switch scope.Kind() {
	case models.ScopeEntire:
		for _, room := range p.Rooms {
			beds = appendRoom(beds, p.ID, room)
		}
	case models.ScopeRoom:
		idx, _ := scope.RoomIndex()
		room, ok := p.Room(idx)
		if !ok {
			return nil, fmt.Errorf("%w: room %d not found in property %d", domain.ErrInvalidResource, idx, p.ID)
		}
		beds = appendRoom(beds, p.ID, *room)
	case models.ScopeBed:
		roomIdx, _ := scope.RoomIndex()
		bedIdx, _ := scope.BedIndex()
		room, ok := p.Room(roomIdx)
		if !ok {
			return nil, fmt.Errorf("%w: room %d not found in property %d", domain.ErrInvalidResource, roomIdx, p.ID)
		}
		if _, ok := room.Bed(bedIdx); !ok {
			return nil, fmt.Errorf("%w: bed %d not found in room %d", domain.ErrInvalidResource, bedIdx, roomIdx)
		}
		beds = append(beds, models.BedID{PropertyID: p.ID, Room: roomIdx, Bed: bedIdx})
	}

	if len(beds) == 0 {
		return nil, fmt.Errorf("%w: scope %s has no beds", domain.ErrInvalidResource, scope)
	}

	slices.SortFunc(beds, models.CompareBedID)
	return beds, nil
}

// AllBeds returns every bed of the property regardless of its active flag.
func AllBeds(p *models.Property) []models.BedID {
	if len(p.Rooms) == 0 {
		return []models.BedID{{PropertyID: p.ID, Room: models.ImplicitBed, Bed: models.ImplicitBed}}
	}
	var beds []models.BedID
	for _, room := range p.Rooms {
		beds = appendRoom(beds, p.ID, room)
	}
	slices.SortFunc(beds, models.CompareBedID)
	return beds
}

// Snapshot attaches display labels to resolved beds.
func Snapshot(p *models.Property, beds []models.BedID) []models.BookedBed {
	out := make([]models.BookedBed, 0, len(beds))
	for _, id := range beds {
		out = append(out, models.BookedBed{Bed: id, Label: label(p, id)})
	}
	return out
}

// NightlyPrice sums the per-night price of the given beds.
func NightlyPrice(p *models.Property, beds []models.BedID) int64 {
	var total int64
	for _, id := range beds {
		if id.IsImplicit() {
			total += p.PricePerNight
			continue
		}
		if room, ok := p.Room(id.Room); ok {
			if bed, ok := room.Bed(id.Bed); ok {
				total += bed.PricePerNight
			}
		}
	}
	return total
}

func appendRoom(beds []models.BedID, propertyID int64, room models.Room) []models.BedID {
	for _, bed := range room.Beds {
		beds = append(beds, models.BedID{PropertyID: propertyID, Room: room.Index, Bed: bed.Index})
	}
	return beds
}

func label(p *models.Property, id models.BedID) string {
	if id.IsImplicit() {
		if p.Title != "" {
			return p.Title
		}
		return "Entire place"
	}
	room, ok := p.Room(id.Room)
	if !ok {
		return id.String()
	}
	roomLabel := room.Label
	if roomLabel == "" {
		roomLabel = fmt.Sprintf("Room %d", room.Index+1)
	}
	bed, ok := room.Bed(id.Bed)
	if !ok || bed.Label == "" {
		return fmt.Sprintf("%s, bed %d", roomLabel, id.Bed+1)
	}
	return roomLabel + ", " + bed.Label
}
