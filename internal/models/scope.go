package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ScopeKind string

const (
	ScopeEntire ScopeKind = "entire"
	ScopeRoom   ScopeKind = "room"
	ScopeBed    ScopeKind = "bed"
)

var ErrInvalidScope = errors.New("invalid scope")

// Scope is the granularity of a booking or block. It can only be built by the
// constructors below, so a bed scope always carries both indexes.
type Scope struct {
	kind ScopeKind
	room int
	bed  int
}

func EntireScope() Scope { return Scope{kind: ScopeEntire} }

func RoomScope(room int) Scope { return Scope{kind: ScopeRoom, room: room} }

func BedScope(room, bed int) Scope { return Scope{kind: ScopeBed, room: room, bed: bed} }

// ParseScope validates a persisted or wire representation.
func ParseScope(kind string, room, bed *int) (Scope, error) {
	switch ScopeKind(kind) {
	case ScopeEntire, "":
		return EntireScope(), nil
	case ScopeRoom:
		if room == nil {
			return Scope{}, fmt.Errorf("%w: room scope needs roomIndex", ErrInvalidScope)
		}
		return RoomScope(*room), nil
	case ScopeBed:
		if room == nil || bed == nil {
			return Scope{}, fmt.Errorf("%w: bed scope needs roomIndex and bedIndex", ErrInvalidScope)
		}
		return BedScope(*room, *bed), nil
	default:
		return Scope{}, fmt.Errorf("%w: unknown block type %q", ErrInvalidScope, kind)
	}
}

func (s Scope) Kind() ScopeKind {
	if s.kind == "" {
		return ScopeEntire
	}
	return s.kind
}

// RoomIndex is set for room and bed scopes.
func (s Scope) RoomIndex() (int, bool) {
	if s.kind == ScopeRoom || s.kind == ScopeBed {
		return s.room, true
	}
	return 0, false
}

func (s Scope) BedIndex() (int, bool) {
	if s.kind == ScopeBed {
		return s.bed, true
	}
	return 0, false
}

func (s Scope) String() string {
	switch s.Kind() {
	case ScopeRoom:
		return fmt.Sprintf("room:%d", s.room)
	case ScopeBed:
		return fmt.Sprintf("bed:%d:%d", s.room, s.bed)
	default:
		return string(ScopeEntire)
	}
}

type scopeJSON struct {
	BlockType ScopeKind `json:"blockType"`
	RoomIndex *int      `json:"roomIndex,omitempty"`
	BedIndex  *int      `json:"bedIndex,omitempty"`
}

func (s Scope) MarshalJSON() ([]byte, error) {
	out := scopeJSON{BlockType: s.Kind()}
	if r, ok := s.RoomIndex(); ok {
		out.RoomIndex = &r
	}
	if b, ok := s.BedIndex(); ok {
		out.BedIndex = &b
	}
	return json.Marshal(out)
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var in scopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	parsed, err := ParseScope(string(in.BlockType), in.RoomIndex, in.BedIndex)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
