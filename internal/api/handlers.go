package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"beds4crew/internal/daterange"
	"beds4crew/internal/domain"
	"beds4crew/internal/export"
	"beds4crew/internal/models"
)

type createBookingRequest struct {
	PropertyID int64        `json:"property_id"`
	Scope      models.Scope `json:"scope"`
	Start      string       `json:"start"`
	End        string       `json:"end"`
}

type addBlockRequest struct {
	Scope  models.Scope `json:"scope"`
	Start  string       `json:"start"`
	End    string       `json:"end"`
	Reason string       `json:"reason"`
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()
	dr, err := parseRange(q.Get("start"), q.Get("end"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	scope, err := scopeFromQuery(q.Get("scope"), q.Get("room"), q.Get("bed"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.CheckAvailability(r.Context(), propertyID, scope, dr.Start, dr.End)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	dr, err := parseRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	days, err := s.svc.Calendar(r.Context(), propertyID, dr.Start, dr.End)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	dr, err := parseRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	grid, err := s.svc.Occupancy(r.Context(), propertyID, dr.Start, dr.End, actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(propertyID, dr.Start, dr.End)))
	if err := export.WriteOccupancy(w, grid); err != nil {
		s.logger.Error().Err(err).Int64("property_id", propertyID).Msg("export failed")
	}
}

func (s *HTTPServer) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body addBlockRequest
	if !decodeBody(w, r, &body) {
		return
	}
	dr, err := parseRange(body.Start, body.End)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	block, err := s.svc.AddBlockedPeriod(r.Context(), domain.AddBlockRequest{
		PropertyID: propertyID,
		Actor:      actor,
		Scope:      body.Scope,
		Start:      dr.Start,
		End:        dr.End,
		Reason:     body.Reason,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

func (s *HTTPServer) handleRemoveBlock(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	blockID, ok := pathID(w, r, "blockID")
	if !ok {
		return
	}

	if err := s.svc.RemoveBlockedPeriod(r.Context(), propertyID, blockID, actor); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body createBookingRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.PropertyID <= 0 {
		writeError(w, http.StatusBadRequest, "property_id is required")
		return
	}
	dr, err := parseRange(body.Start, body.End)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	booking, err := s.svc.CreateBooking(r.Context(), domain.CreateBookingRequest{
		PropertyID: body.PropertyID,
		GuestID:    actor.UserID,
		Scope:      body.Scope,
		Start:      dr.Start,
		End:        dr.End,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGuestBookings(w http.ResponseWriter, r *http.Request) {
	s.listBookings(w, r, s.svc.ListGuestBookings)
}

func (s *HTTPServer) handleHostBookings(w http.ResponseWriter, r *http.Request) {
	s.listBookings(w, r, s.svc.ListHostBookings)
}

func (s *HTTPServer) listBookings(
	w http.ResponseWriter,
	r *http.Request,
	list func(ctx context.Context, actor models.Actor) ([]*models.Booking, error),
) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	bookings, err := list(r.Context(), actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	n, err := s.svc.UnreadCount(r.Context(), actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	booking, err := s.svc.GetBooking(r.Context(), id, actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.svc.ConfirmBooking)
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.svc.RejectBooking)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.svc.CancelBooking)
}

func (s *HTTPServer) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error),
) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	booking, err := apply(r.Context(), id, actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body messageRequest
	if !decodeBody(w, r, &body) {
		return
	}
	msg, err := s.svc.AppendMessage(r.Context(), id, actor, body.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.MarkRead(r.Context(), id, actor); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpers

func requireActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthenticated.Error())
	}
	return actor, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// parseRange reads the inclusive start and end dates (YYYY-MM-DD).
func parseRange(start, end string) (daterange.DayRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" || end == "" {
		return daterange.DayRange{}, fmt.Errorf("%w: start and end are required", domain.ErrInvalidRange)
	}
	return daterange.Parse(start, end)
}

func scopeFromQuery(kind, room, bed string) (models.Scope, error) {
	parse := func(name, raw string) (*int, error) {
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer", models.ErrInvalidScope, name)
		}
		return &v, nil
	}
	roomIdx, err := parse("room", room)
	if err != nil {
		return models.Scope{}, err
	}
	bedIdx, err := parse("bed", bed)
	if err != nil {
		return models.Scope{}, err
	}
	return models.ParseScope(kind, roomIdx, bedIdx)
}
