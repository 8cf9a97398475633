package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"beds4crew/internal/cache"
	"beds4crew/internal/domain"
	"beds4crew/internal/events"
	"beds4crew/internal/metrics"
	"beds4crew/internal/models"

	"github.com/google/uuid"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// sanitizeText strips HTML tags and surrounding whitespace.
func sanitizeText(text string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(text, ""))
}

// AppendMessage adds a message to the booking thread. Availability is never touched.
func (s *BookingService) AppendMessage(ctx context.Context, bookingID int64, actor models.Actor, text string) (*models.Message, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsParty(actor.UserID) {
		return nil, fmt.Errorf("%w: user %d is not a party of booking %d", domain.ErrNotAuthorized, actor.UserID, bookingID)
	}

	clean := sanitizeText(text)
	if clean == "" {
		return nil, fmt.Errorf("%w: message text is empty", domain.ErrInvalidMessage)
	}

	msg := &models.Message{
		ID:       uuid.NewString(),
		SenderID: actor.UserID,
		Text:     clean,
		SentAt:   s.opts.Now().UTC(),
	}
	if err := s.repo.AppendMessage(ctx, bookingID, msg); err != nil {
		return nil, err
	}

	// Счетчик непрочитанных меняется только у получателя
	recipient := booking.HostID
	if actor.UserID == booking.HostID {
		recipient = booking.GuestID
	}
	s.invalidateUnread(ctx, recipient)

	s.publishEvent(events.EventMessageAppended, booking, actor.UserID, clean)
	return msg, nil
}

func (s *BookingService) MarkRead(ctx context.Context, bookingID int64, actor models.Actor) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if !booking.IsParty(actor.UserID) {
		return fmt.Errorf("%w: user %d is not a party of booking %d", domain.ErrNotAuthorized, actor.UserID, bookingID)
	}
	if err := s.repo.MarkRead(ctx, bookingID, actor.UserID, s.opts.Now().UTC()); err != nil {
		return err
	}
	s.invalidateUnread(ctx, actor.UserID)
	return nil
}

// UnreadCount is read through the unread cache.
func (s *BookingService) UnreadCount(ctx context.Context, actor models.Actor) (int, error) {
	key := cache.UnreadKey(actor.UserID)
	n, ok, err := s.unread.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
	}
	if err == nil && ok {
		metrics.CacheHit(cacheUnread)
		return n, nil
	}
	metrics.CacheMiss(cacheUnread)

	gen := s.gens.current(key)
	n, err = s.repo.CountUnread(ctx, actor.UserID)
	if err != nil {
		return 0, err
	}
	storeIfCurrent(ctx, s.gens, s.unread, key, gen, n, s.opts.CacheTTL, s.logger)
	return n, nil
}
