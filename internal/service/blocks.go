package service

import (
	"context"
	"fmt"

	"beds4crew/internal/daterange"
	"beds4crew/internal/domain"
	"beds4crew/internal/events"
	"beds4crew/internal/locator"
	"beds4crew/internal/models"
)

// AddBlockedPeriod stores a host block. Bookings that overlap it are left as they are.
func (s *BookingService) AddBlockedPeriod(ctx context.Context, req domain.AddBlockRequest) (*models.BlockedPeriod, error) {
	dr, err := daterange.New(req.Start, req.End)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.LoadProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if p.HostID != req.Actor.UserID {
		return nil, fmt.Errorf("%w: user %d is not the host of property %d", domain.ErrNotAuthorized, req.Actor.UserID, p.ID)
	}
	// inactive properties may still be blocked
	if _, err := locator.Expand(p, req.Scope); err != nil {
		return nil, err
	}

	block := &models.BlockedPeriod{
		PropertyID: p.ID,
		Range:      dr,
		Scope:      req.Scope,
		Reason:     sanitizeText(req.Reason),
	}

	unlock := s.locks.lock(p.ID)
	err = s.repo.SaveBlockedPeriod(ctx, block)
	if err == nil {
		s.invalidateProperty(ctx, p.ID)
	}
	unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("property_id", p.ID).Int64("block_id", block.ID).Str("range", dr.String()).Str("scope", req.Scope.String()).Msg("block added")
	s.publishBlockEvent(events.EventBlockAdded, block)
	return block, nil
}

func (s *BookingService) RemoveBlockedPeriod(ctx context.Context, propertyID, blockID int64, actor models.Actor) error {
	p, err := s.repo.LoadProperty(ctx, propertyID)
	if err != nil {
		return err
	}
	if p.HostID != actor.UserID {
		return fmt.Errorf("%w: user %d is not the host of property %d", domain.ErrNotAuthorized, actor.UserID, p.ID)
	}

	unlock := s.locks.lock(p.ID)
	err = s.repo.DeleteBlockedPeriod(ctx, propertyID, blockID)
	if err == nil {
		s.invalidateProperty(ctx, p.ID)
	}
	unlock()
	if err != nil {
		return err
	}

	s.logger.Info().Int64("property_id", p.ID).Int64("block_id", blockID).Msg("block removed")
	s.publishBlockEvent(events.EventBlockRemoved, &models.BlockedPeriod{ID: blockID, PropertyID: p.ID})
	return nil
}

func (s *BookingService) publishBlockEvent(eventType string, block *models.BlockedPeriod) {
	if s.eventBus == nil {
		return
	}
	payload := events.BlockEventPayload{
		BlockID:    block.ID,
		PropertyID: block.PropertyID,
		Start:      block.Range.Start,
		End:        block.Range.End,
		Reason:     block.Reason,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("block_id", block.ID).Msg("publish event error")
	}
}
