package worker

import (
	"context"

	"beds4crew/internal/models"

	"github.com/rs/zerolog"
)

// LogSink writes events to the log. It is used when no broker is configured.
type LogSink struct {
	logger *zerolog.Logger
}

func NewLogSink(logger *zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, task models.NotificationTask) error {
	s.logger.Info().
		Int64("task_id", task.ID).
		Str("event_type", task.EventType).
		Int64("booking_id", task.BookingID).
		RawJSON("payload", []byte(task.Payload)).
		Msg("booking event")
	return nil
}
