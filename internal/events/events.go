package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingRejected  = "booking_rejected"
	EventBookingCancelled = "booking_cancelled"
	EventMessageAppended  = "booking_message_appended"
	EventBlockAdded       = "block_added"
	EventBlockRemoved     = "block_removed"
)

// BookingEventTypes lists every event the booking service emits for a booking.
var BookingEventTypes = []string{
	EventBookingCreated,
	EventBookingConfirmed,
	EventBookingRejected,
	EventBookingCancelled,
	EventMessageAppended,
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID  int64     `json:"booking_id"`
	PropertyID int64     `json:"property_id"`
	GuestID    int64     `json:"guest_id"`
	HostID     int64     `json:"host_id"`
	Status     string    `json:"status"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Beds       []string  `json:"beds,omitempty"`
	ChangedBy  int64     `json:"changed_by,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// BlockEventPayload describes a host block change.
type BlockEventPayload struct {
	BlockID    int64     `json:"block_id"`
	PropertyID int64     `json:"property_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `json:"reason,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged when a logger is given.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// Enqueuer is the outbox side of a notification pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, eventType string, bookingID int64, payload []byte) error
}

// Forward subscribes to the booking event types and writes each event into the outbox.
func Forward(bus *EventBus, queue Enqueuer, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = BookingEventTypes
	}
	for _, eventType := range eventTypes {
		bus.Subscribe(eventType, func(event *Event) error {
			var p BookingEventPayload
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				return err
			}
			return queue.Enqueue(context.Background(), event.Type, p.BookingID, event.Payload)
		})
	}
}
