// Package events publishes domain events such as bookings and vital-sign
// alerts to downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types.
const (
	AppointmentBooked        = "appointment.booked"
	AppointmentRescheduled   = "appointment.rescheduled"
	AppointmentStatusChanged = "appointment.status_changed"
	AppointmentDeleted       = "appointment.deleted"
	UnavailabilityCreated    = "unavailability.created"
	UnavailabilityDeleted    = "unavailability.deleted"
	PrescriptionCreated      = "prescription.created"
	PrescriptionStatus       = "prescription.status_changed"
	VitalsRecorded           = "vitals.recorded"
	VitalsAlert              = "vitals.alert"
	UserRegistered           = "user.registered"
)

// Event is one domain fact. Key groups related events, usually by patient or
// doctor id, and is used as the partition key.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

// New returns an event stamped with a fresh id and the current time.
func New(typ, key string, data interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       typ,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher delivers events. Publish must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info().
		Str("event_id", e.ID).
		Str("event_type", e.Type).
		Str("key", e.Key).
		Interface("data", e.Data).
		Msg("domain event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type typ.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Emitter publishes on behalf of a service and logs failures instead of
// returning them, so a broker outage never fails a request that has already
// been persisted.
type Emitter struct {
	pub    Publisher
	logger zerolog.Logger
}

func NewEmitter(pub Publisher, logger zerolog.Logger) *Emitter {
	if pub == nil {
		pub = Nop{}
	}
	return &Emitter{pub: pub, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, typ, key string, data interface{}) {
	if e == nil {
		return
	}
	evt := New(typ, key, data)
	if err := e.pub.Publish(ctx, evt); err != nil {
		e.logger.Error().Err(err).
			Str("event_type", typ).
			Str("event_id", evt.ID).
			Msg("failed to publish event")
	}
}
