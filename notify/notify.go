// Package notify delivers booking lifecycle events to downstream consumers.
//
// Three notifiers are provided:
//   - Log:    writes each event to the structured log
//   - AMQP:   publishes each event as a persistent JSON message to RabbitMQ
//   - Multi:  fans an event out to several notifiers
//
// All of them satisfy booking.Notifier. The engine calls them after commit
// and only logs their errors.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/warp/visit-scheduler/booking"
)

// Log writes events to a zerolog logger.
type Log struct {
	log zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger.With().Str("component", "notify").Logger()}
}

func (l *Log) Notify(_ context.Context, e booking.Event) error {
	ev := l.log.Info().
		Str("event", string(e.Type)).
		Str("id", e.ID).
		Str("reference", e.Reference).
		Str("prisoner", e.PrisonerID).
		Str("session", e.DefinitionRef).
		Stringer("date", e.Date).
		Str("restriction", string(e.Restriction))
	if e.BookingRef != "" && e.BookingRef != e.Reference {
		ev = ev.Str("booking", e.BookingRef)
	}
	if e.Reason != "" {
		ev = ev.Str("reason", e.Reason)
	}
	ev.Msg("booking event")
	return nil
}

// Multi delivers an event to every notifier, even when an earlier one fails.
type Multi []booking.Notifier

func (m Multi) Notify(ctx context.Context, e booking.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
