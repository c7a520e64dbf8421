package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/warp/visit-scheduler/booking"
)

const DefaultQueue = "visits.events"

// AMQP publishes events to a durable queue on the default exchange.
// The connection is opened lazily and re-dialled after a failed publish.
type AMQP struct {
	url   string
	queue string
	log   zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQP(url, queue string, logger zerolog.Logger) *AMQP {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQP{
		url:   url,
		queue: queue,
		log:   logger.With().Str("component", "amqp").Logger(),
	}
}

func (a *AMQP) Notify(ctx context.Context, e booking.Event) error {
	msg, err := publishing(e)
	if err != nil {
		return err
	}

	return retry.Do(func() error {
		ch, err := a.channel()
		if err != nil {
			return err
		}
		if err := ch.PublishWithContext(ctx,
			"",      // default exchange
			a.queue, // routing key = queue name
			false,   // mandatory
			false,   // immediate
			msg,
		); err != nil {
			a.reset()
			return errors.Wrap(err, "rabbitmq publish")
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			a.log.Warn().Err(err).Uint("attempt", n+1).Str("event", e.ID).Msg("retrying publish")
		}),
	)
}

// Close releases the channel and connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.ch != nil {
		err = a.ch.Close()
	}
	if a.conn != nil {
		if cerr := a.conn.Close(); err == nil {
			err = cerr
		}
	}
	a.ch, a.conn = nil, nil
	return err
}

func (a *AMQP) channel() (*amqp.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ch != nil && !a.ch.IsClosed() {
		return a.ch, nil
	}
	if a.conn == nil || a.conn.IsClosed() {
		conn, err := amqp.Dial(a.url)
		if err != nil {
			return nil, errors.Wrap(err, "rabbitmq dial")
		}
		a.conn = conn
	}
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq channel")
	}
	if _, err := ch.QueueDeclare(
		a.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "rabbitmq queue declare")
	}
	a.ch = ch
	return ch, nil
}

func (a *AMQP) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch != nil {
		a.ch.Close()
		a.ch = nil
	}
}

func publishing(e booking.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, errors.Wrap(err, "marshal event")
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Type),
		Timestamp:    e.OccurredAt.UTC(),
		Body:         body,
	}, nil
}
