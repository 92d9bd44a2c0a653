package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/edvin/jobrunner/internal/model"
)

// brokerChannel is the slice of *amqp.Channel the backend uses.
type brokerChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// BrokerBackend serializes tasks as messages onto the named broker queue.
// Any long-lived worker subscribed to that queue may claim a message;
// delivery is at-least-once, so job bodies routed here must be
// idempotent.
type BrokerBackend struct {
	ch     brokerChannel
	logger zerolog.Logger
}

func NewBrokerBackend(ch brokerChannel, logger zerolog.Logger) *BrokerBackend {
	return &BrokerBackend{
		ch:     ch,
		logger: logger.With().Str("component", "broker-backend").Logger(),
	}
}

func (b *BrokerBackend) Type() string { return model.BackendWorkerPool }

// DeclareQueue ensures the durable broker queue exists. Called at startup
// for every worker-pool queue in the directory.
func (b *BrokerBackend) DeclareQueue(name string) error {
	if _, err := b.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", name, err)
	}
	return nil
}

// Submit publishes the task envelope. The message is persistent so a
// broker restart does not drop queued tasks. FIFO within one queue holds
// to the extent the broker honors submission order.
func (b *BrokerBackend) Submit(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	err = b.ch.PublishWithContext(ctx,
		"",         // default exchange
		task.Queue, // routing key is the queue name
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    task.ResultID,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish to %q: %w", task.Queue, err)
	}

	b.logger.Debug().
		Str("queue", task.Queue).
		Str("job_result_id", task.ResultID).
		Msg("task published")
	return nil
}
