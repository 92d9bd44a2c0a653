package worker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/edvin/jobrunner/internal/dispatch"
)

// consumerChannel is the slice of *amqp.Channel the consumer uses.
type consumerChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// ConsumerConfig bounds one worker process.
type ConsumerConfig struct {
	// Queues the process subscribes to. A worker may serve several
	// queues but shares one concurrency budget across them.
	Queues []string
	// Concurrency is the number of tasks executed at once.
	Concurrency int
	// PrefetchMultiplier scales the broker prefetch window relative to
	// Concurrency. Messages are acknowledged only after execution
	// finishes, so the multiplier should stay at 1 for long tasks to
	// avoid hoarding work a crashed worker would strand.
	PrefetchMultiplier int
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PrefetchMultiplier <= 0 {
		c.PrefetchMultiplier = 1
	}
	return c
}

// Consumer pulls task envelopes off the broker queues and runs them
// through the executor. Acknowledgement is late: a delivery is acked
// only after the executor reaches a terminal outcome, so a worker crash
// requeues in-flight tasks.
type Consumer struct {
	ch       consumerChannel
	executor *Executor
	cfg      ConsumerConfig
	logger   zerolog.Logger
}

func NewConsumer(ch consumerChannel, executor *Executor, cfg ConsumerConfig, logger zerolog.Logger) *Consumer {
	return &Consumer{
		ch:       ch,
		executor: executor,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "consumer").Logger(),
	}
}

// Run consumes until ctx is cancelled, then waits for in-flight tasks to
// finish before returning.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.cfg.Queues) == 0 {
		return fmt.Errorf("no queues configured")
	}

	if err := c.ch.Qos(c.cfg.Concurrency*c.cfg.PrefetchMultiplier, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries := make([]<-chan amqp.Delivery, 0, len(c.cfg.Queues))
	for _, q := range c.cfg.Queues {
		d, err := c.ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %q: %w", q, err)
		}
		deliveries = append(deliveries, d)
		c.logger.Info().Str("queue", q).Msg("consuming")
	}

	merged := merge(ctx, deliveries)
	sem := semaphore.NewWeighted(int64(c.cfg.Concurrency))

	for {
		select {
		case <-ctx.Done():
			// Drain: acquiring the full weight waits for every
			// in-flight execution.
			_ = sem.Acquire(context.Background(), int64(c.cfg.Concurrency))
			return nil
		case msg, ok := <-merged:
			if !ok {
				_ = sem.Acquire(context.Background(), int64(c.cfg.Concurrency))
				return fmt.Errorf("broker channel closed")
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				// Shutdown raced the delivery; requeue it.
				_ = msg.Nack(false, true)
				continue
			}
			go func(msg amqp.Delivery) {
				defer sem.Release(1)
				c.handle(ctx, msg)
			}(msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var task dispatch.Task
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.MessageId).Msg("malformed task envelope, dropping")
		_ = msg.Nack(false, false)
		return
	}

	outcome := c.executor.Execute(ctx, task)
	c.logger.Info().
		Str("job_id", task.JobID).
		Str("job_result_id", task.ResultID).
		Str("outcome", outcome.String()).
		Msg("task finished")

	// Every outcome is terminal for this delivery: the result row holds
	// the truth and a requeue could only duplicate work.
	if err := msg.Ack(false); err != nil {
		c.logger.Warn().Err(err).Str("job_result_id", task.ResultID).Msg("ack delivery")
	}
}

func merge(ctx context.Context, chans []<-chan amqp.Delivery) <-chan amqp.Delivery {
	out := make(chan amqp.Delivery)
	for _, ch := range chans {
		go func(ch <-chan amqp.Delivery) {
			for msg := range ch {
				select {
				case out <- msg:
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			}
		}(ch)
	}
	return out
}
