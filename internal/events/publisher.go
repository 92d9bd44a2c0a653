package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Lifecycle topics published by the job pipeline.
const (
	TopicJobStarted       = "job.started"
	TopicJobCompleted     = "job.completed"
	TopicApprovalApproved = "approval.approved"
	TopicApprovalDenied   = "approval.denied"
)

// Event is the topic+payload contract handed to subscribers.
type Event struct {
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscriber receives lifecycle events. Implementations must tolerate
// being called concurrently from multiple dispatch paths.
type Subscriber interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Publisher fans lifecycle events out to the registered subscribers.
// Delivery is synchronous and best-effort: a subscriber error or panic is
// logged and never propagated to the job pipeline.
type Publisher struct {
	logger zerolog.Logger
	subs   []Subscriber
	now    func() time.Time
}

// NewPublisher builds a publisher over a fixed subscriber set. The set is
// process-wide configuration decided at startup.
func NewPublisher(logger zerolog.Logger, subs ...Subscriber) *Publisher {
	return &Publisher{
		logger: logger.With().Str("component", "events").Logger(),
		subs:   subs,
		now:    time.Now,
	}
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload map[string]any) {
	ev := Event{Topic: topic, Payload: payload, Timestamp: p.now()}
	for _, sub := range p.subs {
		p.notify(ctx, sub, ev)
	}
}

func (p *Publisher) notify(ctx context.Context, sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("subscriber", sub.Name()).
				Str("topic", ev.Topic).
				Interface("panic", r).
				Msg("subscriber panicked")
		}
	}()

	if err := sub.Notify(ctx, ev); err != nil {
		p.logger.Error().
			Err(err).
			Str("subscriber", sub.Name()).
			Str("topic", ev.Topic).
			Msg("subscriber failed")
	}
}
