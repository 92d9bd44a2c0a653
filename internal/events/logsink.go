package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes every lifecycle event as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "event-log").Logger()}
}

func (s *LogSink) Name() string { return "log-sink" }

func (s *LogSink) Notify(_ context.Context, ev Event) error {
	s.logger.Info().
		Str("topic", ev.Topic).
		Fields(ev.Payload).
		Time("event_time", ev.Timestamp).
		Msg("lifecycle event")
	return nil
}
