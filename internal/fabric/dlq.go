package fabric

import (
	"context"
	"log/slog"
)

// LoggingDeadLetterSink just logs exhausted messages; used by
// InMemoryTransport, where there is no separate durable stream to
// dead-letter into.
type LoggingDeadLetterSink struct {
	logger *slog.Logger
}

// NewLoggingDeadLetterSink constructs a LoggingDeadLetterSink.
func NewLoggingDeadLetterSink(logger *slog.Logger) *LoggingDeadLetterSink {
	return &LoggingDeadLetterSink{logger: logger}
}

func (s *LoggingDeadLetterSink) DeadLetter(_ context.Context, msg Message, cause error) error {
	s.logger.Error("fabric: message dead-lettered", "message", msg.Name, "id", msg.ID, "cause", cause)
	return nil
}
