package infra

import (
	"log/slog"

	"github.com/classbank/classbank/internal/events"
)

// NewEventPublisher publishes to Kafka when brokers are configured and to
// the structured log otherwise. The returned close func is never nil.
func NewEventPublisher(brokers []string, topic string, logger *slog.Logger) (events.Publisher, func() error) {
	if len(brokers) == 0 {
		logger.Info("event publisher", slog.String("backend", "log"))
		return events.NewLoggerPublisher(logger), func() error { return nil }
	}
	p := events.NewKafkaPublisher(brokers, topic)
	logger.Info("event publisher", slog.String("backend", "kafka"), slog.String("topic", topic), slog.Int("brokers", len(brokers)))
	return p, p.Close
}
