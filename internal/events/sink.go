package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
)

// Sink consumes batches of events. Consume must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// LogSink writes each event as a structured log entry.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the Sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch at debug level.
func (s *LogSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.logger.Debug("job event",
			zap.String("type", string(evt.Type)),
			zap.String("job_id", evt.JobID),
			zap.String("team_id", evt.TeamID),
			zap.String("status", string(evt.Status)),
			zap.String("from", string(evt.From)),
			zap.Bool("cancelled", evt.Cancelled),
			zap.Int("completed", evt.Completed),
		)
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// PublisherSink forwards each event as its own message on topic, keyed by job
// ID.
type PublisherSink struct {
	publisher jobs.Publisher
	topic     string
}

// NewPublisherSink returns a sink publishing to topic through publisher.
func NewPublisherSink(publisher jobs.Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

// Consume publishes the batch in order. Every event is attempted; the joined
// publish errors are returned.
func (s *PublisherSink) Consume(ctx context.Context, batch []Event) error {
	var errs []error
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for job %s: %w", evt.Type, evt.JobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink. The publisher is owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
