package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/logger"
)

// LogSink writes each event as a structured log line
type LogSink struct {
	logger *zap.SugaredLogger
}

// NewLogSink creates a sink writing to log
func NewLogSink(log *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: logger.AddEventSymbol(log)}
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	fields := []interface{}{
		"event", e.Type,
		logger.FieldScheduleID, e.ScheduleID,
		logger.FieldPayerID, e.PayerID,
		logger.FieldAmount, e.Amount,
		logger.FieldCurrency, e.Currency,
	}
	switch e.Type {
	case OccurrenceProcessed:
		fields = append(fields, logger.FieldReceiptRef, e.ReceiptRef, logger.FieldChannel, e.Channel)
		s.logger.Infow("Occurrence processed", fields...)
	case OccurrenceFailed:
		fields = append(fields, logger.FieldError, e.Error, logger.FieldErrorClass, e.ErrorClass, "will_retry", e.WillRetry)
		s.logger.Warnw("Occurrence failed", fields...)
	default:
		fields = append(fields, logger.FieldReason, e.Reason)
		s.logger.Infow("Schedule paused", fields...)
	}
	return nil
}

// RedisPublisher publishes JSON-encoded events on a Redis pub/sub channel
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher publishes on channel via client
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "remit.events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s event", e.Type)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish %s to %s", e.Type, p.channel)
	}
	return nil
}

// Subscribe decodes events from the channel until ctx is done. Messages
// that do not decode are skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, handle func(Event)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", p.channel)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if json.Unmarshal([]byte(msg.Payload), &e) == nil {
				handle(e)
			}
		}
	}
}
