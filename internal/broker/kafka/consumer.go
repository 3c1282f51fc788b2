package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/CarrierGate/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RequestHandler обрабатывает одну заявку из tracking.requested.
type RequestHandler func(ctx context.Context, req messages.TrackingRequested) error

// Consumer читает tracking.requested.
type Consumer struct {
	r messageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume blocks until ctx is done or handle fails. A message that does not decode into a
// TrackingRequested is logged and committed; any other message is committed only after
// handle succeeded, so a failed request is read again after restart.
func (c *Consumer) Consume(ctx context.Context, handle RequestHandler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}

		req, err := messages.DecodeTrackingRequested(msg.Key, msg.Value)
		if err != nil {
			slog.Warn("skip malformed tracking request",
				"partition", msg.Partition, "offset", msg.Offset, "error", err.Error())
		} else if err := handle(ctx, req); err != nil {
			return errors.Wrapf(err, "handle request %s (partition %d, offset %d)",
				req.TrackingNumber, msg.Partition, msg.Offset)
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}
