package events

import (
	"context"
	"encoding/json"

	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  KafkaReader
	logger  *zap.Logger
	handler func(context.Context, Event) error
	done    chan struct{}
}

func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) *Consumer {
	return newConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
		Dialer:  kafka.DefaultDialer,
	}), logger)
}

func newConsumer(r KafkaReader, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: r,
		logger: logger.Named("kafka_consumer"),
		done:   make(chan struct{}),
	}
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("Failed to fetch message", zap.Error(err))
				continue
			}
			c.handle(ctx, msg)
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to parse event",
			zap.Error(err),
			zap.ByteString("value", msg.Value),
		)
		// Unparseable messages would block the partition forever.
		c.commit(ctx, msg, event)
		return
	}

	if c.handler != nil {
		if err := c.handler(ctx, event); err != nil {
			c.logger.Error("Failed to handle event",
				zap.Error(err),
				zap.String("event_type", string(event.Type)),
			)
			return
		}
	}
	c.commit(ctx, msg, event)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message, event Event) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("Failed to commit message",
			zap.Error(err),
			zap.String("event_type", string(event.Type)),
		)
	}
}

func (c *Consumer) RegisterHandler(fn func(context.Context, Event) error) {
	c.handler = fn
}

// Close stops the reader.
func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("Failed to close Kafka reader", zap.Error(err))
	}
}

// Done is closed once the consuming goroutine exits.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Service is the part of the ranking service reacting to events.
type Service interface {
	ClearCache()
	ReloadModel() bool
}

// ServiceHandler dispatches events to svc: reloaded records clear the
// cache and a trained model triggers a reload.
func ServiceHandler(svc Service, logger *zap.Logger) func(context.Context, Event) error {
	logger = logger.Named("event_handler")
	return func(_ context.Context, event Event) error {
		switch event.Type {
		case RecordsReloaded:
			svc.ClearCache()
			logger.Info("records reloaded, cache cleared", zap.String("event_id", event.ID))
		case ModelTrained:
			if !svc.ReloadModel() {
				logger.Warn("model reload after training failed, serving heuristic ranking",
					zap.String("run_id", event.RunID),
					zap.Error(e.ErrModelUnavailable),
				)
				return nil
			}
			logger.Info("model reloaded", zap.String("run_id", event.RunID))
		default:
			logger.Warn("ignoring unknown event", zap.String("event_type", string(event.Type)))
		}
		return nil
	}
}
