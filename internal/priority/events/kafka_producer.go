package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var jsonMarshal = json.Marshal

type EventType string

const (
	RecordsReloaded EventType = "records_reloaded"
	ModelTrained    EventType = "model_trained"
)

// Event notifies ranking services that their inputs changed.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
	ModelPath     string    `json:"model_path,omitempty"`
	RunID         string    `json:"run_id,omitempty"`
	SnapshotID    string    `json:"data_snapshot_id,omitempty"`
	Equipment     int       `json:"equipment,omitempty"`
	Relationships int       `json:"relationships,omitempty"`
}

// NewEvent returns an event of the given type with a fresh id.
func NewEvent(t EventType) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC()}
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer    KafkaWriter
	events    chan Event
	logger    *zap.Logger
	closeChan chan struct{}
	done      chan struct{}
}

func NewProducer(brokers []string, logger *zap.Logger, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		logger.Warn("failed to create topic (may already exist)", zap.Error(err))
	}

	p := newProducer(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
		Topic:    topic,
	}, logger)
	go p.eventLoop()
	return p, nil
}

func newProducer(w KafkaWriter, logger *zap.Logger) *Producer {
	return &Producer{
		writer:    w,
		events:    make(chan Event, 100),
		logger:    logger.Named("kafka_producer"),
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Produce queues an event without blocking. A full queue drops the event.
func (p *Producer) Produce(event Event) {
	select {
	case p.events <- event:
	default:
		p.logger.Warn("Kafka producer queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
		)
	}
}

// Publish writes an event synchronously.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	msg, err := p.message(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

func (p *Producer) message(event Event) (kafka.Message, error) {
	value, err := jsonMarshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to serialize event: %w", err)
	}
	return kafka.Message{Key: []byte(event.Type), Value: value}, nil
}

func (p *Producer) eventLoop() {
	defer close(p.done)
	for {
		select {
		case event := <-p.events:
			p.sendEvent(context.Background(), event)
		case <-p.closeChan:
			for {
				select {
				case event := <-p.events:
					p.sendEvent(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (p *Producer) sendEvent(ctx context.Context, event Event) {
	msg, err := p.message(event)
	if err != nil {
		p.logger.Error("Failed to serialize event",
			zap.Error(err),
			zap.String("event_id", event.ID),
		)
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to produce event",
			zap.Error(err),
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
		)
	}
}

// Close flushes queued events and closes the writer.
func (p *Producer) Close() {
	close(p.closeChan)
	<-p.done
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka writer", zap.Error(err))
	}
}
