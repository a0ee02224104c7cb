package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// MockKafkaWriter implements KafkaWriter for testing
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(ModelTrained)
	b := NewEvent(ModelTrained)
	assert.Equal(t, ModelTrained, a.Type)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.OccurredAt.IsZero())
}

func TestProducer_Produce(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		producer := newProducer(new(MockKafkaWriter), zaptest.NewLogger(t))
		producer.Produce(NewEvent(RecordsReloaded))
		assert.Equal(t, 1, len(producer.events))
	})

	t.Run("dropped event when queue full", func(t *testing.T) {
		core, recorded := observer.New(zap.WarnLevel)
		producer := newProducer(new(MockKafkaWriter), zap.New(core))
		producer.events = make(chan Event, 1)

		producer.Produce(NewEvent(RecordsReloaded))
		producer.Produce(NewEvent(RecordsReloaded))

		assert.Equal(t, 1, recorded.FilterMessage("Kafka producer queue full, dropping event").Len())
	})
}

func TestProducer_SendEvent(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	producer := newProducer(mockWriter, zaptest.NewLogger(t))
	event := NewEvent(ModelTrained)
	event.RunID = "run-1"

	t.Run("successful send", func(t *testing.T) {
		mockWriter.On("WriteMessages", mock.Anything, mock.Anything).Return(nil)

		producer.sendEvent(context.Background(), event)

		value, err := json.Marshal(event)
		require.NoError(t, err)
		mockWriter.AssertCalled(t, "WriteMessages", mock.Anything, []kafka.Message{
			{Key: []byte(ModelTrained), Value: value},
		})
	})

	t.Run("serialization error", func(t *testing.T) {
		core, recorded := observer.New(zap.ErrorLevel)
		producer.logger = zap.New(core)

		oldMarshal := jsonMarshal
		jsonMarshal = func(_ interface{}) ([]byte, error) {
			return nil, errors.New("mock marshal error")
		}
		defer func() { jsonMarshal = oldMarshal }()

		producer.sendEvent(context.Background(), event)

		assert.Equal(t, 1, recorded.FilterMessage("Failed to serialize event").Len())
		assert.Equal(t, 1, recorded.FilterField(zap.String("event_id", event.ID)).Len())
	})

	t.Run("write error", func(t *testing.T) {
		core, recorded := observer.New(zap.ErrorLevel)
		producer.logger = zap.New(core)
		mockWriter.ExpectedCalls = nil
		mockWriter.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("kafka error"))

		producer.sendEvent(context.Background(), event)

		assert.Equal(t, 1, recorded.FilterMessage("Failed to produce event").Len())
	})
}

func TestProducer_Publish(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	producer := newProducer(mockWriter, zaptest.NewLogger(t))

	mockWriter.On("WriteMessages", mock.Anything, mock.Anything).Return(nil).Once()
	assert.NoError(t, producer.Publish(context.Background(), NewEvent(RecordsReloaded)))

	mockWriter.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	assert.ErrorContains(t, producer.Publish(context.Background(), NewEvent(RecordsReloaded)), "broker down")
}

func TestProducer_CloseFlushesQueue(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	mockWriter.On("WriteMessages", mock.Anything, mock.Anything).Return(nil)
	mockWriter.On("Close").Return(nil)

	producer := newProducer(mockWriter, zaptest.NewLogger(t))
	producer.Produce(NewEvent(RecordsReloaded))
	producer.Produce(NewEvent(ModelTrained))
	go producer.eventLoop()

	producer.Close()

	mockWriter.AssertNumberOfCalls(t, "WriteMessages", 2)
	mockWriter.AssertCalled(t, "Close")
	select {
	case <-producer.closeChan:
	default:
		t.Error("closeChan not closed")
	}
}

func TestProducer_EventLoop(t *testing.T) {
	written := make(chan struct{}, 1)
	mockWriter := new(MockKafkaWriter)
	mockWriter.On("WriteMessages", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		written <- struct{}{}
	})

	producer := newProducer(mockWriter, zaptest.NewLogger(t))
	go producer.eventLoop()

	producer.events <- NewEvent(ModelTrained)

	select {
	case <-written:
	case <-time.After(time.Second):
		t.Fatal("event was not written")
	}
}
