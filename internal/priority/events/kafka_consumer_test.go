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

// MockKafkaReader implements KafkaReader for testing
type MockKafkaReader struct {
	mock.Mock
}

func (m *MockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	args := m.Called(ctx)
	return args.Get(0).(kafka.Message), args.Error(1)
}

func (m *MockKafkaReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaReader) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockService implements Service for testing
type MockService struct {
	mock.Mock
}

func (m *MockService) ClearCache() {
	m.Called()
}

func (m *MockService) ReloadModel() bool {
	args := m.Called()
	return args.Bool(0)
}

func encode(t *testing.T, ev Event) kafka.Message {
	value, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(ev.Type), Value: value}
}

func TestConsumer_Handle(t *testing.T) {
	t.Run("handled and committed", func(t *testing.T) {
		reader := new(MockKafkaReader)
		reader.On("CommitMessages", mock.Anything, mock.Anything).Return(nil)
		c := newConsumer(reader, zaptest.NewLogger(t))

		var got Event
		c.RegisterHandler(func(_ context.Context, ev Event) error {
			got = ev
			return nil
		})
		sent := NewEvent(RecordsReloaded)
		c.handle(context.Background(), encode(t, sent))

		assert.Equal(t, sent.ID, got.ID)
		reader.AssertNumberOfCalls(t, "CommitMessages", 1)
	})

	t.Run("handler error leaves message uncommitted", func(t *testing.T) {
		core, recorded := observer.New(zap.ErrorLevel)
		reader := new(MockKafkaReader)
		c := newConsumer(reader, zap.New(core))
		c.RegisterHandler(func(context.Context, Event) error { return errors.New("boom") })

		c.handle(context.Background(), encode(t, NewEvent(ModelTrained)))

		assert.Equal(t, 1, recorded.FilterMessage("Failed to handle event").Len())
		reader.AssertNotCalled(t, "CommitMessages", mock.Anything, mock.Anything)
	})

	t.Run("unparseable message is skipped", func(t *testing.T) {
		core, recorded := observer.New(zap.ErrorLevel)
		reader := new(MockKafkaReader)
		reader.On("CommitMessages", mock.Anything, mock.Anything).Return(nil)
		c := newConsumer(reader, zap.New(core))
		called := false
		c.RegisterHandler(func(context.Context, Event) error { called = true; return nil })

		c.handle(context.Background(), kafka.Message{Value: []byte("{not json")})

		assert.False(t, called)
		assert.Equal(t, 1, recorded.FilterMessage("Failed to parse event").Len())
		reader.AssertNumberOfCalls(t, "CommitMessages", 1)
	})
}

func TestConsumer_StartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := new(MockKafkaReader)
	reader.On("FetchMessage", mock.Anything).Return(kafka.Message{}, context.Canceled).Run(func(mock.Arguments) {
		cancel()
	})
	reader.On("Close").Return(nil)

	c := newConsumer(reader, zaptest.NewLogger(t))
	c.Start(ctx)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	c.Close()
	reader.AssertCalled(t, "Close")
}

func TestServiceHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("records reloaded clears cache", func(t *testing.T) {
		svc := new(MockService)
		svc.On("ClearCache").Return()
		require.NoError(t, ServiceHandler(svc, zaptest.NewLogger(t))(ctx, NewEvent(RecordsReloaded)))
		svc.AssertExpectations(t)
	})

	t.Run("model trained reloads", func(t *testing.T) {
		svc := new(MockService)
		svc.On("ReloadModel").Return(true)
		require.NoError(t, ServiceHandler(svc, zaptest.NewLogger(t))(ctx, NewEvent(ModelTrained)))
		svc.AssertExpectations(t)
	})

	t.Run("failed reload is logged", func(t *testing.T) {
		core, recorded := observer.New(zap.WarnLevel)
		svc := new(MockService)
		svc.On("ReloadModel").Return(false)
		require.NoError(t, ServiceHandler(svc, zap.New(core))(ctx, NewEvent(ModelTrained)))
		assert.Equal(t, 1, recorded.FilterMessageSnippet("reload after training failed").Len())
	})

	t.Run("unknown type ignored", func(t *testing.T) {
		svc := new(MockService)
		require.NoError(t, ServiceHandler(svc, zaptest.NewLogger(t))(ctx, Event{Type: "company_created"}))
		svc.AssertNotCalled(t, "ClearCache")
		svc.AssertNotCalled(t, "ReloadModel")
	})
}
