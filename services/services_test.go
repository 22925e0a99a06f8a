package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticket-engine/models"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(channel string, message any) (int, error) {
	args := m.Called(channel, message)
	return args.Int(0), args.Error(1)
}

func TestArtifactQueue_Enqueue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewArtifactQueue(db, "", nil)

	job := models.ArtifactJob{
		MessageID:  "msg1",
		TicketID:   "t1",
		TemplateID: "tmpl_gold",
		InputData:  map[string]any{"holder_name": "Wanjiku", "ticket_code": "K7QXM2PA9D"},
	}
	data, err := json.Marshal(job)
	require.NoError(t, err)

	mock.ExpectLPush(DefaultArtifactQueueKey, string(data)).SetVal(1)

	require.NoError(t, q.Enqueue(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArtifactQueue_EnqueueError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewArtifactQueue(db, "jobs:test", nil)

	job := models.ArtifactJob{TicketID: "t1", TemplateID: "tmpl"}
	data, err := json.Marshal(job)
	require.NoError(t, err)
	mock.ExpectLPush("jobs:test", string(data)).SetErr(errors.New("READONLY You can't write against a read only replica"))

	err = q.Enqueue(context.Background(), job)
	assert.ErrorContains(t, err, "push artifact job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArtifactQueue_Len(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := NewArtifactQueue(db, "jobs:test", nil)
	mock.ExpectLLen("jobs:test").SetVal(7)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "jobs:test", q.Key())
}

func TestTriggerService_Fire(t *testing.T) {
	pub := &MockPublisher{}
	svc := NewTriggerService(pub, "", nil)

	trigger := models.Trigger{
		MessageID: "msg2",
		Name:      models.TriggerTicketIssued,
		TenantID:  "org1",
		ContactID: "c1",
		Context:   map[string]any{"ticket_code": "K7QXM2PA9D"},
	}
	pub.On("Publish", "triggers.org1", trigger).Return(200, nil).Once()

	require.NoError(t, svc.Fire(context.Background(), trigger))
	pub.AssertExpectations(t)
}

func TestTriggerService_FireFailures(t *testing.T) {
	trigger := models.Trigger{Name: models.TriggerTicketIssued, TenantID: "org1"}

	t.Run("transport error", func(t *testing.T) {
		pub := &MockPublisher{}
		pub.On("Publish", "events.org1", trigger).Return(0, errors.New("dial tcp: timeout"))
		err := NewTriggerService(pub, "events", nil).Fire(context.Background(), trigger)
		assert.ErrorContains(t, err, "dial tcp")
	})

	t.Run("rejected", func(t *testing.T) {
		pub := &MockPublisher{}
		pub.On("Publish", "events.org1", trigger).Return(403, nil)
		err := NewTriggerService(pub, "events", nil).Fire(context.Background(), trigger)
		assert.ErrorContains(t, err, "status 403")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewTriggerService(&MockPublisher{}, "events", nil).Fire(ctx, trigger)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTriggerService_ChannelFor(t *testing.T) {
	svc := NewTriggerService(&MockPublisher{}, "triggers", nil)
	assert.Equal(t, "triggers.org9", svc.ChannelFor("org9"))
	assert.Equal(t, "triggers", svc.ChannelFor(""))
}
