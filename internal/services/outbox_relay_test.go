package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ticket-engine/models"
)

type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job models.ArtifactJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

type MockTriggerDispatcher struct {
	mock.Mock
}

func (m *MockTriggerDispatcher) Fire(ctx context.Context, trigger models.Trigger) error {
	args := m.Called(ctx, trigger)
	return args.Error(0)
}

func TestOutboxRelay_DeliversFulfillmentSideEffects(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.purchase(t, env.seedTicketType(t, 0, nil, "tmpl_gold"))

	jobs := &MockJobQueue{}
	jobs.On("Enqueue", mock.Anything, mock.MatchedBy(func(job models.ArtifactJob) bool {
		return job.MessageID != "" && job.TicketID == ticket.ID && job.TemplateID == "tmpl_gold" &&
			job.InputData["ticket_code"] == ticket.Code
	})).Return(nil).Once()

	triggers := &MockTriggerDispatcher{}
	triggers.On("Fire", mock.Anything, mock.MatchedBy(func(tr models.Trigger) bool {
		return tr.MessageID != "" && tr.Name == models.TriggerTicketIssued &&
			tr.TenantID == testOrg && tr.ContactID == ticket.ContactID &&
			tr.Context["ticket_code"] == ticket.Code
	})).Return(nil).Once()

	relay := NewOutboxRelay(env.store, jobs, triggers, OutboxRelayConfig{}, zap.NewNop())

	stats, err := relay.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RelayStats{Dispatched: 2}, stats)

	stats, err = relay.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RelayStats{}, stats)

	jobs.AssertExpectations(t)
	triggers.AssertExpectations(t)

	outbox, err := env.store.OutboxStats()
	require.NoError(t, err)
	assert.Equal(t, &models.OutboxStats{Dispatched: 2}, outbox)
}

func TestOutboxRelay_RetriesThenGivesUp(t *testing.T) {
	env := newTestEnv(t)
	env.purchase(t, env.seedTicketType(t, 0, nil, ""))

	triggers := &MockTriggerDispatcher{}
	triggers.On("Fire", mock.Anything, mock.Anything).Return(errors.New("pubnub: 503")).Times(2)

	relay := NewOutboxRelay(env.store, &MockJobQueue{}, triggers, OutboxRelayConfig{MaxAttempts: 2}, zap.NewNop())
	ctx := context.Background()

	stats, err := relay.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, RelayStats{Failed: 1}, stats)

	msgs, err := env.store.PendingOutbox(10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].Attempts)
	assert.Equal(t, "pubnub: 503", msgs[0].LastError)

	_, err = relay.DispatchPending(ctx)
	require.NoError(t, err)

	outbox, err := env.store.OutboxStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), outbox.Pending)
	assert.Equal(t, int64(1), outbox.Failed)

	stats, err = relay.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, RelayStats{}, stats)
	triggers.AssertExpectations(t)
}

func TestOutboxRelay_MalformedPayloadCountsAsFailure(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.EnqueueOutbox(context.Background(), models.OutboxTrigger, "trigger:broken:1", "not an object")
	require.NoError(t, err)

	relay := NewOutboxRelay(env.store, &MockJobQueue{}, &MockTriggerDispatcher{}, OutboxRelayConfig{MaxAttempts: 1}, nil)
	stats, err := relay.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RelayStats{Failed: 1}, stats)

	outbox, err := env.store.OutboxStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), outbox.Failed)
}
