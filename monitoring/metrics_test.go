package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/pocketbase/tests"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ticket-engine/internal/store"
	"ticket-engine/models"
	adapters "ticket-engine/services"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(purchases.WithLabelValues("sold_out"))
	TrackPurchase("sold_out")
	assert.Equal(t, before+1, testutil.ToFloat64(purchases.WithLabelValues("sold_out")))

	before = testutil.ToFloat64(releasedReservations.WithLabelValues("expired"))
	TrackReleased("expired", 3)
	TrackReleased("expired", 0)
	assert.Equal(t, before+3, testutil.ToFloat64(releasedReservations.WithLabelValues("expired")))

	before = testutil.ToFloat64(outboxDispatches.WithLabelValues("trigger", "ok"))
	TrackOutboxDispatch("trigger", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(outboxDispatches.WithLabelValues("trigger", "ok")))

	ObserveGatewayPush("sandbox", "ok", 120*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(gatewayLatency))
}

func TestMonitor_Collect(t *testing.T) {
	app, err := tests.NewTestApp()
	require.NoError(t, err)
	defer app.Cleanup()
	require.NoError(t, store.EnsureSchema(app))

	st := store.New(app)
	ctx := context.Background()
	_, err = st.EnqueueOutbox(ctx, models.OutboxTrigger, "trigger:ticket_issued:t1", models.Trigger{Name: models.TriggerTicketIssued})
	require.NoError(t, err)

	event := &models.Event{OrganizationID: "org1", Name: "Koroga Festival"}
	require.NoError(t, st.CreateEvent(ctx, event))
	tt := &models.TicketType{OrganizationID: "org1", EventID: event.ID, Name: "Regular", Currency: "KES", Active: true}
	require.NoError(t, st.CreateTicketType(ctx, tt))
	require.NoError(t, st.CreateTicket(ctx, &models.Ticket{
		TicketTypeID:   tt.ID,
		EventID:        event.ID,
		OrganizationID: "org1",
		Code:           models.NewPlaceholderCode(),
		PaymentStatus:  models.PaymentPending,
		Status:         models.TicketReserved,
		PayableType:    models.PayableTicket,
		ReservedAt:     time.Now(),
	}))

	db, mock := redismock.NewClientMock()
	mock.ExpectLLen("jobs:hype_cards").SetVal(4)

	m := NewMonitor(st, adapters.NewArtifactQueue(db, "jobs:hype_cards", nil), zap.NewNop())
	m.Collect(ctx)

	assert.Equal(t, float64(1), testutil.ToFloat64(outboxPending.WithLabelValues("pending")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ticketsByStatus.WithLabelValues("reserved")))
	assert.Equal(t, float64(0), testutil.ToFloat64(ticketsByStatus.WithLabelValues("valid")))
	assert.Equal(t, float64(4), testutil.ToFloat64(artifactQueueLength))
	assert.NoError(t, mock.ExpectationsWereMet())
}
