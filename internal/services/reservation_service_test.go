package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ticket-engine/internal/status"
	"ticket-engine/internal/store"
	"ticket-engine/models"
)

func TestInitiatePurchase_PaidReservesAndPushes(t *testing.T) {
	env := newTestEnv(t)
	tt := env.seedTicketType(t, 1500, intPtr(10), "")

	ticket := env.purchase(t, tt)

	assert.Equal(t, models.TicketReserved, ticket.Status)
	assert.Equal(t, models.PaymentPending, ticket.PaymentStatus)
	assert.True(t, models.IsPlaceholderCode(ticket.Code))
	assert.Equal(t, "ws_CO_TEST_1", ticket.CheckoutRequestID)
	assert.Equal(t, 1, env.sold(t, tt.ID))

	require.Equal(t, 1, env.gateway.pushCount())
	push := env.gateway.pushes[0]
	assert.Equal(t, "254712345678", push.Phone)
	assert.True(t, push.Amount.Equal(tt.Price))
	assert.Equal(t, ticket.ID, push.Reference)

	stored, err := env.store.FindTicketByCorrelationID("ws_CO_TEST_1")
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, stored.ID)
	assert.NotEmpty(t, stored.ContactID)
}

func TestInitiatePurchase_FreeTicketIsIssuedWithoutGateway(t *testing.T) {
	env := newTestEnv(t)
	tt := env.seedTicketType(t, 0, intPtr(5), "")

	ticket := env.purchase(t, tt)

	assert.Equal(t, models.TicketValid, ticket.Status)
	assert.Equal(t, models.PaymentCompleted, ticket.PaymentStatus)
	assert.NotEmpty(t, ticket.IssuedCode())
	assert.NotEmpty(t, ticket.QRCodeURL)
	assert.Zero(t, env.gateway.pushCount())
	assert.Equal(t, 1, env.sold(t, tt.ID))

	msg, err := env.store.FindOutboxByDedupKey(models.TriggerDedupKey(models.TriggerTicketIssued, ticket.ID))
	require.NoError(t, err)
	assert.Equal(t, models.OutboxTrigger, msg.Kind)
}

func TestInitiatePurchase_InvalidTicketType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tt := env.seedTicketType(t, 100, nil, "")

	inactive := &models.TicketType{OrganizationID: testOrg, EventID: tt.EventID, Name: "Early bird", Currency: "KES", Active: false}
	require.NoError(t, env.store.CreateTicketType(ctx, inactive))

	cases := []struct {
		name string
		req  PurchaseRequest
	}{
		{"missing", PurchaseRequest{OrganizationID: testOrg, TicketTypeID: "doesnotexist123", Phone: "0712345678"}},
		{"other organization", PurchaseRequest{OrganizationID: "org2", TicketTypeID: tt.ID, Phone: "0712345678"}},
		{"inactive", PurchaseRequest{OrganizationID: testOrg, TicketTypeID: inactive.ID, Phone: "0712345678"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.reservation.InitiatePurchase(ctx, tc.req)
			assert.ErrorIs(t, err, status.ErrInvalidTicketType)
		})
	}
	assert.Zero(t, env.sold(t, tt.ID))
	assert.Zero(t, env.gateway.pushCount())
}

func TestInitiatePurchase_InvalidPhone(t *testing.T) {
	env := newTestEnv(t)
	tt := env.seedTicketType(t, 100, nil, "")

	_, err := env.reservation.InitiatePurchase(context.Background(), PurchaseRequest{
		OrganizationID: testOrg, TicketTypeID: tt.ID, Phone: "12",
	})
	assert.ErrorIs(t, err, status.ErrInvalidPhone)
}

func TestInitiatePurchase_SoldOut(t *testing.T) {
	env := newTestEnv(t)
	tt := env.seedTicketType(t, 100, intPtr(1), "")

	env.purchase(t, tt)
	_, err := env.reservation.InitiatePurchase(context.Background(), PurchaseRequest{
		OrganizationID: testOrg, TicketTypeID: tt.ID, Phone: "0722000000",
	})

	assert.ErrorIs(t, err, status.ErrSoldOut)
	assert.Equal(t, 1, env.sold(t, tt.ID))
	assert.Equal(t, 1, env.gateway.pushCount())
}

func TestInitiatePurchase_GatewayFailureReleasesReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tt := env.seedTicketType(t, 100, intPtr(3), "")
	env.gateway.err = errors.New("connection refused")
	req := PurchaseRequest{OrganizationID: testOrg, TicketTypeID: tt.ID, Phone: "0712345678", IdempotencyKey: "order-5"}

	_, err := env.reservation.InitiatePurchase(ctx, req)
	assert.ErrorIs(t, err, status.ErrGatewayUnavailable)
	assert.Zero(t, env.sold(t, tt.ID))

	records, err := env.store.App().FindAllRecords(store.CollectionTickets)
	require.NoError(t, err)
	require.Len(t, records, 1)
	abandoned := records[0]
	assert.Equal(t, string(models.TicketCancelled), abandoned.GetString("status"))
	assert.Equal(t, string(models.PaymentFailed), abandoned.GetString("payment_status"))
	assert.Empty(t, abandoned.GetString("checkout_request_id"))

	// Nothing is left for the sweeper to give back.
	stats, err := NewExpirySweeper(env.store, time.Nanosecond, time.Minute, zap.NewNop()).Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Released)
	assert.Zero(t, env.sold(t, tt.ID))

	// The same key can be retried once the gateway is back.
	env.gateway.err = nil
	ticket, err := env.reservation.InitiatePurchase(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, abandoned.Id, ticket.ID)
	assert.Equal(t, models.TicketReserved, ticket.Status)
	assert.Equal(t, "ws_CO_TEST_1", ticket.CheckoutRequestID)
	assert.Equal(t, 1, env.sold(t, tt.ID))
}

func TestInitiatePurchase_GatewayCallHoldsNoLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paidType := env.seedTicketType(t, 1500, intPtr(10), "")
	freeType := env.seedTicketType(t, 0, intPtr(10), "")
	pending := env.purchase(t, paidType)

	env.gateway.entered = make(chan struct{}, 1)
	env.gateway.hold = make(chan struct{})
	release := sync.OnceFunc(func() { close(env.gateway.hold) })
	t.Cleanup(release)

	slow := make(chan error, 1)
	go func() {
		_, err := env.reservation.InitiatePurchase(ctx, PurchaseRequest{
			OrganizationID: testOrg, TicketTypeID: paidType.ID, Phone: "0722000000",
		})
		slow <- err
	}()
	select {
	case <-env.gateway.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("gateway was never called")
	}

	// While that push is outstanding, other writers go through.
	waitFor := func(name string, fn func() error) {
		t.Helper()
		done := make(chan error, 1)
		go func() { done <- fn() }()
		select {
		case err := <-done:
			require.NoError(t, err, name)
		case <-time.After(5 * time.Second):
			t.Fatalf("%s waited for the gateway call", name)
		}
	}
	waitFor("purchase of another ticket type", func() error {
		_, err := env.reservation.InitiatePurchase(ctx, PurchaseRequest{
			OrganizationID: testOrg, TicketTypeID: freeType.ID, Phone: "0733000000",
		})
		return err
	})
	waitFor("payment callback", func() error {
		return env.callbacks.HandleCallback(ctx, successCallback(pending.CheckoutRequestID, "QWE123"))
	})
	waitFor("sweep", func() error {
		_, err := NewExpirySweeper(env.store, 0, 0, zap.NewNop()).Sweep(ctx)
		return err
	})

	select {
	case err := <-slow:
		t.Fatalf("purchase finished before its gateway call returned: %v", err)
	default:
	}

	release()
	require.NoError(t, <-slow)
	assert.Equal(t, 2, env.sold(t, paidType.ID))
	assert.Equal(t, 1, env.sold(t, freeType.ID))

	issued, err := env.store.FindTicket(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketValid, issued.Status)
}

func TestInitiatePurchase_ConcurrentLastUnit(t *testing.T) {
	env := newTestEnv(t)
	tt := env.seedTicketType(t, 100, intPtr(1), "")

	phones := []string{"0711111111", "0722222222"}
	errs := make([]error, len(phones))
	tickets := make([]*models.Ticket, len(phones))

	var wg sync.WaitGroup
	for i, phone := range phones {
		wg.Add(1)
		go func(i int, phone string) {
			defer wg.Done()
			tickets[i], errs[i] = env.reservation.InitiatePurchase(context.Background(), PurchaseRequest{
				OrganizationID: testOrg, TicketTypeID: tt.ID, Phone: phone,
			})
		}(i, phone)
	}
	wg.Wait()

	var reserved, soldOut int
	for i, err := range errs {
		switch {
		case err == nil:
			reserved++
			assert.Equal(t, models.TicketReserved, tickets[i].Status)
			assert.Equal(t, models.PaymentPending, tickets[i].PaymentStatus)
		case errors.Is(err, status.ErrSoldOut):
			soldOut++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, reserved)
	assert.Equal(t, 1, soldOut)
	assert.Equal(t, 1, env.sold(t, tt.ID))
}

func TestInitiatePurchase_ConcurrentNeverOversells(t *testing.T) {
	env := newTestEnv(t)
	tt := env.seedTicketType(t, 100, intPtr(3), "")

	const buyers = 8
	results := make(chan error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.reservation.InitiatePurchase(context.Background(), PurchaseRequest{
				OrganizationID: testOrg, TicketTypeID: tt.ID, Phone: "0733000000",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, soldOut int
	for err := range results {
		if err == nil {
			ok++
		} else if errors.Is(err, status.ErrSoldOut) {
			soldOut++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, buyers-3, soldOut)
	assert.Equal(t, 3, env.sold(t, tt.ID))
}

func TestInitiatePurchase_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	tt := env.seedTicketType(t, 100, intPtr(5), "")
	req := PurchaseRequest{OrganizationID: testOrg, TicketTypeID: tt.ID, Phone: "0712345678", IdempotencyKey: "order-77"}

	first, err := env.reservation.InitiatePurchase(context.Background(), req)
	require.NoError(t, err)
	second, err := env.reservation.InitiatePurchase(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, env.sold(t, tt.ID))
	assert.Equal(t, 1, env.gateway.pushCount())
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	paid := env.purchase(t, env.seedTicketType(t, 100, nil, ""))
	view, err := env.reservation.GetStatus(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, view.PaymentStatus)
	assert.Equal(t, models.TicketReserved, view.Status)
	assert.Empty(t, view.Code)
	assert.Empty(t, view.ArtifactURL)

	free := env.purchase(t, env.seedTicketType(t, 0, nil, ""))
	view, err = env.reservation.GetStatus(ctx, free.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketValid, view.Status)
	assert.Equal(t, free.Code, view.Code)
	assert.Equal(t, ArtifactURL("", free.Code), view.ArtifactURL)

	_, err = env.reservation.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
}
