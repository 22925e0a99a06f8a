package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ticket-engine/internal/store"
	"ticket-engine/models"
)

var (
	purchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_purchases_total",
			Help: "Purchase attempts by result",
		},
		[]string{"result"},
	)

	callbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Payment callbacks by outcome",
		},
		[]string{"outcome"},
	)

	fulfillments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_fulfillments_total",
			Help: "Fulfillment handler runs by payable kind and result",
		},
		[]string{"kind", "result"},
	)

	releasedReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_released_total",
			Help: "Reservations cancelled and returned to inventory",
		},
		[]string{"reason"},
	)

	outboxDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dispatches_total",
			Help: "Outbox delivery attempts by message kind and result",
		},
		[]string{"kind", "result"},
	)

	outboxPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_messages",
			Help: "Outbox messages by state",
		},
		[]string{"state"},
	)

	ticketsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tickets",
			Help: "Tickets by lifecycle status",
		},
		[]string{"status"},
	)

	artifactQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifact_queue_length",
			Help: "Artifact jobs waiting in the worker queue",
		},
	)

	gatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_push_duration_seconds",
			Help:    "Duration of payment gateway push calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider", "result"},
	)
)

func TrackPurchase(result string) {
	purchases.WithLabelValues(result).Inc()
}

func TrackCallback(outcome string) {
	callbacks.WithLabelValues(outcome).Inc()
}

func TrackFulfillment(kind, result string) {
	fulfillments.WithLabelValues(kind, result).Inc()
}

func TrackReleased(reason string, n int) {
	if n > 0 {
		releasedReservations.WithLabelValues(reason).Add(float64(n))
	}
}

func TrackOutboxDispatch(kind, result string) {
	outboxDispatches.WithLabelValues(kind, result).Inc()
}

func ObserveGatewayPush(provider, result string, d time.Duration) {
	gatewayLatency.WithLabelValues(provider, result).Observe(d.Seconds())
}

// QueueDepth reports how many jobs wait in a worker queue.
type QueueDepth interface {
	Len(ctx context.Context) (int64, error)
}

// Monitor samples gauges that have no natural event to update them.
type Monitor struct {
	store    *store.Store
	queue    QueueDepth
	interval time.Duration
	logger   *zap.Logger
}

func NewMonitor(st *store.Store, queue QueueDepth, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:    st,
		queue:    queue,
		interval: 30 * time.Second,
		logger:   logger,
	}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) Collect(ctx context.Context) {
	if stats, err := m.store.OutboxStats(); err != nil {
		m.logger.Warn("collect outbox stats", zap.Error(err))
	} else {
		outboxPending.WithLabelValues("pending").Set(float64(stats.Pending))
		outboxPending.WithLabelValues("dispatched").Set(float64(stats.Dispatched))
		outboxPending.WithLabelValues("failed").Set(float64(stats.Failed))
	}

	for _, st := range []models.TicketStatus{models.TicketReserved, models.TicketValid, models.TicketCancelled} {
		n, err := m.store.CountTicketsByStatus(st)
		if err != nil {
			m.logger.Warn("collect ticket counts", zap.String("status", string(st)), zap.Error(err))
			continue
		}
		ticketsByStatus.WithLabelValues(string(st)).Set(float64(n))
	}

	if m.queue == nil {
		return
	}
	length, err := m.queue.Len(ctx)
	if err != nil {
		m.logger.Warn("collect artifact queue length", zap.Error(err))
		return
	}
	artifactQueueLength.Set(float64(length))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
