package order

import (
	"context"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laundry-tracking/internal/metrics"
)

type ReadyNotification struct {
	Token        string
	OwnerID      string
	CustomerName string
	Contact      string
	ReadyAt      time.Time
}

// Notifier delivers the "ready for pickup" side effect. Delivery channels
// (push, SMS) live outside this module.
type Notifier interface {
	NotifyReady(ctx context.Context, n ReadyNotification) error
}

// LogNotifier only records the notification.
type LogNotifier struct{}

func (LogNotifier) NotifyReady(_ context.Context, n ReadyNotification) error {
	log.Info().Str("token", n.Token).Str("owner_id", n.OwnerID).Time("ready_at", n.ReadyAt).Msg("notifier: order ready for pickup")
	return nil
}

// AsyncNotifier hands notifications to a bounded worker pool so status
// changes never wait on delivery.
type AsyncNotifier struct {
	pool    *workerpool.WorkerPool
	next    Notifier
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewAsyncNotifier(workers int, next Notifier, timeout time.Duration, m *metrics.Metrics) *AsyncNotifier {
	if workers < 1 {
		workers = 1
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &AsyncNotifier{
		pool:    workerpool.New(workers),
		next:    next,
		timeout: timeout,
		metrics: m,
	}
}

func (a *AsyncNotifier) NotifyReady(_ context.Context, n ReadyNotification) error {
	a.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.next.NotifyReady(ctx, n); err != nil {
			a.metrics.Notifications.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("token", n.Token).Msg("notifier: failed to deliver ready notification")
			return
		}
		a.metrics.Notifications.WithLabelValues("sent").Inc()
	})
	return nil
}

// Stop waits for queued notifications to finish.
func (a *AsyncNotifier) Stop() {
	a.pool.StopWait()
}
