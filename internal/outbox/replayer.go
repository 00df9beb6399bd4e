package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
)

type Drainer interface {
	DrainAll(ctx context.Context) (Report, error)
}

// Replayer drains the outbox whenever connectivity returns and on a periodic
// wake-up that backs off while deliveries keep failing.
type Replayer struct {
	drainer     Drainer
	signals     <-chan struct{}
	interval    time.Duration
	maxBackoff  time.Duration
	onExhausted func([]localstore.OutboxEntry)

	group singleflight.Group
}

// NewReplayer wires a drainer to an online signal channel. signals may be nil
// when only periodic wake-ups are wanted. onExhausted, if set, receives the
// entries parked by each pass.
func NewReplayer(d Drainer, signals <-chan struct{}, interval, maxBackoff time.Duration, onExhausted func([]localstore.OutboxEntry)) *Replayer {
	if maxBackoff < interval {
		maxBackoff = interval
	}
	return &Replayer{
		drainer:     d,
		signals:     signals,
		interval:    interval,
		maxBackoff:  maxBackoff,
		onExhausted: onExhausted,
	}
}

// Trigger drains now. Calls that overlap an in-flight drain share its result.
func (r *Replayer) Trigger(ctx context.Context) (Report, error) {
	v, err, shared := r.group.Do("drain", func() (interface{}, error) {
		report, err := r.drainer.DrainAll(ctx)
		if len(report.Exhausted) > 0 && r.onExhausted != nil {
			r.onExhausted(report.Exhausted)
		}
		return report, err
	})
	report, _ := v.(Report)
	if shared {
		log.Debug().Msg("replayer: joined in-flight drain")
	}
	return report, err
}

func (r *Replayer) Run(ctx context.Context) {
	wait := r.interval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.signals:
			log.Info().Msg("replayer: back online, draining outbox")
		case <-timer.C:
		}

		report, err := r.Trigger(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("replayer: drain failed")
		} else if len(report.Delivered) > 0 || report.Pending > 0 {
			log.Info().Int("delivered", len(report.Delivered)).Int("pending", report.Pending).Int("parked", len(report.Exhausted)).Msg("replayer: drain finished")
		}

		wait = nextDelay(wait, r.interval, r.maxBackoff, report, err)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
	}
}

// nextDelay doubles the wake-up interval after a pass that left work behind,
// up to limit, and returns to base after a clean one.
func nextDelay(current, base, limit time.Duration, report Report, err error) time.Duration {
	if err == nil && report.Clean() {
		return base
	}
	if errors.Is(err, context.Canceled) {
		return current
	}
	next := current * 2
	if next > limit {
		next = limit
	}
	return next
}
