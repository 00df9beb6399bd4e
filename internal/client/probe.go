package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

type HealthChecker interface {
	Health(ctx context.Context) error
}

// Probe polls the server health endpoint and emits a signal every time the
// server becomes reachable after being unreachable. The first successful
// check also counts as coming online.
type Probe struct {
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	online   atomic.Bool
	signals  chan struct{}
}

func NewProbe(checker HealthChecker, interval, timeout time.Duration) *Probe {
	return &Probe{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		signals:  make(chan struct{}, 1),
	}
}

// Signals delivers at most one pending "back online" notification.
func (p *Probe) Signals() <-chan struct{} {
	return p.signals
}

func (p *Probe) Online() bool {
	return p.online.Load()
}

func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Check(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check runs one health check and updates the online state.
func (p *Probe) Check(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.checker.Health(checkCtx)
	if err != nil {
		if p.online.Swap(false) {
			log.Warn().Err(err).Msg("probe: server unreachable, switching to offline mode")
		}
		return false
	}

	if !p.online.Swap(true) {
		log.Info().Msg("probe: server reachable again")
		select {
		case p.signals <- struct{}{}:
		default:
		}
	}
	return true
}
