// Package outbox queues writes made while the server is unreachable and
// replays them, in order, once it is back.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/laundry-tracking/internal/client"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
)

type Kind string

const (
	KindCreateOrder  Kind = "create_order"
	KindUpdateStatus Kind = "update_status"
	KindSetPriority  Kind = "set_priority"
)

var (
	ErrParked      = errors.New("outbox: entry parked after exhausting retries")
	ErrUnknownKind = errors.New("outbox: unknown entry kind")
)

// Store is the durable side of the queue. *localstore.Store implements it.
type Store interface {
	InsertOutbox(ctx context.Context, e localstore.OutboxEntry) (int64, error)
	ListOutbox(ctx context.Context) ([]localstore.OutboxEntry, error)
	GetOutbox(ctx context.Context, localID string) (*localstore.OutboxEntry, error)
	DeleteOutbox(ctx context.Context, localID string) error
	RecordFailure(ctx context.Context, localID, lastError string, at time.Time, maxAttempts int, park bool) (int, bool, error)
	ResetFailure(ctx context.Context, localID string) error
}

// Sender delivers one entry to the server.
type Sender interface {
	Send(ctx context.Context, e localstore.OutboxEntry) error
}

type Config struct {
	MaxAttempts  int
	EntryTimeout time.Duration
}

// Report summarises one drain pass.
type Report struct {
	Delivered []string
	// Pending counts entries left for a later pass, including ones held back
	// behind an earlier failed entry for the same token.
	Pending int
	// Exhausted lists entries parked during this pass.
	Exhausted []localstore.OutboxEntry
	// Skipped counts entries that were already parked.
	Skipped int
}

func (r Report) Clean() bool {
	return r.Pending == 0
}

// Err wraps ErrParked when the pass parked anything.
func (r Report) Err() error {
	if len(r.Exhausted) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Exhausted))
	for _, e := range r.Exhausted {
		ids = append(ids, e.LocalID)
	}
	return fmt.Errorf("%w: %s", ErrParked, strings.Join(ids, ", "))
}

type Outbox struct {
	store  Store
	sender Sender
	cfg    Config
	now    func() time.Time

	// one drain at a time per process
	mu sync.Mutex
}

func New(store Store, sender Sender, cfg Config) *Outbox {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.EntryTimeout <= 0 {
		cfg.EntryTimeout = 10 * time.Second
	}
	return &Outbox{store: store, sender: sender, cfg: cfg, now: time.Now}
}

// NewLocalID returns a fresh entry id. A write tried online first should send
// it as the idempotency key and, on failure, be enqueued under the same id.
func NewLocalID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("outbox: generate local id: %w", err)
	}
	return id.String(), nil
}

// Enqueue persists a write for later delivery and returns its local id.
func (o *Outbox) Enqueue(ctx context.Context, kind Kind, token string, payload interface{}) (string, error) {
	id, err := NewLocalID()
	if err != nil {
		return "", err
	}
	if err := o.EnqueueWithID(ctx, id, kind, token, payload); err != nil {
		return "", err
	}
	return id, nil
}

func (o *Outbox) EnqueueWithID(ctx context.Context, localID string, kind Kind, token string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: encode %s payload: %w", kind, err)
	}

	entry := localstore.OutboxEntry{
		LocalID:   localID,
		Kind:      string(kind),
		Token:     token,
		Payload:   raw,
		CreatedAt: o.now().UTC(),
	}
	if _, err := o.store.InsertOutbox(ctx, entry); err != nil {
		return fmt.Errorf("outbox: enqueue %s for %s: %w", kind, token, err)
	}

	log.Info().Str("local_id", localID).Str("kind", entry.Kind).Str("token", token).Msg("outbox: write queued")
	return nil
}

func (o *Outbox) List(ctx context.Context) ([]localstore.OutboxEntry, error) {
	entries, err := o.store.ListOutbox(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: list: %w", err)
	}
	return entries, nil
}

// DrainAll sends every deliverable entry in insertion order. A failed entry
// does not stop the pass, but later entries for the same token wait for the
// next one.
func (o *Outbox) DrainAll(ctx context.Context) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var report Report
	entries, err := o.store.ListOutbox(ctx)
	if err != nil {
		return report, fmt.Errorf("outbox: list: %w", err)
	}

	blocked := make(map[string]bool)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if e.Parked {
			report.Skipped++
			blocked[e.Token] = true
			continue
		}
		if blocked[e.Token] {
			report.Pending++
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, o.cfg.EntryTimeout)
		sendErr := o.sender.Send(sendCtx, e)
		cancel()

		if sendErr == nil {
			if err := o.store.DeleteOutbox(ctx, e.LocalID); err != nil {
				return report, fmt.Errorf("outbox: remove delivered %s: %w", e.LocalID, err)
			}
			report.Delivered = append(report.Delivered, e.LocalID)
			log.Info().Str("local_id", e.LocalID).Str("kind", e.Kind).Str("token", e.Token).Msg("outbox: entry delivered")
			continue
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		blocked[e.Token] = true
		terminal := !client.IsTransient(sendErr)
		attempts, parked, err := o.store.RecordFailure(ctx, e.LocalID, sendErr.Error(), o.now().UTC(), o.cfg.MaxAttempts, terminal)
		if err != nil {
			return report, fmt.Errorf("outbox: record failure %s: %w", e.LocalID, err)
		}
		e.Attempts, e.Parked, e.LastError = attempts, parked, sendErr.Error()

		if parked {
			report.Exhausted = append(report.Exhausted, e)
			log.Error().Err(sendErr).Str("local_id", e.LocalID).Str("token", e.Token).Int("attempts", attempts).Bool("terminal", terminal).Msg("outbox: entry parked")
			continue
		}
		report.Pending++
		log.Warn().Err(sendErr).Str("local_id", e.LocalID).Str("token", e.Token).Int("attempts", attempts).Msg("outbox: delivery failed, will retry")
	}

	return report, nil
}

// Retry un-parks an entry so the next drain tries it again.
func (o *Outbox) Retry(ctx context.Context, localID string) error {
	if err := o.store.ResetFailure(ctx, localID); err != nil {
		return fmt.Errorf("outbox: retry %s: %w", localID, err)
	}
	log.Info().Str("local_id", localID).Msg("outbox: entry reset for retry")
	return nil
}
