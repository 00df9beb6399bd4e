package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/laundry-tracking/internal/cache"
	"github.com/vasiliy-maslov/laundry-tracking/internal/client"
	orderHttp "github.com/vasiliy-maslov/laundry-tracking/internal/handler/http"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
	"github.com/vasiliy-maslov/laundry-tracking/internal/outbox"
)

const ordersPath = "/orders"

type OverrideStore interface {
	Overrides(ctx context.Context) (map[string]localstore.Override, error)
	PutOverride(ctx context.Context, o localstore.Override) error
	DeleteOverride(ctx context.Context, token string) error
}

type API interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
	UpdateStatus(ctx context.Context, token string, req orderHttp.UpdateStatusRequest, idempotencyKey string) (*orderHttp.TimelineResponse, error)
	SetPriority(ctx context.Context, token string, priority order.Priority) (*order.Order, error)
}

type Queue interface {
	EnqueueWithID(ctx context.Context, localID string, kind outbox.Kind, token string, payload interface{}) error
}

type Fetcher interface {
	Get(ctx context.Context, key string, fetch cache.FetchFunc) (*cache.Response, error)
}

// Outcome says where a staff edit ended up.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeQueued    Outcome = "queued"
	OutcomeUnchanged Outcome = "unchanged"
)

// Row is one display line.
type Row struct {
	order.Order
	// Pending marks records showing a local edit the server has not accepted.
	Pending  bool
	Selected bool
}

type RefreshResult struct {
	NewlyReady []string
	FromCache  bool
	StoredAt   time.Time
	Pruned     int
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session owns all dashboard state: the last snapshot, the filter, the
// selection and the set of orders already seen as ready. Local edits live in
// the override store so they survive restarts.
type Session struct {
	overrides OverrideStore
	api       API
	queue     Queue
	fetcher   Fetcher
	now       func() time.Time

	mu        sync.Mutex
	snapshot  []order.Order
	filter    Filter
	selected  map[string]bool
	readySeen map[string]bool
	primed    bool
}

func NewSession(overrides OverrideStore, api API, queue Queue, fetcher Fetcher, opts ...Option) *Session {
	s := &Session{
		overrides: overrides,
		api:       api,
		queue:     queue,
		fetcher:   fetcher,
		now:       time.Now,
		selected:  make(map[string]bool),
		readySeen: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) SetFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

func (s *Session) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

func (s *Session) Select(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		s.selected[t] = true
	}
}

func (s *Session) Deselect(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		delete(s.selected, t)
	}
}

func (s *Session) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := make([]string, 0, len(s.selected))
	for t := range s.selected {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Refresh loads the server snapshot, network-first. A network snapshot drops
// every override the server has confirmed, along with queued ones it already
// reflects. The first refresh only records which orders
// are ready; later ones report orders that became ready since.
func (s *Session) Refresh(ctx context.Context) (*RefreshResult, error) {
	started := s.now()
	resp, err := s.fetcher.Get(ctx, ordersPath, func(ctx context.Context) ([]byte, error) {
		return s.api.Fetch(ctx, ordersPath)
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard: fetch orders: %w", err)
	}

	var payload []orderHttp.OrderResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("dashboard: decode orders: %w", err)
	}
	snapshot := client.DecodeOrders(payload)

	result := &RefreshResult{FromCache: resp.FromCache, StoredAt: resp.StoredAt}
	if !resp.FromCache {
		result.Pruned, err = s.prune(ctx, snapshot, started)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot

	ready := make(map[string]bool)
	for _, o := range snapshot {
		if o.Status == order.StatusReady {
			ready[o.Token] = true
			if s.primed && !s.readySeen[o.Token] {
				result.NewlyReady = append(result.NewlyReady, o.Token)
			}
		}
	}
	sort.Strings(result.NewlyReady)
	s.readySeen = ready
	s.primed = true

	return result, nil
}

// prune drops overrides a network snapshot taken at fetchedAt settles.
// Confirmed overrides are settled once the snapshot postdates their edit,
// even if the server has moved on since. Queued ones wait until the snapshot
// shows every field they set.
func (s *Session) prune(ctx context.Context, snapshot []order.Order, fetchedAt time.Time) (int, error) {
	overrides, err := s.overrides.Overrides(ctx)
	if err != nil {
		return 0, fmt.Errorf("dashboard: load overrides: %w", err)
	}

	byToken := make(map[string]order.Order, len(snapshot))
	for _, o := range snapshot {
		byToken[o.Token] = o
	}

	pruned := 0
	for token, ov := range overrides {
		o, inSnapshot := byToken[token]
		settled := ov.Confirmed && !ov.UpdatedAt.After(fetchedAt)
		if !settled && !(inSnapshot && reflects(o, ov)) {
			continue
		}
		if err := s.overrides.DeleteOverride(ctx, token); err != nil {
			return pruned, fmt.Errorf("dashboard: drop override %s: %w", token, err)
		}
		pruned++
	}
	if pruned > 0 {
		log.Debug().Int("pruned", pruned).Msg("dashboard: overrides reconciled with server")
	}
	return pruned, nil
}

// View merges the last snapshot with the current overrides and applies the
// session filter.
func (s *Session) View(ctx context.Context) ([]Row, error) {
	overrides, err := s.overrides.Overrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard: load overrides: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := Apply(Merge(s.snapshot, overrides), s.filter, s.now())
	rows := make([]Row, 0, len(records))
	for _, o := range records {
		ov, ok := overrides[o.Token]
		rows = append(rows, Row{
			Order:    o,
			Pending:  ok && !ov.Confirmed,
			Selected: s.selected[o.Token],
		})
	}
	return rows, nil
}

// SetStatus records the change locally, then sends it. A transient failure
// queues it for replay; any other failure rolls the local edit back.
func (s *Session) SetStatus(ctx context.Context, token string, status order.Status, note string, eta *time.Time) (Outcome, error) {
	if !order.IsValid(status) {
		return "", fmt.Errorf("%w: %q", order.ErrInvalidStatus, status)
	}

	if eta != nil {
		// timestamptz keeps microseconds
		e := eta.UTC().Truncate(time.Microsecond)
		eta = &e
	}

	prev, err := s.edit(ctx, token, func(ov *localstore.Override) {
		ov.Status = &status
		if eta != nil {
			ov.EstimatedDelivery = eta
		}
	})
	if err != nil {
		return "", err
	}

	req := orderHttp.UpdateStatusRequest{Status: string(status), EstimatedDelivery: eta, Note: note}
	return s.send(ctx, token, prev, outbox.KindUpdateStatus, req, func(ctx context.Context, key string) error {
		_, err := s.api.UpdateStatus(ctx, token, req, key)
		return err
	})
}

// AdvanceStatus moves the order one stage on from what the dashboard shows.
// At the last stage nothing is sent.
func (s *Session) AdvanceStatus(ctx context.Context, token, note string) (Outcome, order.Status, error) {
	current, err := s.current(ctx, token)
	if err != nil {
		return "", "", err
	}
	next, err := order.Advance(current.Status)
	if err != nil {
		return "", "", err
	}
	if next == current.Status {
		return OutcomeUnchanged, next, nil
	}
	outcome, err := s.SetStatus(ctx, token, next, note, nil)
	return outcome, next, err
}

func (s *Session) SetPriority(ctx context.Context, token string, priority order.Priority) (Outcome, error) {
	prev, err := s.edit(ctx, token, func(ov *localstore.Override) {
		ov.Priority = &priority
	})
	if err != nil {
		return "", err
	}

	req := orderHttp.PriorityRequest{Priority: string(priority)}
	return s.send(ctx, token, prev, outbox.KindSetPriority, req, func(ctx context.Context, _ string) error {
		_, err := s.api.SetPriority(ctx, token, priority)
		return err
	})
}

// TogglePriority cycles normal, express, urgent.
func (s *Session) TogglePriority(ctx context.Context, token string) (Outcome, order.Priority, error) {
	current, err := s.current(ctx, token)
	if err != nil {
		return "", "", err
	}
	next := nextPriority(current.Priority)
	outcome, err := s.SetPriority(ctx, token, next)
	return outcome, next, err
}

// Discard drops the local edit for token, e.g. after its queued write was
// parked.
func (s *Session) Discard(ctx context.Context, token string) error {
	if err := s.overrides.DeleteOverride(ctx, token); err != nil {
		return fmt.Errorf("dashboard: discard override %s: %w", token, err)
	}
	return nil
}

func nextPriority(p order.Priority) order.Priority {
	switch p {
	case order.PriorityUrgent:
		return order.PriorityNormal
	case order.PriorityExpress:
		return order.PriorityUrgent
	default:
		return order.PriorityExpress
	}
}

// current returns the merged record for token.
func (s *Session) current(ctx context.Context, token string) (*order.Order, error) {
	overrides, err := s.overrides.Overrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard: load overrides: %w", err)
	}

	s.mu.Lock()
	merged := Merge(s.snapshot, overrides)
	s.mu.Unlock()

	for i := range merged {
		if merged[i].Token == token {
			return &merged[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", order.ErrOrderNotFound, token)
}

// edit applies change to the override for token and stores it unconfirmed.
// It returns the previous override, nil if there was none.
func (s *Session) edit(ctx context.Context, token string, change func(*localstore.Override)) (*localstore.Override, error) {
	overrides, err := s.overrides.Overrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard: load overrides: %w", err)
	}

	var prev *localstore.Override
	ov := localstore.Override{Token: token}
	if existing, ok := overrides[token]; ok {
		p := existing
		prev = &p
		ov = existing
	}
	change(&ov)
	ov.Confirmed = false
	ov.UpdatedAt = s.now().UTC()

	if err := s.overrides.PutOverride(ctx, ov); err != nil {
		return nil, fmt.Errorf("dashboard: save override %s: %w", token, err)
	}
	return prev, nil
}

func (s *Session) send(ctx context.Context, token string, prev *localstore.Override, kind outbox.Kind, payload interface{}, call func(ctx context.Context, key string) error) (Outcome, error) {
	key, err := outbox.NewLocalID()
	if err != nil {
		return "", err
	}

	callErr := call(ctx, key)
	if callErr == nil {
		if err := s.confirm(ctx, token); err != nil {
			log.Warn().Err(err).Str("token", token).Msg("dashboard: failed to mark override confirmed")
		}
		return OutcomeApplied, nil
	}

	if client.IsTransient(callErr) {
		if err := s.queue.EnqueueWithID(ctx, key, kind, token, payload); err != nil {
			return "", fmt.Errorf("dashboard: queue %s for %s: %w", kind, token, err)
		}
		log.Warn().Err(callErr).Str("token", token).Str("local_id", key).Msg("dashboard: server unreachable, change queued")
		return OutcomeQueued, nil
	}

	if err := s.rollback(ctx, token, prev); err != nil {
		log.Error().Err(err).Str("token", token).Msg("dashboard: failed to roll back override")
	}
	return "", fmt.Errorf("dashboard: %s rejected for %s: %w", kind, token, callErr)
}

func (s *Session) confirm(ctx context.Context, token string) error {
	overrides, err := s.overrides.Overrides(ctx)
	if err != nil {
		return err
	}
	ov, ok := overrides[token]
	if !ok {
		return nil
	}
	ov.Confirmed = true
	return s.overrides.PutOverride(ctx, ov)
}

func (s *Session) rollback(ctx context.Context, token string, prev *localstore.Override) error {
	if prev == nil {
		return s.overrides.DeleteOverride(ctx, token)
	}
	return s.overrides.PutOverride(ctx, *prev)
}

// IsRejected reports whether err came back from the server as a definitive
// refusal rather than a connectivity problem.
func IsRejected(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && !client.IsTransient(err)
}
