// Package customer is the customer-facing side of the client: placing an
// order, online or not, and looking up its progress.
package customer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/laundry-tracking/internal/cache"
	"github.com/vasiliy-maslov/laundry-tracking/internal/client"
	orderHttp "github.com/vasiliy-maslov/laundry-tracking/internal/handler/http"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
	"github.com/vasiliy-maslov/laundry-tracking/internal/outbox"
)

type API interface {
	CreateOrder(ctx context.Context, req orderHttp.CreateOrderRequest) (*order.Order, bool, error)
	Fetch(ctx context.Context, path string) ([]byte, error)
}

type Queue interface {
	EnqueueWithID(ctx context.Context, localID string, kind outbox.Kind, token string, payload interface{}) error
	List(ctx context.Context) ([]localstore.OutboxEntry, error)
}

type Fetcher interface {
	Get(ctx context.Context, key string, fetch cache.FetchFunc) (*cache.Response, error)
}

type Receipt struct {
	Token string
	// Queued is set when the server could not be reached and the order waits
	// in the outbox under LocalID.
	Queued  bool
	LocalID string
	Order   *order.Order
	// Existing is set when the server already had this token.
	Existing bool
}

type StatusView struct {
	Token     string
	Status    order.Status
	Progress  int
	Entries   []order.TimelineEntry
	FromCache bool
	StoredAt  time.Time
	// Queued is set when the order has not reached the server yet.
	Queued bool
}

type Service struct {
	api      API
	queue    Queue
	fetcher  Fetcher
	validate *validator.Validate
	prefix   string
	timeout  time.Duration
	now      func() time.Time
}

func New(api API, queue Queue, fetcher Fetcher, tokenPrefix string, timeout time.Duration) *Service {
	if tokenPrefix == "" {
		tokenPrefix = order.DefaultTokenPrefix
	}
	return &Service{
		api:      api,
		queue:    queue,
		fetcher:  fetcher,
		validate: validator.New(),
		prefix:   tokenPrefix,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Submit places an order. The token is generated here so a queued order keeps
// its identity when replayed.
func (s *Service) Submit(ctx context.Context, req orderHttp.CreateOrderRequest) (*Receipt, error) {
	now := s.now().UTC()
	if req.Token == "" {
		req.Token = order.NewToken(s.prefix, now)
	}
	if err := order.ValidateToken(req.Token); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", order.ErrValidation, err)
	}
	if req.SubmittedAt == nil {
		req.SubmittedAt = &now
	}

	localID, err := outbox.NewLocalID()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := s.withTimeout(ctx)
	created, isNew, callErr := s.api.CreateOrder(callCtx, req)
	cancel()

	if callErr == nil {
		log.Info().Str("token", req.Token).Bool("created", isNew).Msg("customer: order submitted")
		return &Receipt{Token: req.Token, Order: created, Existing: !isNew}, nil
	}
	if !client.IsTransient(callErr) {
		return nil, fmt.Errorf("customer: submit %s: %w", req.Token, callErr)
	}

	if err := s.queue.EnqueueWithID(ctx, localID, outbox.KindCreateOrder, req.Token, req); err != nil {
		return nil, fmt.Errorf("customer: queue %s: %w", req.Token, err)
	}
	log.Warn().Err(callErr).Str("token", req.Token).Str("local_id", localID).Msg("customer: server unreachable, order queued")
	return &Receipt{Token: req.Token, Queued: true, LocalID: localID}, nil
}

// Status returns the order's timeline, network-first. An order still waiting
// in the outbox is reported as queued.
func (s *Service) Status(ctx context.Context, token string) (*StatusView, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if err := order.ValidateToken(token); err != nil {
		return nil, err
	}

	path := "/orders/" + url.PathEscape(token) + "/timeline"
	resp, err := s.fetcher.Get(ctx, path, func(ctx context.Context) ([]byte, error) {
		return s.api.Fetch(ctx, path)
	})
	if err != nil {
		if !client.IsNotFound(err) && !client.IsTransient(err) {
			return nil, fmt.Errorf("customer: status %s: %w", token, err)
		}
		queued, qErr := s.queuedCreate(ctx, token)
		if qErr != nil {
			return nil, qErr
		}
		if queued {
			return &StatusView{Token: token, Status: order.StatusReceived, Progress: order.ProgressPercent(order.StatusReceived), Queued: true}, nil
		}
		if client.IsNotFound(err) {
			return nil, fmt.Errorf("customer: %w: %s", order.ErrOrderNotFound, token)
		}
		return nil, fmt.Errorf("customer: status %s: %w", token, err)
	}

	var timeline orderHttp.TimelineResponse
	if err := json.Unmarshal(resp.Body, &timeline); err != nil {
		return nil, fmt.Errorf("customer: decode timeline %s: %w", token, err)
	}
	return &StatusView{
		Token:     timeline.Token,
		Status:    timeline.Status,
		Progress:  timeline.Progress,
		Entries:   timeline.Entries,
		FromCache: resp.FromCache,
		StoredAt:  resp.StoredAt,
	}, nil
}

func (s *Service) queuedCreate(ctx context.Context, token string) (bool, error) {
	entries, err := s.queue.List(ctx)
	if err != nil {
		return false, fmt.Errorf("customer: read outbox: %w", err)
	}
	for _, e := range entries {
		if e.Token == token && outbox.Kind(e.Kind) == outbox.KindCreateOrder {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
