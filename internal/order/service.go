package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moby/locker"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laundry-tracking/internal/metrics"
)

type Service interface {
	CreateOrder(ctx context.Context, input *Order) (order *Order, created bool, err error)
	GetOrder(ctx context.Context, token string) (*Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
	GetTimeline(ctx context.Context, token string) ([]TimelineEntry, error)
	ApplyStatusChange(ctx context.Context, change StatusChange) ([]TimelineEntry, error)
	Advance(ctx context.Context, token, note, requestID string) ([]TimelineEntry, error)
	SetPriority(ctx context.Context, token string, priority Priority) (*Order, error)
	SubmitFeedback(ctx context.Context, token string, rating int, comment string) (*Order, error)
	Reconcile(ctx context.Context) (int, error)
}

type Option func(*service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

type service struct {
	orders   Repository
	timeline TimelineRepository
	notifier Notifier
	metrics  *metrics.Metrics
	locks    *locker.Locker
	now      func() time.Time
}

func NewService(orders Repository, timeline TimelineRepository, notifier Notifier, m *metrics.Metrics, opts ...Option) Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	s := &service{
		orders:   orders,
		timeline: timeline,
		notifier: notifier,
		metrics:  m,
		locks:    locker.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateOrder(ctx context.Context, input *Order) (*Order, bool, error) {
	now := s.now().UTC()

	if input.Token == "" {
		input.Token = NewToken(DefaultTokenPrefix, now)
	}
	if err := ValidateToken(input.Token); err != nil {
		log.Warn().Err(err).Str("token", input.Token).Msg("service: rejected order with malformed token")
		return nil, false, err
	}
	if len(input.Items) == 0 {
		return nil, false, ErrNoItems
	}
	for _, item := range input.Items {
		if strings.TrimSpace(item.Type) == "" || item.Count <= 0 {
			return nil, false, fmt.Errorf("%w: every item needs a type and a positive count", ErrValidation)
		}
	}
	priority, err := ParsePriority(string(input.Priority))
	if err != nil {
		return nil, false, err
	}

	input.Priority = priority
	input.Status = StatusReceived
	input.Feedback = nil
	if input.SubmittedAt.IsZero() {
		input.SubmittedAt = now
	}
	input.UpdatedAt = now

	seed := &TimelineEntry{
		Token:     input.Token,
		Status:    StatusReceived,
		Timestamp: now,
		Note:      "Order received",
		Kind:      KindSeed,
	}

	created, err := s.orders.Create(ctx, input, seed)
	if err != nil {
		log.Error().Err(err).Str("token", input.Token).Msg("service: failed to create order in repository")
		return nil, false, fmt.Errorf("service: failed to create order: %w", err)
	}

	if !created {
		s.metrics.OrdersCreated.WithLabelValues("duplicate").Inc()
		existing, err := s.orders.GetByToken(ctx, input.Token)
		if err != nil {
			return nil, false, fmt.Errorf("service: failed to load existing order %s: %w", input.Token, err)
		}
		log.Info().Str("token", input.Token).Msg("service: order already exists, returning stored record")
		return existing, false, nil
	}

	s.metrics.OrdersCreated.WithLabelValues("created").Inc()
	log.Info().Str("token", input.Token).Str("owner_id", input.OwnerID).Msg("service: order created")
	return input, true, nil
}

func (s *service) GetOrder(ctx context.Context, token string) (*Order, error) {
	order, err := s.orders.GetByToken(ctx, token)
	if err != nil {
		return nil, s.wrapLookupErr(err, token)
	}

	last, err := s.timeline.Last(ctx, token)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return order, nil
		}
		return nil, fmt.Errorf("service: failed to read latest timeline entry: %w", err)
	}
	if last.Status == order.Status {
		return order, nil
	}

	unlock := s.lock(token)
	defer unlock()
	return s.healLocked(ctx, token, "read")
}

func (s *service) ListOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *service) GetTimeline(ctx context.Context, token string) ([]TimelineEntry, error) {
	if _, err := s.orders.GetByToken(ctx, token); err != nil {
		return nil, s.wrapLookupErr(err, token)
	}
	history, err := s.timeline.History(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("service: failed to read timeline: %w", err)
	}
	return history, nil
}

func (s *service) ApplyStatusChange(ctx context.Context, change StatusChange) ([]TimelineEntry, error) {
	if change.Status == "" {
		return nil, ErrStatusRequired
	}
	if !IsValid(change.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, change.Status)
	}

	unlock := s.lock(change.Token)
	defer unlock()

	current, err := s.orders.GetByToken(ctx, change.Token)
	if err != nil {
		return nil, s.wrapLookupErr(err, change.Token)
	}
	return s.applyLocked(ctx, current, change)
}

func (s *service) Advance(ctx context.Context, token, note, requestID string) ([]TimelineEntry, error) {
	unlock := s.lock(token)
	defer unlock()

	current, err := s.orders.GetByToken(ctx, token)
	if err != nil {
		return nil, s.wrapLookupErr(err, token)
	}

	status := current.Status
	last, err := s.timeline.Last(ctx, token)
	switch {
	case err == nil:
		status = last.Status
	case !errors.Is(err, ErrOrderNotFound):
		return nil, fmt.Errorf("service: failed to read latest timeline entry: %w", err)
	}

	next, err := Advance(status)
	if err != nil {
		return nil, err
	}
	if next == status {
		log.Info().Str("token", token).Stringer("status", status).Msg("service: order already at terminal stage, nothing to advance")
		return s.history(ctx, token)
	}

	return s.applyLocked(ctx, current, StatusChange{
		Token:     token,
		Status:    next,
		Note:      note,
		RequestID: requestID,
	})
}

// lock serializes work on one order token. Lock entries are dropped once no
// goroutine holds or waits for them.
func (s *service) lock(token string) (unlock func()) {
	s.locks.Lock(token)
	return func() {
		if err := s.locks.Unlock(token); err != nil {
			log.Error().Err(err).Str("token", token).Msg("service: failed to release token lock")
		}
	}
}

// applyLocked performs the dual write. The caller holds the token lock.
func (s *service) applyLocked(ctx context.Context, current *Order, change StatusChange) ([]TimelineEntry, error) {
	if change.RequestID != "" {
		applied, err := s.timeline.FindByRequestID(ctx, change.Token, change.RequestID)
		if err != nil {
			return nil, fmt.Errorf("service: failed to check request id: %w", err)
		}
		if applied != nil {
			log.Info().Str("token", change.Token).Str("request_id", change.RequestID).Msg("service: status change already applied, skipping")
			return s.history(ctx, change.Token)
		}
	}

	previous := current.Status
	now := s.now().UTC()

	last, err := s.timeline.Last(ctx, change.Token)
	switch {
	case err == nil:
		previous = last.Status
		if now.Before(last.Timestamp) {
			now = last.Timestamp
		}
	case !errors.Is(err, ErrOrderNotFound):
		return nil, fmt.Errorf("service: failed to read latest timeline entry: %w", err)
	}

	kind := changeKind(previous, change.Status)
	note := change.Note
	if note == "" {
		if kind == KindCorrection {
			note = fmt.Sprintf("Manual correction from %s to %s", previous, change.Status)
		} else {
			note = fmt.Sprintf("Status changed to %s", change.Status)
		}
	}

	entry := &TimelineEntry{
		Token:     change.Token,
		Status:    change.Status,
		Timestamp: now,
		Note:      note,
		Kind:      kind,
		RequestID: change.RequestID,
	}
	if err := s.timeline.Append(ctx, entry); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateRequest):
			return s.history(ctx, change.Token)
		case errors.Is(err, ErrOrderNotFound):
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("token", change.Token).Stringer("new_status", change.Status).Msg("service: failed to append timeline entry")
		return nil, fmt.Errorf("service: failed to append timeline entry: %w", err)
	}
	s.metrics.StatusChanges.WithLabelValues(string(change.Status), string(kind)).Inc()

	deliveryAt := change.EstimatedDelivery
	if deliveryAt == nil && (change.Status == StatusReady || change.Status == StatusCompleted) {
		deliveryAt = &now
	}

	update := ProjectionUpdate{
		Token:      change.Token,
		Status:     change.Status,
		DeliveryAt: deliveryAt,
		UpdatedAt:  now,
	}
	if err := s.orders.UpdateProjection(ctx, update); err != nil {
		// The timeline already holds the change; the next read or reconcile pass heals the record.
		s.metrics.ProjectionFailures.Inc()
		log.Warn().Err(err).Str("token", change.Token).Stringer("new_status", change.Status).Msg("service: order record update failed after timeline append")
	}

	log.Info().
		Str("token", change.Token).
		Stringer("old_status", previous).
		Stringer("new_status", change.Status).
		Str("kind", string(kind)).
		Msg("service: order status updated")

	if change.Status == StatusReady && previous != StatusReady {
		notification := ReadyNotification{
			Token:        current.Token,
			OwnerID:      current.OwnerID,
			CustomerName: current.CustomerName,
			Contact:      current.Contact,
			ReadyAt:      now,
		}
		if err := s.notifier.NotifyReady(ctx, notification); err != nil {
			log.Warn().Err(err).Str("token", change.Token).Msg("service: ready notification failed")
		}
	}

	return s.history(ctx, change.Token)
}

func (s *service) SetPriority(ctx context.Context, token string, priority Priority) (*Order, error) {
	parsed, err := ParsePriority(string(priority))
	if err != nil {
		return nil, err
	}

	unlock := s.lock(token)
	defer unlock()

	if err := s.orders.UpdatePriority(ctx, token, parsed, s.now().UTC()); err != nil {
		return nil, s.wrapLookupErr(err, token)
	}
	order, err := s.orders.GetByToken(ctx, token)
	if err != nil {
		return nil, s.wrapLookupErr(err, token)
	}
	log.Info().Str("token", token).Stringer("priority", parsed).Msg("service: order priority updated")
	return order, nil
}

func (s *service) SubmitFeedback(ctx context.Context, token string, rating int, comment string) (*Order, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	unlock := s.lock(token)
	defer unlock()

	order, err := s.orders.GetByToken(ctx, token)
	if err != nil {
		return nil, s.wrapLookupErr(err, token)
	}
	if order.Status != StatusCompleted {
		return nil, ErrFeedbackNotAllowed
	}

	feedback := Feedback{Rating: rating, Comment: strings.TrimSpace(comment), SubmittedAt: s.now().UTC()}
	if err := s.orders.SetFeedback(ctx, token, feedback); err != nil {
		return nil, s.wrapLookupErr(err, token)
	}
	order.Feedback = &feedback
	return order, nil
}

// Reconcile rewrites every order record whose status disagrees with its
// latest timeline entry and returns how many were healed.
func (s *service) Reconcile(ctx context.Context) (int, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: reconcile failed to list orders: %w", err)
	}
	latest, err := s.timeline.LatestStatuses(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: reconcile failed to read timeline: %w", err)
	}

	healed := 0
	for _, order := range orders {
		entry, ok := latest[order.Token]
		if !ok || entry.Status == order.Status {
			continue
		}
		if err := ctx.Err(); err != nil {
			return healed, err
		}

		unlock := s.lock(order.Token)
		_, err := s.healLocked(ctx, order.Token, "reconcile")
		unlock()
		if err != nil {
			log.Warn().Err(err).Str("token", order.Token).Msg("service: reconcile could not heal order")
			continue
		}
		healed++
	}

	if healed > 0 {
		log.Info().Int("healed", healed).Msg("service: reconcile pass finished")
	}
	return healed, nil
}

// healLocked copies the latest timeline status onto the order record.
func (s *service) healLocked(ctx context.Context, token, trigger string) (*Order, error) {
	order, err := s.orders.GetByToken(ctx, token)
	if err != nil {
		return nil, s.wrapLookupErr(err, token)
	}
	last, err := s.timeline.Last(ctx, token)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return order, nil
		}
		return nil, fmt.Errorf("service: failed to read latest timeline entry: %w", err)
	}
	if last.Status == order.Status {
		return order, nil
	}

	update := ProjectionUpdate{Token: token, Status: last.Status, UpdatedAt: last.Timestamp}
	if order.DeliveryAt == nil && (last.Status == StatusReady || last.Status == StatusCompleted) {
		deliveryAt := last.Timestamp
		update.DeliveryAt = &deliveryAt
	}
	if err := s.orders.UpdateProjection(ctx, update); err != nil {
		log.Warn().Err(err).Str("token", token).Msg("service: failed to heal order record")
		return nil, fmt.Errorf("service: failed to heal order record: %w", err)
	}

	s.metrics.ProjectionHeals.WithLabelValues(trigger).Inc()
	log.Info().Str("token", token).Stringer("from", order.Status).Stringer("to", last.Status).Str("trigger", trigger).Msg("service: order record healed from timeline")

	order.Status = last.Status
	order.UpdatedAt = last.Timestamp
	if update.DeliveryAt != nil {
		order.DeliveryAt = update.DeliveryAt
	}
	return order, nil
}

func (s *service) history(ctx context.Context, token string) ([]TimelineEntry, error) {
	history, err := s.timeline.History(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("service: failed to read timeline: %w", err)
	}
	return history, nil
}

func (s *service) wrapLookupErr(err error, token string) error {
	if errors.Is(err, ErrOrderNotFound) {
		log.Warn().Str("token", token).Msg("service: order not found")
		return ErrOrderNotFound
	}
	log.Error().Err(err).Str("token", token).Msg("service: repository lookup failed")
	return fmt.Errorf("service: failed to load order %s: %w", token, err)
}
