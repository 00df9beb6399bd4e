package order

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps orders and their timelines in process memory. It
// implements both Repository and TimelineRepository and backs the "memory"
// storage driver.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*Order
	timeline map[string][]TimelineEntry
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*Order),
		timeline: make(map[string][]TimelineEntry),
	}
}

var (
	_ Repository         = (*MemoryStore)(nil)
	_ TimelineRepository = (*MemoryStore)(nil)
)

func (m *MemoryStore) Create(_ context.Context, order *Order, seed *TimelineEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.Token]; ok {
		return false, nil
	}
	m.orders[order.Token] = cloneOrder(order)

	m.nextID++
	seed.ID = m.nextID
	m.timeline[seed.Token] = append(m.timeline[seed.Token], *seed)
	return true, nil
}

func (m *MemoryStore) GetByToken(_ context.Context, token string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[token]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (m *MemoryStore) List(_ context.Context) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]Order, 0, len(m.orders))
	for _, order := range m.orders {
		orders = append(orders, *cloneOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].SubmittedAt.Equal(orders[j].SubmittedAt) {
			return orders[i].SubmittedAt.After(orders[j].SubmittedAt)
		}
		return orders[i].Token < orders[j].Token
	})
	return orders, nil
}

func (m *MemoryStore) UpdateProjection(_ context.Context, update ProjectionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[update.Token]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = update.Status
	if update.DeliveryAt != nil {
		deliveryAt := *update.DeliveryAt
		order.DeliveryAt = &deliveryAt
	}
	order.UpdatedAt = update.UpdatedAt
	return nil
}

func (m *MemoryStore) UpdatePriority(_ context.Context, token string, priority Priority, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[token]
	if !ok {
		return ErrOrderNotFound
	}
	order.Priority = priority
	order.UpdatedAt = updatedAt
	return nil
}

func (m *MemoryStore) SetFeedback(_ context.Context, token string, feedback Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[token]
	if !ok {
		return ErrOrderNotFound
	}
	order.Feedback = &feedback
	return nil
}

func (m *MemoryStore) Append(_ context.Context, entry *TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[entry.Token]; !ok {
		return ErrOrderNotFound
	}
	if entry.RequestID != "" {
		for _, existing := range m.timeline[entry.Token] {
			if existing.RequestID == entry.RequestID {
				return ErrDuplicateRequest
			}
		}
	}
	m.nextID++
	entry.ID = m.nextID
	m.timeline[entry.Token] = append(m.timeline[entry.Token], *entry)
	return nil
}

func (m *MemoryStore) History(_ context.Context, token string) ([]TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.timeline[token]), nil
}

func (m *MemoryStore) Last(_ context.Context, token string) (*TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.timeline[token]
	if len(entries) == 0 {
		return nil, ErrOrderNotFound
	}
	last := entries[len(entries)-1]
	return &last, nil
}

func (m *MemoryStore) FindByRequestID(_ context.Context, token, requestID string) (*TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.timeline[token] {
		if entry.RequestID == requestID {
			found := entry
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) LatestStatuses(_ context.Context) (map[string]TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[string]TimelineEntry, len(m.timeline))
	for token, entries := range m.timeline {
		if len(entries) > 0 {
			latest[token] = entries[len(entries)-1]
		}
	}
	return latest, nil
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.DeliveryAt != nil {
		deliveryAt := *o.DeliveryAt
		c.DeliveryAt = &deliveryAt
	}
	if o.Feedback != nil {
		feedback := *o.Feedback
		c.Feedback = &feedback
	}
	return &c
}
