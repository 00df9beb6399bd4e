package customer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/laundry-tracking/internal/cache"
	"github.com/vasiliy-maslov/laundry-tracking/internal/client"
	"github.com/vasiliy-maslov/laundry-tracking/internal/customer"
	orderHttp "github.com/vasiliy-maslov/laundry-tracking/internal/handler/http"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
	"github.com/vasiliy-maslov/laundry-tracking/internal/outbox"
	"github.com/vasiliy-maslov/laundry-tracking/internal/transport"
)

const scenarioToken = "LB-20250115-4821"

type harness struct {
	svc      order.Service
	outbox   *outbox.Outbox
	customer *customer.Service
	down     *atomic.Bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := order.NewMemoryStore()
	svc := order.NewService(mem, mem, nil, nil)
	router := transport.NewRouter(svc, nil)

	down := &atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	store, err := localstore.Open(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	api := client.New(srv.URL, time.Second)
	box := outbox.New(store, outbox.NewAPISender(api), outbox.Config{MaxAttempts: 3, EntryTimeout: time.Second})
	fetcher := cache.New(store, cache.Config{Version: 1, MaxDynamicEntries: 10, NetworkTimeout: time.Second})

	return &harness{
		svc:      svc,
		outbox:   box,
		customer: customer.New(api, box, fetcher, "LB", time.Second),
		down:     down,
	}
}

func request(token string) orderHttp.CreateOrderRequest {
	return orderHttp.CreateOrderRequest{
		Token:        token,
		CustomerName: "Jane Doe",
		Room:         "214",
		Items:        []orderHttp.ItemRequest{{Type: "bedsheet", Count: 2}},
	}
}

func TestSubmit_OfflineOrderIsQueuedThenReplayedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.down.Store(true)
	receipt, err := h.customer.Submit(ctx, request(scenarioToken))
	require.NoError(t, err)
	assert.True(t, receipt.Queued)
	assert.Equal(t, scenarioToken, receipt.Token)

	entries, err := h.outbox.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, receipt.LocalID, entries[0].LocalID)

	view, err := h.customer.Status(ctx, scenarioToken)
	require.NoError(t, err)
	assert.True(t, view.Queued)
	assert.Equal(t, order.StatusReceived, view.Status)

	h.down.Store(false)
	report, err := h.outbox.DrainAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{receipt.LocalID}, report.Delivered)

	entries, err = h.outbox.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// a second replay of the same order must not duplicate it
	_, err = h.customer.Submit(ctx, request(scenarioToken))
	require.NoError(t, err)

	orders, err := h.svc.ListOrders(ctx)
	require.NoError(t, err)
	count := 0
	for _, o := range orders {
		if o.Token == scenarioToken {
			count++
		}
	}
	assert.Equal(t, 1, count)

	view, err = h.customer.Status(ctx, scenarioToken)
	require.NoError(t, err)
	assert.False(t, view.Queued)
	assert.Equal(t, 10, view.Progress)
	require.Len(t, view.Entries, 1)
}

func TestSubmit_OnlineGeneratesToken(t *testing.T) {
	h := newHarness(t)
	receipt, err := h.customer.Submit(context.Background(), request(""))
	require.NoError(t, err)

	assert.False(t, receipt.Queued)
	assert.False(t, receipt.Existing)
	require.NoError(t, order.ValidateToken(receipt.Token))
	require.NotNil(t, receipt.Order)
	assert.Equal(t, order.StatusReceived, receipt.Order.Status)
}

func TestSubmit_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.customer.Submit(ctx, request("not-a-token"))
	assert.ErrorIs(t, err, order.ErrInvalidToken)

	req := request(scenarioToken)
	req.Items = nil
	_, err = h.customer.Submit(ctx, req)
	assert.ErrorIs(t, err, order.ErrValidation)

	entries, err := h.outbox.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStatus_ServesCachedTimelineWhenOffline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.customer.Submit(ctx, request(scenarioToken))
	require.NoError(t, err)
	_, err = h.svc.ApplyStatusChange(ctx, order.StatusChange{Token: scenarioToken, Status: order.StatusWashing})
	require.NoError(t, err)

	view, err := h.customer.Status(ctx, scenarioToken)
	require.NoError(t, err)
	assert.False(t, view.FromCache)
	assert.Equal(t, order.StatusWashing, view.Status)

	h.down.Store(true)
	view, err = h.customer.Status(ctx, scenarioToken)
	require.NoError(t, err)
	assert.True(t, view.FromCache)
	assert.Equal(t, order.StatusWashing, view.Status)
	assert.Equal(t, 30, view.Progress)
}

func TestStatus_UnknownOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.customer.Status(context.Background(), "lb-20250115-0404")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}
