package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/laundry-tracking/internal/db/dbtest"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

func newPostgresRepos(t *testing.T) (order.Repository, order.TimelineRepository) {
	t.Helper()
	pool := dbtest.NewPool(t)
	return order.NewRepository(pool), order.NewTimelineRepository(pool)
}

func seedOrder(t *testing.T, repo order.Repository, token string, submittedAt time.Time) {
	t.Helper()
	o := newTestOrder(token)
	o.Status = order.StatusReceived
	o.Priority = order.PriorityNormal
	o.SubmittedAt = submittedAt
	o.UpdatedAt = submittedAt

	created, err := repo.Create(context.Background(), o, &order.TimelineEntry{
		Token:     token,
		Status:    order.StatusReceived,
		Timestamp: submittedAt,
		Note:      "Order received",
		Kind:      order.KindSeed,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestPostgresRepository_CreateIsIdempotent(t *testing.T) {
	repo, timeline := newPostgresRepos(t)
	ctx := context.Background()
	submittedAt := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	seedOrder(t, repo, testToken, submittedAt)

	again := newTestOrder(testToken)
	again.Status = order.StatusReceived
	again.Priority = order.PriorityNormal
	again.SubmittedAt = submittedAt
	again.UpdatedAt = submittedAt
	created, err := repo.Create(ctx, again, &order.TimelineEntry{Token: testToken, Status: order.StatusReceived, Timestamp: submittedAt, Kind: order.KindSeed})
	require.NoError(t, err)
	assert.False(t, created)

	history, err := timeline.History(ctx, testToken)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	stored, err := repo.GetByToken(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", stored.CustomerName)
	assert.Equal(t, []order.Item{{Type: "shirt", Count: 3, Color: "white"}}, stored.Items)
	assert.True(t, stored.SubmittedAt.Equal(submittedAt))
	assert.Nil(t, stored.Feedback)
}

func TestPostgresRepository_GetByToken_NotFound(t *testing.T) {
	repo, _ := newPostgresRepos(t)

	_, err := repo.GetByToken(context.Background(), "LB-20240115-9999")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_ProjectionPriorityFeedback(t *testing.T) {
	repo, _ := newPostgresRepos(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	seedOrder(t, repo, testToken, now)

	eta := now.Add(24 * time.Hour)
	require.NoError(t, repo.UpdateProjection(ctx, order.ProjectionUpdate{Token: testToken, Status: order.StatusWashing, DeliveryAt: &eta, UpdatedAt: now.Add(time.Minute)}))
	// A nil delivery time keeps the stored one.
	require.NoError(t, repo.UpdateProjection(ctx, order.ProjectionUpdate{Token: testToken, Status: order.StatusDrying, UpdatedAt: now.Add(2 * time.Minute)}))
	require.NoError(t, repo.UpdatePriority(ctx, testToken, order.PriorityExpress, now.Add(3*time.Minute)))
	require.NoError(t, repo.SetFeedback(ctx, testToken, order.Feedback{Rating: 5, Comment: "spotless", SubmittedAt: now.Add(time.Hour)}))

	stored, err := repo.GetByToken(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDrying, stored.Status)
	require.NotNil(t, stored.DeliveryAt)
	assert.True(t, stored.DeliveryAt.Equal(eta))
	assert.Equal(t, order.PriorityExpress, stored.Priority)
	require.NotNil(t, stored.Feedback)
	assert.Equal(t, 5, stored.Feedback.Rating)
	assert.Equal(t, "spotless", stored.Feedback.Comment)

	err = repo.UpdateProjection(ctx, order.ProjectionUpdate{Token: "LB-20240115-9999", Status: order.StatusDrying, UpdatedAt: now})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_List(t *testing.T) {
	repo, _ := newPostgresRepos(t)
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	seedOrder(t, repo, "LB-20240115-0001", base)
	seedOrder(t, repo, "LB-20240115-0002", base.Add(time.Hour))

	orders, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "LB-20240115-0002", orders[0].Token)
	assert.Equal(t, "LB-20240115-0001", orders[1].Token)
}

func TestPostgresTimelineRepository(t *testing.T) {
	repo, timeline := newPostgresRepos(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	seedOrder(t, repo, testToken, base)

	washing := &order.TimelineEntry{Token: testToken, Status: order.StatusWashing, Timestamp: base.Add(time.Minute), Kind: order.KindAdvance, RequestID: "req-1"}
	require.NoError(t, timeline.Append(ctx, washing))
	assert.NotZero(t, washing.ID)

	duplicate := &order.TimelineEntry{Token: testToken, Status: order.StatusWashing, Timestamp: base.Add(2 * time.Minute), Kind: order.KindSet, RequestID: "req-1"}
	assert.ErrorIs(t, timeline.Append(ctx, duplicate), order.ErrDuplicateRequest)

	orphan := &order.TimelineEntry{Token: "LB-20240115-9999", Status: order.StatusWashing, Timestamp: base, Kind: order.KindSet}
	assert.ErrorIs(t, timeline.Append(ctx, orphan), order.ErrOrderNotFound)

	last, err := timeline.Last(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, order.StatusWashing, last.Status)
	assert.Equal(t, "req-1", last.RequestID)

	found, err := timeline.FindByRequestID(ctx, testToken, "req-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, washing.ID, found.ID)

	missing, err := timeline.FindByRequestID(ctx, testToken, "req-2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	latest, err := timeline.LatestStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, order.StatusWashing, latest[testToken].Status)

	_, err = timeline.Last(ctx, "LB-20240115-9999")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}
