package dashboard_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/laundry-tracking/internal/dashboard"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

var now = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func tokens(records []order.Order) []string {
	out := make([]string, 0, len(records))
	for _, o := range records {
		out = append(out, o.Token)
	}
	return out
}

func daysAgo(d int, hour int) time.Time {
	return time.Date(2025, 1, 15-d, hour, 0, 0, 0, time.UTC)
}

// tenOrders is a mixed set spanning statuses, priorities and dates.
func tenOrders() []order.Order {
	return []order.Order{
		{Token: "LB-20250115-0001", CustomerName: "Ana Lopez", Room: "101", Status: order.StatusCompleted, Priority: order.PriorityNormal, SubmittedAt: daysAgo(0, 8)},
		{Token: "LB-20250114-0002", CustomerName: "Ben Ode", Room: "102", Status: order.StatusCompleted, Priority: order.PriorityUrgent, SubmittedAt: daysAgo(1, 9)},
		{Token: "LB-20250113-0003", CustomerName: "Cara Sim", Room: "214", Status: order.StatusWashing, Priority: order.PriorityUrgent, SubmittedAt: daysAgo(2, 10)},
		{Token: "LB-20250112-0004", CustomerName: "Dev Rao", Room: "215", Status: order.StatusCompleted, Priority: order.PriorityExpress, SubmittedAt: daysAgo(3, 11)},
		{Token: "LB-20250110-0005", CustomerName: "Eli Park", Room: "301", Status: order.StatusCompleted, Priority: order.PriorityNormal, SubmittedAt: daysAgo(5, 12)},
		{Token: "LB-20250109-0006", CustomerName: "Fay Wu", Room: "302", Status: order.StatusCompleted, Priority: order.PriorityUrgent, SubmittedAt: daysAgo(6, 7)},
		{Token: "LB-20250108-0007", CustomerName: "Gus Hale", Room: "303", Status: order.StatusCompleted, Priority: order.PriorityUrgent, SubmittedAt: daysAgo(7, 9)},
		{Token: "LB-20250105-0008", CustomerName: "Hana Ito", Room: "401", Status: order.StatusReady, Priority: order.PriorityNormal, SubmittedAt: daysAgo(10, 9)},
		{Token: "LB-20241230-0009", CustomerName: "Ivo Berg", Room: "402", Status: order.StatusCompleted, Priority: order.PriorityExpress, SubmittedAt: time.Date(2024, 12, 30, 9, 0, 0, 0, time.UTC)},
		{Token: "LB-20250115-0010", CustomerName: "Jo Kim", Room: "101", Status: order.StatusReceived, Priority: order.PriorityExpress, SubmittedAt: daysAgo(0, 11)},
	}
}

func TestApply_CompletedThisWeek(t *testing.T) {
	got := dashboard.Apply(tenOrders(), dashboard.Filter{Status: order.StatusCompleted, Date: dashboard.DateWeek}, now)

	assert.Equal(t, []string{
		"LB-20250114-0002", // urgent, yesterday
		"LB-20250109-0006", // urgent, six days ago
		"LB-20250112-0004", // express
		"LB-20250115-0001", // normal, today
		"LB-20250110-0005", // normal, five days ago
	}, tokens(got))
}

func TestApply_Predicates(t *testing.T) {
	tests := []struct {
		name   string
		filter dashboard.Filter
		want   []string
	}{
		{
			name:   "empty filter keeps all, sorted",
			filter: dashboard.Filter{},
			want: []string{
				"LB-20250114-0002", "LB-20250113-0003", "LB-20250109-0006", "LB-20250108-0007",
				"LB-20250115-0010", "LB-20250112-0004", "LB-20241230-0009",
				"LB-20250115-0001", "LB-20250110-0005", "LB-20250105-0008",
			},
		},
		{name: "search matches room", filter: dashboard.Filter{Search: "101"}, want: []string{"LB-20250115-0010", "LB-20250115-0001"}},
		{name: "search is case-insensitive on name", filter: dashboard.Filter{Search: "hANA"}, want: []string{"LB-20250105-0008"}},
		{name: "search matches token", filter: dashboard.Filter{Search: "lb-20241230"}, want: []string{"LB-20241230-0009"}},
		{name: "today", filter: dashboard.Filter{Date: dashboard.DateToday}, want: []string{"LB-20250115-0010", "LB-20250115-0001"}},
		{name: "yesterday", filter: dashboard.Filter{Date: dashboard.DateYesterday}, want: []string{"LB-20250114-0002"}},
		{
			name:   "month excludes previous month",
			filter: dashboard.Filter{Date: dashboard.DateMonth, Priority: order.PriorityExpress},
			want:   []string{"LB-20250115-0010", "LB-20250112-0004"},
		},
		{name: "priority", filter: dashboard.Filter{Priority: order.PriorityUrgent, Status: order.StatusWashing}, want: []string{"LB-20250113-0003"}},
		{name: "no match", filter: dashboard.Filter{Search: "nobody"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokens(dashboard.Apply(tenOrders(), tt.filter, now)))
		})
	}
}

func TestApply_StableForEqualKeys(t *testing.T) {
	same := daysAgo(1, 9)
	records := []order.Order{
		{Token: "LB-20250114-0003", Priority: order.PriorityNormal, SubmittedAt: same},
		{Token: "LB-20250114-0001", Priority: order.PriorityNormal, SubmittedAt: same},
		{Token: "LB-20250114-0002", Priority: order.PriorityNormal, SubmittedAt: same},
	}
	got := dashboard.Apply(records, dashboard.Filter{}, now)
	assert.Equal(t, []string{"LB-20250114-0003", "LB-20250114-0001", "LB-20250114-0002"}, tokens(got))
}

func TestApply_DoesNotReorderInput(t *testing.T) {
	records := tenOrders()
	_ = dashboard.Apply(records, dashboard.Filter{}, now)
	assert.Equal(t, "LB-20250115-0001", records[0].Token)
}

func TestParseDateRange(t *testing.T) {
	got, err := dashboard.ParseDateRange(" Week ")
	require.NoError(t, err)
	assert.Equal(t, dashboard.DateWeek, got)

	got, err = dashboard.ParseDateRange("all")
	require.NoError(t, err)
	assert.Equal(t, dashboard.DateAny, got)

	_, err = dashboard.ParseDateRange("fortnight")
	assert.ErrorIs(t, err, order.ErrValidation)
}
