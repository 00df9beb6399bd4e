package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

type DateRange string

const (
	DateAny       DateRange = ""
	DateToday     DateRange = "today"
	DateYesterday DateRange = "yesterday"
	DateWeek      DateRange = "week"
	DateMonth     DateRange = "month"
)

func ParseDateRange(raw string) (DateRange, error) {
	switch d := DateRange(strings.ToLower(strings.TrimSpace(raw))); d {
	case DateAny, DateToday, DateYesterday, DateWeek, DateMonth:
		return d, nil
	case "all":
		return DateAny, nil
	default:
		return "", fmt.Errorf("%w: unknown date range %q", order.ErrValidation, raw)
	}
}

// Filter is AND-combined; zero fields match everything.
type Filter struct {
	Search   string
	Status   order.Status
	Date     DateRange
	Priority order.Priority
}

// Apply filters records and sorts the survivors urgent first, newest first
// within a priority. The input slice is not modified.
func Apply(records []order.Order, f Filter, now time.Time) []order.Order {
	search := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]order.Order, 0, len(records))
	for _, o := range records {
		if search != "" && !matchesSearch(o, search) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if !inRange(o.SubmittedAt, f.Date, now) {
			continue
		}
		if f.Priority != "" && effectivePriority(o) != f.Priority {
			continue
		}
		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := order.PriorityRank(out[i].Priority), order.PriorityRank(out[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

func matchesSearch(o order.Order, needle string) bool {
	return strings.Contains(strings.ToLower(o.Token), needle) ||
		strings.Contains(strings.ToLower(o.CustomerName), needle) ||
		strings.Contains(strings.ToLower(o.Room), needle)
}

func effectivePriority(o order.Order) order.Priority {
	if o.Priority == "" {
		return order.PriorityNormal
	}
	return o.Priority
}

// inRange buckets by calendar day in now's location. week is the last seven
// days including today.
func inRange(submitted time.Time, r DateRange, now time.Time) bool {
	if r == DateAny {
		return true
	}
	if submitted.IsZero() {
		return false
	}

	loc := now.Location()
	today := startOfDay(now)
	day := startOfDay(submitted.In(loc))

	switch r {
	case DateToday:
		return day.Equal(today)
	case DateYesterday:
		return day.Equal(today.AddDate(0, 0, -1))
	case DateWeek:
		return !day.Before(today.AddDate(0, 0, -6)) && !day.After(today)
	case DateMonth:
		s := submitted.In(loc)
		return s.Year() == now.Year() && s.Month() == now.Month()
	default:
		return true
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
