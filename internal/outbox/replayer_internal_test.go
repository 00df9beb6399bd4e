package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelay(t *testing.T) {
	const (
		base  = time.Second
		limit = 5 * time.Second
	)
	tests := []struct {
		name    string
		current time.Duration
		report  Report
		err     error
		want    time.Duration
	}{
		{name: "clean pass resets", current: 4 * time.Second, report: Report{}, want: base},
		{name: "pending doubles", current: base, report: Report{Pending: 1}, want: 2 * time.Second},
		{name: "capped at limit", current: 4 * time.Second, report: Report{Pending: 2}, want: limit},
		{name: "stays at limit", current: limit, report: Report{Pending: 1}, want: limit},
		{name: "error doubles", current: 2 * time.Second, err: errors.New("locked"), want: 4 * time.Second},
		{name: "cancel keeps current", current: 2 * time.Second, err: context.Canceled, want: 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextDelay(tt.current, base, limit, tt.report, tt.err))
		})
	}
}
