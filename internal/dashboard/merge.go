// Package dashboard is the staff view: server snapshot merged with local
// edits, filtered and sorted for display.
package dashboard

import (
	"sort"

	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

// Merge overlays local overrides on the server snapshot. Every server record
// is kept in snapshot order; tokens known only locally follow, sorted by
// token and dated by their last edit unless the override sets SubmittedAt.
// Set override fields win. Inputs are not modified.
func Merge(server []order.Order, overrides map[string]localstore.Override) []order.Order {
	merged := make([]order.Order, 0, len(server)+len(overrides))
	seen := make(map[string]bool, len(server))

	for _, o := range server {
		seen[o.Token] = true
		if ov, ok := overrides[o.Token]; ok {
			o = apply(o, ov)
		}
		merged = append(merged, o)
	}

	var localOnly []string
	for token := range overrides {
		if !seen[token] {
			localOnly = append(localOnly, token)
		}
	}
	sort.Strings(localOnly)
	for _, token := range localOnly {
		ov := overrides[token]
		o := apply(order.Order{Token: token}, ov)
		if ov.SubmittedAt == nil {
			o.SubmittedAt = ov.UpdatedAt
		}
		merged = append(merged, o)
	}

	return merged
}

func apply(o order.Order, ov localstore.Override) order.Order {
	if ov.Status != nil {
		o.Status = *ov.Status
	}
	if ov.Priority != nil {
		o.Priority = *ov.Priority
	}
	if ov.CustomerName != nil {
		o.CustomerName = *ov.CustomerName
	}
	if ov.Room != nil {
		o.Room = *ov.Room
	}
	if ov.SubmittedAt != nil {
		o.SubmittedAt = *ov.SubmittedAt
	}
	if ov.EstimatedDelivery != nil {
		eta := *ov.EstimatedDelivery
		o.DeliveryAt = &eta
	}
	return o
}

// reflects reports whether the snapshot record already carries every field
// the override sets.
func reflects(o order.Order, ov localstore.Override) bool {
	if ov.Status != nil && o.Status != *ov.Status {
		return false
	}
	if ov.Priority != nil && o.Priority != *ov.Priority {
		return false
	}
	if ov.CustomerName != nil && o.CustomerName != *ov.CustomerName {
		return false
	}
	if ov.Room != nil && o.Room != *ov.Room {
		return false
	}
	if ov.SubmittedAt != nil && !o.SubmittedAt.Equal(*ov.SubmittedAt) {
		return false
	}
	if ov.EstimatedDelivery != nil && (o.DeliveryAt == nil || !o.DeliveryAt.Equal(*ov.EstimatedDelivery)) {
		return false
	}
	return true
}
