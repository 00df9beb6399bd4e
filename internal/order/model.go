package order

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrValidation         = errors.New("validation failed")
	ErrStatusRequired     = fmt.Errorf("%w: status is required", ErrValidation)
	ErrInvalidStatus      = fmt.Errorf("%w: unknown status", ErrValidation)
	ErrInvalidToken       = fmt.Errorf("%w: malformed order token", ErrValidation)
	ErrInvalidPriority    = fmt.Errorf("%w: unknown priority", ErrValidation)
	ErrInvalidRating      = fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	ErrNoItems            = fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	ErrFeedbackNotAllowed = errors.New("feedback is only accepted for completed orders")
)

type Priority string

const (
	PriorityUrgent  Priority = "urgent"
	PriorityExpress Priority = "express"
	PriorityNormal  Priority = "normal"
)

func (p Priority) String() string {
	return string(p)
}

// PriorityRank orders priorities for display, urgent first. Unknown values
// rank as normal.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityExpress:
		return 1
	default:
		return 2
	}
}

func ParsePriority(raw string) (Priority, error) {
	switch p := Priority(raw); p {
	case PriorityUrgent, PriorityExpress, PriorityNormal:
		return p, nil
	case "":
		return PriorityNormal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
	}
}

type Item struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
	Color string `json:"color,omitempty"`
}

type Feedback struct {
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Order struct {
	Token        string     `json:"token"`
	OwnerID      string     `json:"owner_id,omitempty"`
	CustomerName string     `json:"customer_name,omitempty"`
	Room         string     `json:"room,omitempty"`
	Contact      string     `json:"contact,omitempty"`
	Address      string     `json:"address,omitempty"`
	Items        []Item     `json:"items"`
	Instructions string     `json:"instructions,omitempty"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	DeliveryAt   *time.Time `json:"delivery_at,omitempty"`
	Feedback     *Feedback  `json:"feedback,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Progress is derived from the status, never stored.
func (o Order) Progress() int {
	return ProgressPercent(o.Status)
}

type EntryKind string

const (
	KindSeed       EntryKind = "seed"
	KindAdvance    EntryKind = "advance"
	KindSet        EntryKind = "set"
	KindCorrection EntryKind = "correction"
)

type TimelineEntry struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
	Kind      EntryKind `json:"kind"`
	RequestID string    `json:"request_id,omitempty"`
}

// StatusChange is a request to move an order to Status. RequestID, when set,
// makes the change idempotent per token.
type StatusChange struct {
	Token             string
	Status            Status
	Note              string
	EstimatedDelivery *time.Time
	RequestID         string
}

type ProjectionUpdate struct {
	Token      string
	Status     Status
	DeliveryAt *time.Time
	UpdatedAt  time.Time
}
