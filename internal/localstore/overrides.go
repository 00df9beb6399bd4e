package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

// Override is a not-yet-reconciled local edit. Nil fields are not
// overridden.
type Override struct {
	Token             string          `json:"-"`
	Status            *order.Status   `json:"status,omitempty"`
	Priority          *order.Priority `json:"priority,omitempty"`
	CustomerName      *string         `json:"customer_name,omitempty"`
	Room              *string         `json:"room,omitempty"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	UpdatedAt         time.Time       `json:"-"`
	// Confirmed is set once the server accepted the write; the override stays
	// until a fetched snapshot reflects it.
	Confirmed bool `json:"-"`
}

type overrideRow struct {
	Token     string `db:"token"`
	Fields    []byte `db:"fields"`
	UpdatedAt int64  `db:"updated_at"`
	Confirmed bool   `db:"confirmed"`
}

// PutOverride replaces the override stored for o.Token.
func (s *Store) PutOverride(ctx context.Context, o Override) error {
	fields, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("localstore: encode override %s: %w", o.Token, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO overrides (token, fields, updated_at, confirmed) VALUES (?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at,
			confirmed = excluded.confirmed`,
		o.Token, fields, o.UpdatedAt.UnixNano(), o.Confirmed)
	if err != nil {
		return fmt.Errorf("localstore: put override %s: %w", o.Token, err)
	}
	return nil
}

func (s *Store) Overrides(ctx context.Context) (map[string]Override, error) {
	var rows []overrideRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT token, fields, updated_at, confirmed FROM overrides`); err != nil {
		return nil, fmt.Errorf("localstore: list overrides: %w", err)
	}

	overrides := make(map[string]Override, len(rows))
	for _, r := range rows {
		var o Override
		if err := json.Unmarshal(r.Fields, &o); err != nil {
			return nil, fmt.Errorf("localstore: decode override %s: %w", r.Token, err)
		}
		o.Token = r.Token
		o.UpdatedAt = time.Unix(0, r.UpdatedAt).UTC()
		o.Confirmed = r.Confirmed
		overrides[r.Token] = o
	}
	return overrides, nil
}

func (s *Store) DeleteOverride(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM overrides WHERE token = ?`, token); err != nil {
		return fmt.Errorf("localstore: delete override %s: %w", token, err)
	}
	return nil
}
