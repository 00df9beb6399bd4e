package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vasiliy-maslov/laundry-tracking/internal/client"
	orderHttp "github.com/vasiliy-maslov/laundry-tracking/internal/handler/http"
	"github.com/vasiliy-maslov/laundry-tracking/internal/localstore"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

// API is the subset of *client.Client the sender replays against.
type API interface {
	CreateOrder(ctx context.Context, req orderHttp.CreateOrderRequest) (*order.Order, bool, error)
	UpdateStatus(ctx context.Context, token string, req orderHttp.UpdateStatusRequest, idempotencyKey string) (*orderHttp.TimelineResponse, error)
	SetPriority(ctx context.Context, token string, priority order.Priority) (*order.Order, error)
}

var _ API = (*client.Client)(nil)

type APISender struct {
	api API
}

func NewAPISender(api API) *APISender {
	return &APISender{api: api}
}

// Send replays e. Creates are idempotent through the client token, status
// changes through the local id sent as the idempotency key.
func (s *APISender) Send(ctx context.Context, e localstore.OutboxEntry) error {
	switch Kind(e.Kind) {
	case KindCreateOrder:
		var req orderHttp.CreateOrderRequest
		if err := decode(e, &req); err != nil {
			return err
		}
		_, _, err := s.api.CreateOrder(ctx, req)
		return err

	case KindUpdateStatus:
		var req orderHttp.UpdateStatusRequest
		if err := decode(e, &req); err != nil {
			return err
		}
		_, err := s.api.UpdateStatus(ctx, e.Token, req, e.LocalID)
		return err

	case KindSetPriority:
		var req orderHttp.PriorityRequest
		if err := decode(e, &req); err != nil {
			return err
		}
		_, err := s.api.SetPriority(ctx, e.Token, order.Priority(req.Priority))
		return err

	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
}

func decode(e localstore.OutboxEntry, dst interface{}) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("outbox: corrupt %s payload %s: %w", e.Kind, e.LocalID, err)
	}
	return nil
}
