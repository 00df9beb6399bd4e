package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type ItemRequest struct {
	Type  string `json:"type" validate:"required"`
	Count int    `json:"count" validate:"required,min=1,max=200"`
	Color string `json:"color,omitempty"`
}

type CreateOrderRequest struct {
	Token        string        `json:"token,omitempty"`
	OwnerID      string        `json:"owner_id,omitempty"`
	CustomerName string        `json:"customer_name" validate:"required,min=2"`
	Room         string        `json:"room,omitempty"`
	Contact      string        `json:"contact,omitempty"`
	Address      string        `json:"address,omitempty"`
	Items        []ItemRequest `json:"items" validate:"required,min=1,dive"`
	Instructions string        `json:"instructions,omitempty" validate:"max=500"`
	Priority     string        `json:"priority,omitempty" validate:"omitempty,oneof=urgent express normal"`
	SubmittedAt  *time.Time    `json:"submitted_at,omitempty"`
}

type UpdateStatusRequest struct {
	Status            string     `json:"status" validate:"required"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	Note              string     `json:"note,omitempty" validate:"max=500"`
}

type AdvanceRequest struct {
	Note string `json:"note,omitempty" validate:"max=500"`
}

type PriorityRequest struct {
	Priority string `json:"priority" validate:"required,oneof=urgent express normal"`
}

type FeedbackRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" validate:"max=1000"`
}

type OrderResponse struct {
	order.Order
	Progress int `json:"progress"`
}

type TimelineResponse struct {
	Token    string                `json:"token"`
	Status   order.Status          `json:"status"`
	Progress int                   `json:"progress"`
	Entries  []order.TimelineEntry `json:"entries"`
}

func newOrderResponse(o *order.Order) OrderResponse {
	return OrderResponse{Order: *o, Progress: o.Progress()}
}

func newTimelineResponse(token string, entries []order.TimelineEntry) TimelineResponse {
	resp := TimelineResponse{Token: token, Entries: entries}
	if len(entries) > 0 {
		resp.Status = entries[len(entries)-1].Status
		resp.Progress = order.ProgressPercent(resp.Status)
	}
	return resp
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/orders", func(r chi.Router) {
		r.Post("/", h.handleCreateOrder)
		r.Get("/", h.handleListOrders)
		r.Get("/{token}", h.handleGetOrder)
		r.Get("/{token}/timeline", h.handleGetTimeline)
		r.Put("/{token}/status", h.handleUpdateStatus)
		r.Post("/{token}/advance", h.handleAdvance)
		r.Put("/{token}/priority", h.handleSetPriority)
		r.Post("/{token}/feedback", h.handleSubmitFeedback)
	})
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	input := &order.Order{
		Token:        req.Token,
		OwnerID:      req.OwnerID,
		CustomerName: req.CustomerName,
		Room:         req.Room,
		Contact:      req.Contact,
		Address:      req.Address,
		Instructions: req.Instructions,
		Priority:     order.Priority(req.Priority),
		Items:        make([]order.Item, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, order.Item{Type: item.Type, Count: item.Count, Color: item.Color})
	}
	if req.SubmittedAt != nil {
		input.SubmittedAt = req.SubmittedAt.UTC()
	}

	created, isNew, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		log.Error().Err(err).Str("token", req.Token).Msg("Failed to create order via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to create order"))
		return
	}

	code := http.StatusCreated
	if !isNew {
		code = http.StatusOK
	}
	respondWithJSON(w, code, newOrderResponse(created))
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders via service")
		respondWithError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	found, err := h.service.GetOrder(r.Context(), token)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get order"))
		return
	}
	respondWithJSON(w, http.StatusOK, newOrderResponse(found))
}

func (h *OrderHandler) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	entries, err := h.service.GetTimeline(r.Context(), token)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get timeline"))
		return
	}
	respondWithJSON(w, http.StatusOK, newTimelineResponse(token, entries))
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req UpdateStatusRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.service.ApplyStatusChange(r.Context(), order.StatusChange{
		Token:             token,
		Status:            status,
		Note:              req.Note,
		EstimatedDelivery: req.EstimatedDelivery,
		RequestID:         r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		log.Warn().Err(err).Str("token", token).Str("status", req.Status).Msg("Failed to update order status via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to update order status"))
		return
	}
	respondWithJSON(w, http.StatusOK, newTimelineResponse(token, entries))
}

func (h *OrderHandler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req AdvanceRequest
	if !h.decodeAndValidate(w, r, &req, true) {
		return
	}

	entries, err := h.service.Advance(r.Context(), token, req.Note, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to advance order"))
		return
	}
	respondWithJSON(w, http.StatusOK, newTimelineResponse(token, entries))
}

func (h *OrderHandler) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req PriorityRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	updated, err := h.service.SetPriority(r.Context(), token, order.Priority(req.Priority))
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to set priority"))
		return
	}
	respondWithJSON(w, http.StatusOK, newOrderResponse(updated))
}

func (h *OrderHandler) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req FeedbackRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}

	updated, err := h.service.SubmitFeedback(r.Context(), token, req.Rating, req.Comment)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to submit feedback"))
		return
	}
	respondWithJSON(w, http.StatusOK, newOrderResponse(updated))
}
