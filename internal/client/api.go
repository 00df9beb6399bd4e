package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	orderHttp "github.com/vasiliy-maslov/laundry-tracking/internal/handler/http"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether a failed call may succeed if retried later:
// network failures, timeouts, 5xx, 408 and 429. Caller cancellation is not
// transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError ||
			apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateOrder reports created=false when the server already had the token.
func (c *Client) CreateOrder(ctx context.Context, req orderHttp.CreateOrderRequest) (*order.Order, bool, error) {
	var resp orderHttp.OrderResponse
	code, err := c.do(ctx, http.MethodPost, "/orders", req, nil, &resp)
	if err != nil {
		return nil, false, err
	}
	return &resp.Order, code == http.StatusCreated, nil
}

func (c *Client) ListOrders(ctx context.Context) ([]order.Order, error) {
	var resp []orderHttp.OrderResponse
	if _, err := c.do(ctx, http.MethodGet, "/orders", nil, nil, &resp); err != nil {
		return nil, err
	}
	return DecodeOrders(resp), nil
}

func (c *Client) GetOrder(ctx context.Context, token string) (*order.Order, error) {
	var resp orderHttp.OrderResponse
	if _, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(token), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

func (c *Client) GetTimeline(ctx context.Context, token string) (*orderHttp.TimelineResponse, error) {
	var resp orderHttp.TimelineResponse
	if _, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(token)+"/timeline", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateStatus sends idempotencyKey, when non-empty, so a replay of the same
// change is applied once.
func (c *Client) UpdateStatus(ctx context.Context, token string, req orderHttp.UpdateStatusRequest, idempotencyKey string) (*orderHttp.TimelineResponse, error) {
	var resp orderHttp.TimelineResponse
	if _, err := c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(token)+"/status", req, idempotencyHeader(idempotencyKey), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Advance(ctx context.Context, token, note, idempotencyKey string) (*orderHttp.TimelineResponse, error) {
	var resp orderHttp.TimelineResponse
	body := orderHttp.AdvanceRequest{Note: note}
	if _, err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(token)+"/advance", body, idempotencyHeader(idempotencyKey), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SetPriority(ctx context.Context, token string, priority order.Priority) (*order.Order, error) {
	var resp orderHttp.OrderResponse
	body := orderHttp.PriorityRequest{Priority: string(priority)}
	if _, err := c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(token)+"/priority", body, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

func (c *Client) SubmitFeedback(ctx context.Context, token string, rating int, comment string) (*order.Order, error) {
	var resp orderHttp.OrderResponse
	body := orderHttp.FeedbackRequest{Rating: rating, Comment: comment}
	if _, err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(token)+"/feedback", body, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.Fetch(ctx, "/health")
	return err
}

// Fetch performs a GET and returns the raw body. It is the network leg the
// cache router wraps.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("client: failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: failed to read %s: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// DecodeOrders strips the response envelope.
func DecodeOrders(resp []orderHttp.OrderResponse) []order.Order {
	orders := make([]order.Order, 0, len(resp))
	for _, r := range resp {
		orders = append(orders, r.Order)
	}
	return orders
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("client: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("client: failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("client: failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, newAPIError(resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("client: failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func newAPIError(code int, body []byte) *APIError {
	var payload orderHttp.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &APIError{StatusCode: code, Message: payload.Error}
	}
	return &APIError{StatusCode: code, Message: strings.TrimSpace(string(body))}
}

func idempotencyHeader(key string) map[string]string {
	if key == "" {
		return nil
	}
	return map[string]string{orderHttp.IdempotencyKeyHeader: key}
}
