package transport_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/laundry-tracking/internal/metrics"
	"github.com/vasiliy-maslov/laundry-tracking/internal/order"
	"github.com/vasiliy-maslov/laundry-tracking/internal/transport"
)

// Scenario: an order is created, moved to drying and read back through the
// full router on the memory store.
func TestRouter_EndToEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := order.NewMemoryStore()
	svc := order.NewService(store, store, nil, m)
	srv := httptest.NewServer(transport.NewRouter(svc, reg))
	defer srv.Close()

	body := `{"token":"LB-20240115-0001","customer_name":"Jane Doe","items":[{"type":"shirt","count":2}]}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/orders/LB-20240115-0001/status", bytes.NewBufferString(`{"status":"drying"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/orders/LB-20240115-0001")
	require.NoError(t, err)
	var got struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "drying", got.Status)
	assert.Equal(t, 50, got.Progress)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, buf.String(), `laundry_status_changes_total{kind="set",status="drying"} 1`)
	assert.Contains(t, buf.String(), `laundry_orders_created_total{result="created"} 1`)
}
