package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/internal/gateway"
	"github.com/systmms/akv/internal/metrics"
	"github.com/systmms/akv/tests/fakes"
)

type payload struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

func TestGatewayGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/secrets/api-key/v2", r.URL.Path)
		assert.Equal(t, "7.4", r.URL.Query().Get("api-version"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"https://v/secrets/api-key/v2","value":"secret123"}`)
	}))
	defer srv.Close()

	gw := gateway.New(&fakes.FakeTokenProvider{Header: "Bearer test-token"}, nil)

	var out payload
	require.NoError(t, gw.Get(context.Background(), srv.URL+"/secrets/api-key/v2", &out))
	assert.Equal(t, "secret123", out.Value)
}

func TestGatewayKeepsContinuationQuery(t *testing.T) {
	t.Parallel()

	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"value":[]}`)
	}))
	defer srv.Close()

	gw := gateway.New(&fakes.FakeTokenProvider{Header: "Bearer t"}, &gateway.Options{APIVersion: "7.5"})

	next := srv.URL + "/secrets?api-version=7.4&$skiptoken=eyJOZXh0TWFya2VyIjoiMiJ9&maxresults=25"
	require.NoError(t, gw.Get(context.Background(), next, nil))
	assert.Equal(t, "api-version=7.4&$skiptoken=eyJOZXh0TWFya2VyIjoiMiJ9&maxresults=25", rawQuery)

	require.NoError(t, gw.Get(context.Background(), srv.URL+"/secrets", nil))
	assert.Equal(t, "api-version=7.5", rawQuery)
}

func TestGatewayPost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"value": "hunter2"}, body)

		_, _ = io.WriteString(w, `{"id":"https://v/secrets/db-pass/abc","value":"hunter2"}`)
	}))
	defer srv.Close()

	gw := gateway.New(&fakes.FakeTokenProvider{Header: "Bearer t"}, nil)

	var out payload
	require.NoError(t, gw.Post(context.Background(), srv.URL+"/secrets/db-pass", map[string]string{"value": "hunter2"}, &out))
	assert.Equal(t, "https://v/secrets/db-pass/abc", out.ID)
}

func TestGatewayNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"SecretNotFound","message":"A secret with (name/id) missing was not found in this key vault."}}`)
	}))
	defer srv.Close()

	gw := gateway.New(&fakes.FakeTokenProvider{Header: "Bearer t"}, nil)

	err := gw.Get(context.Background(), srv.URL+"/secrets/missing/", &payload{})
	require.Error(t, err)
	assert.True(t, dserrors.IsTransport(err))
	assert.Equal(t, http.StatusNotFound, dserrors.StatusCode(err))
}

func TestGatewayMalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":`)
	}))
	defer srv.Close()

	gw := gateway.New(&fakes.FakeTokenProvider{Header: "Bearer t"}, nil)

	err := gw.Get(context.Background(), srv.URL+"/secrets/x/", &payload{})
	require.Error(t, err)
	assert.True(t, dserrors.IsTransport(err))
	assert.Contains(t, err.Error(), "decode response")
}

func TestGatewayAuthFailureSkipsNetwork(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	tokens := &fakes.FakeTokenProvider{Err: dserrors.Auth(errors.New("az not logged in"))}
	gw := gateway.New(tokens, nil)

	err := gw.Get(context.Background(), srv.URL+"/secrets", nil)
	require.Error(t, err)
	assert.True(t, dserrors.IsAuth(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestGatewayNoRetries(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gw := gateway.New(&fakes.FakeTokenProvider{Header: "Bearer t"}, nil)

	err := gw.Get(context.Background(), srv.URL+"/secrets", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, dserrors.StatusCode(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGatewayMetrics(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	gw := gateway.New(&fakes.FakeTokenProvider{Header: "Bearer t"}, &gateway.Options{Metrics: metrics.New(reg)})

	require.NoError(t, gw.Get(context.Background(), srv.URL+"/secrets", nil))

	count, err := testutil.GatherAndCount(reg, "akv_gateway_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
