package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderSettleAndReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/settlements":
			var body settleBody
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, MethodCard, body.Method)
			assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"reference":"ps_1","authorized":"2000","status":"pending"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/settlements/ps_1":
			_, _ = w.Write([]byte(`{"reference":"ps_1","authorized":"2000","status":"captured"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/settlements/ps_1/reversals":
			_, _ = w.Write([]byte(`{"reference":"ps_1","amount":"2000","reversed":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "key"})
	require.NoError(t, err)
	s := NewSettler(p, SettlerConfig{Timeout: time.Second, PollInterval: 5 * time.Millisecond}, nil, nil)
	ctx := context.Background()

	res, err := s.Settle(ctx, cardRequest(2000))
	require.NoError(t, err)
	assert.Equal(t, "ps_1", res.Reference)
	assert.Equal(t, StatusCaptured, res.Status)
	assert.True(t, res.Authorized.Equal(decimal.NewFromInt(2000)))

	rev, err := s.Reverse(ctx, res.Reference, res.Authorized)
	require.NoError(t, err)
	assert.True(t, rev.Reversed)
}

func TestHTTPProviderBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, FailureThreshold: 2, OpenTimeout: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Settle(ctx, cardRequest(100))
		require.Error(t, err)
	}
	_, err = p.Settle(ctx, cardRequest(100))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPProviderClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad amount", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{BaseURL: srv.URL, FailureThreshold: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := p.Settle(context.Background(), cardRequest(100))
		assert.ErrorIs(t, err, ErrProviderRejected)
	}
}

func TestNewHTTPProviderRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPProvider(HTTPConfig{})
	assert.Error(t, err)
}
