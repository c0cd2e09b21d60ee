package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/extractor"
)

func TestClient_AuthenticateAndQuote(t *testing.T) {
	var loginCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&loginCalls, 1)
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "svc", creds["user"])
		json.NewEncoder(w).Encode(map[string]interface{}{"token": "sess-1", "expires_in": 600})
	})
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sess-1", r.Header.Get("Authorization"))
		var q extractor.StructuredQuote
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, 1000, q.Quantity)
		json.NewEncoder(w).Encode(PriceResult{Price: 12.5, Currency: "EUR", ValidDays: 30, Reference: "Q-77"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, "svc", "secret", 5*time.Second)
	ctx := context.Background()

	token, err := client.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", token)

	// Token is cached
	_, err = client.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loginCalls))

	result, err := client.Quote(ctx, token, &extractor.StructuredQuote{Material: "steel", Quantity: 1000})
	require.NoError(t, err)
	assert.Equal(t, 12.5, result.Price)
	assert.Equal(t, "Q-77", result.Reference)
}

func TestClient_Authenticate_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "svc", "bad", 5*time.Second)

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestClient_Quote_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "svc", "secret", 5*time.Second)

	_, err := client.Quote(context.Background(), "tok", &extractor.StructuredQuote{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}
