package moco

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.MocoConfig{Enabled: true, Subdomain: "genomiq", APIKey: "test-key"})
	c.SetBaseURL(srv.URL)
	c.SetHTTPDoer(srv.Client())
	return c
}

func TestCreateCustomer(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/companies", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(Customer{ID: 4711, Name: "Helix Labs GmbH"})
	})

	cust, err := c.CreateCustomer(context.Background(), "Helix Labs GmbH", "DE", "billing@helix.example")
	require.NoError(t, err)
	assert.Equal(t, int64(4711), cust.ID)
	assert.Equal(t, "Token token=test-key", gotAuth)
	assert.Equal(t, "organization", gotPayload["type"])
	assert.Equal(t, "DE", gotPayload["country_code"])
}

func TestCreateOffer(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/offers", r.URL.Path)
		json.NewEncoder(w).Encode(Offer{ID: 99, CustomerID: 4711, Status: "created"})
	})

	offer, err := c.CreateOffer(context.Background(), 4711, "16S sequencing bundle", 4200, "",
		[]OfferItem{{Title: "16S sequencing bundle", Quantity: 1, Unit: "service", Price: 4200}})
	require.NoError(t, err)
	assert.Equal(t, int64(99), offer.ID)
	// The API omitted the value; the client backfills from the deal.
	assert.Equal(t, 4200.0, offer.Value)
}

func TestCreateInvoiceFromOffer(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/offers/99/invoice", r.URL.Path)
		json.NewEncoder(w).Encode(Invoice{ID: 500, OfferID: 99, Status: "draft"})
	})

	inv, err := c.CreateInvoiceFromOffer(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, int64(500), inv.ID)
}

func TestCall_DisabledRejects(t *testing.T) {
	c := NewClient(config.MocoConfig{Enabled: false})
	_, err := c.CreateCustomer(context.Background(), "X", "DE", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeDownstreamRejected, apperr.CodeOf(err))
	assert.False(t, apperr.Retryable(err))
}

func TestCall_ClientErrorIsPermanent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"name is missing"}`, http.StatusUnprocessableEntity)
	})

	_, err := c.CreateCustomer(context.Background(), "", "", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeDownstreamRejected, apperr.CodeOf(err))
}

func TestCall_ServerErrorIsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := c.CreateCustomer(context.Background(), "Helix", "DE", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeTransientIO, apperr.CodeOf(err))
	assert.True(t, apperr.Retryable(err))
}

func TestCall_RateLimitIsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := c.CreateInvoiceFromOffer(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeTransientIO, apperr.CodeOf(err))
}

func TestCall_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		_, err := c.CreateCustomer(context.Background(), "Helix", "DE", "")
		require.Error(t, err)
	}

	// Sixth call trips on the open breaker without reaching the server.
	_, err := c.CreateCustomer(context.Background(), "Helix", "DE", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeTransientIO, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "circuit open")
}
