// Package moco is the outbound client for the Moco finance system:
// customer records, offers and invoices created from won deals. All calls
// run through a retrying HTTP client and a circuit breaker so a finance
// outage degrades to queued retries instead of cascading into the workers.
package moco

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/httpretry"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
)

// Customer is a Moco company record.
type Customer struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Country string `json:"country_code,omitempty"`
	Email   string `json:"email,omitempty"`
	VAT     string `json:"vat_identifier,omitempty"`
}

// OfferItem is one line of an offer.
type OfferItem struct {
	Title    string  `json:"title"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Price    float64 `json:"unit_price"`
}

// Offer is a Moco offer tied to a customer.
type Offer struct {
	ID         int64   `json:"id"`
	CustomerID int64   `json:"customer_id"`
	Title      string  `json:"title"`
	Value      float64 `json:"value"`
	Currency   string  `json:"currency"`
	Status     string  `json:"status"`
}

// Invoice is a Moco invoice created from an accepted offer.
type Invoice struct {
	ID      int64  `json:"id"`
	OfferID int64  `json:"offer_id"`
	Status  string `json:"status"`
}

// Client talks to the Moco REST API. When the config disables Moco every
// call fails with a downstream_rejected error so sync jobs park in the
// failed list instead of pretending success.
type Client struct {
	cfg     config.MocoConfig
	baseURL string
	http    httpretry.HTTPDoer
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a Moco client from the config.
func NewClient(cfg config.MocoConfig) *Client {
	return &Client{
		cfg:     cfg,
		baseURL: fmt.Sprintf("https://%s.mocoapp.com/api/v1", cfg.Subdomain),
		http:    httpretry.NewRetryClient(nil, 3),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "moco",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("moco breaker state change", "from", from.String(), "to", to.String())
			},
		}),
	}
}

// SetHTTPDoer overrides the transport for tests.
func (c *Client) SetHTTPDoer(d httpretry.HTTPDoer) { c.http = d }

// SetBaseURL points the client at a test server.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// CreateCustomer registers a company in Moco and returns its id.
func (c *Client) CreateCustomer(ctx context.Context, name, country, email string) (*Customer, error) {
	payload := map[string]any{
		"name":         name,
		"type":         "organization",
		"country_code": country,
		"email":        email,
	}
	var out Customer
	if err := c.call(ctx, http.MethodPost, "/companies", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOffer creates an offer for a customer with the given line items.
func (c *Client) CreateOffer(ctx context.Context, customerID int64, title string, value float64, currency string, items []OfferItem) (*Offer, error) {
	if currency == "" {
		currency = "EUR"
	}
	payload := map[string]any{
		"customer_id": customerID,
		"title":       title,
		"currency":    currency,
		"items":       items,
	}
	var out Offer
	if err := c.call(ctx, http.MethodPost, "/offers", payload, &out); err != nil {
		return nil, err
	}
	if out.Value == 0 {
		out.Value = value
	}
	return &out, nil
}

// CreateInvoiceFromOffer converts an accepted offer into an invoice.
func (c *Client) CreateInvoiceFromOffer(ctx context.Context, offerID int64) (*Invoice, error) {
	payload := map[string]any{"offer_id": offerID}
	var out Invoice
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/offers/%d/invoice", offerID), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call runs one API request through the breaker and decodes the response.
func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	if !c.cfg.Enabled {
		return apperr.New(apperr.CodeDownstreamRejected, "moco sync disabled")
	}

	_, err := c.breaker.Execute(func() (any, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeValidation, err, "encode moco payload")
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeValidation, err, "build moco request")
		}
		req.Header.Set("Authorization", "Token token="+c.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeTransientIO, err, "moco %s %s", method, path)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			// 4xx other than 429 means the payload is wrong; retrying the
			// same job cannot fix it.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, apperr.New(apperr.CodeDownstreamRejected, "moco %s %s: %d %s", method, path, resp.StatusCode, string(data))
			}
			return nil, apperr.New(apperr.CodeTransientIO, "moco %s %s: %d %s", method, path, resp.StatusCode, string(data))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, apperr.Wrap(apperr.CodeTransientIO, err, "decode moco response")
			}
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.Wrap(apperr.CodeTransientIO, err, "moco circuit open")
	}
	return err
}
