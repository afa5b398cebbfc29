package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/httputil"
)

// Ingest bodies are capped well above the bulk limit; anything larger is
// a misbehaving producer.
const maxIngestBody = 10 << 20

// VerifyWebhookSignature authenticates webhook producers. The signature
// is the hex SHA-256 HMAC of the raw body under the source's secret,
// carried in X-Webhook-Signature; X-Webhook-Source selects the secret.
// The body is re-buffered for the handler after verification.
func (h *Handlers) VerifyWebhookSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
		if err != nil {
			httputil.Error(w, apperr.Wrap(apperr.CodeValidation, err, "read request body"))
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		sig := r.Header.Get("X-Webhook-Signature")
		if sig == "" {
			httputil.Error(w, apperr.New(apperr.CodeUnauthorized, "missing webhook signature"))
			return
		}

		secret := h.secretFor(r.Header.Get("X-Webhook-Source"))
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		want := hex.EncodeToString(mac.Sum(nil))

		if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
			httputil.Error(w, apperr.New(apperr.CodeUnauthorized, "invalid webhook signature"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secretFor resolves the per-source secret, falling back to the shared
// webhook secret for unconfigured sources.
func (h *Handlers) secretFor(source string) string {
	if source != "" {
		if s, ok := h.sourceSecrets[source]; ok {
			return s
		}
	}
	return h.auth.WebhookSecret
}
