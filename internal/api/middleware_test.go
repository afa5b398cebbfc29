package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genomiq/lead-engine/internal/config"
)

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func authHandlers() *Handlers {
	auth := config.AuthConfig{
		WebhookSecret: "shared-webhook-secret",
		APIKeys:       []string{"portal-only-secret:portal"},
	}
	return &Handlers{auth: auth, sourceSecrets: auth.SourceSecrets()}
}

func TestVerifyWebhookSignature_ValidSharedSecret(t *testing.T) {
	h := authHandlers()
	body := `{"event_type":"page_view"}`

	var seenBody string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seenBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign("shared-webhook-secret", body))
	rec := httptest.NewRecorder()

	h.VerifyWebhookSignature(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	// The middleware consumed the body for verification; the handler must
	// still see it in full.
	assert.Equal(t, body, seenBody)
}

func TestVerifyWebhookSignature_PerSourceSecret(t *testing.T) {
	h := authHandlers()
	body := `{"event_type":"form_submit"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("X-Webhook-Source", "portal")
	req.Header.Set("X-Webhook-Signature", sign("portal-only-secret", body))
	rec := httptest.NewRecorder()

	called := false
	h.VerifyWebhookSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)
	assert.True(t, called)

	// The shared secret does not verify for a source with a dedicated key.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("X-Webhook-Source", "portal")
	req.Header.Set("X-Webhook-Signature", sign("shared-webhook-secret", body))
	rec = httptest.NewRecorder()

	h.VerifyWebhookSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run on signature mismatch")
	})).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyWebhookSignature_UnknownSourceFallsBackToShared(t *testing.T) {
	h := authHandlers()
	body := `{}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("X-Webhook-Source", "lemlist")
	req.Header.Set("X-Webhook-Signature", sign("shared-webhook-secret", body))
	rec := httptest.NewRecorder()

	called := false
	h.VerifyWebhookSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)
	assert.True(t, called)
}

func TestVerifyWebhookSignature_MissingSignature(t *testing.T) {
	h := authHandlers()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.VerifyWebhookSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a signature")
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyWebhookSignature_TamperedBody(t *testing.T) {
	h := authHandlers()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(`{"amount":9999}`))
	req.Header.Set("X-Webhook-Signature", sign("shared-webhook-secret", `{"amount":1}`))
	rec := httptest.NewRecorder()

	h.VerifyWebhookSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run on tampered body")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
