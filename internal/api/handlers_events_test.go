package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genomiq/lead-engine/internal/queue"
)

type captureEnqueuer struct {
	events   []queue.EventJobPayload
	routings []queue.RoutingJobPayload
}

func (c *captureEnqueuer) EnqueueEvent(ctx context.Context, p queue.EventJobPayload) error {
	c.events = append(c.events, p)
	return nil
}

func (c *captureEnqueuer) EnqueueRouting(ctx context.Context, p queue.RoutingJobPayload) error {
	c.routings = append(c.routings, p)
	return nil
}

func validEventBody() string {
	return `{
		"event_type": "page_view",
		"source": "portal",
		"occurred_at": "2026-08-20T09:30:00Z",
		"lead_identifier": {"email": "ada@lab.example"},
		"metadata": {"path": "/pricing"}
	}`
}

func TestIngestEvent_Queues(t *testing.T) {
	enq := &captureEnqueuer{}
	h := &Handlers{enq: enq}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(validEventBody()))
	rec := httptest.NewRecorder()
	h.IngestEvent(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		EventID string `json:"event_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.EventID)

	require.Len(t, enq.events, 1)
	assert.Equal(t, "portal", enq.events[0].Source)
	assert.JSONEq(t, validEventBody(), string(enq.events[0].Body))
}

func TestIngestEvent_InvalidJSON(t *testing.T) {
	h := &Handlers{enq: &captureEnqueuer{}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(`{"event_type": `))
	rec := httptest.NewRecorder()
	h.IngestEvent(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestEvent_MissingFields(t *testing.T) {
	enq := &captureEnqueuer{}
	h := &Handlers{enq: enq}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events",
		bytes.NewBufferString(`{"event_type": "page_view"}`))
	rec := httptest.NewRecorder()
	h.IngestEvent(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, enq.events)
	assert.Contains(t, rec.Body.String(), "source is required")
	assert.Contains(t, rec.Body.String(), "lead_identifier")
}

func bulkBody(n int) string {
	events := make([]json.RawMessage, n)
	for i := range events {
		events[i] = json.RawMessage(validEventBody())
	}
	body, _ := json.Marshal(map[string]any{"events": events})
	return string(body)
}

func TestIngestBulk_QueuesAllUnderOneBatch(t *testing.T) {
	enq := &captureEnqueuer{}
	h := &Handlers{enq: enq}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/bulk", bytes.NewBufferString(bulkBody(3)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.IngestBulk(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		JobID       string `json:"job_id"`
		LeadsQueued int    `json:"leads_queued"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.LeadsQueued)
	assert.NotEmpty(t, resp.JobID)

	require.Len(t, enq.events, 3)
	for _, p := range enq.events {
		assert.Equal(t, resp.JobID, p.ImportBatchID)
	}
}

func TestIngestBulk_OneBadEventFailsBeforeAnyEnqueue(t *testing.T) {
	enq := &captureEnqueuer{}
	h := &Handlers{enq: enq}

	body, _ := json.Marshal(map[string]any{"events": []json.RawMessage{
		json.RawMessage(validEventBody()),
		json.RawMessage(`{"event_type": "page_view"}`), // missing source and identifier
	}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/bulk", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.IngestBulk(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, enq.events)
}

func TestIngestBulk_EmptyAndOversized(t *testing.T) {
	h := &Handlers{enq: &captureEnqueuer{}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/bulk", bytes.NewBufferString(`{"events": []}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.IngestBulk(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/events/bulk", bytes.NewBufferString(bulkBody(maxBulkEvents+1)))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.IngestBulk(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
