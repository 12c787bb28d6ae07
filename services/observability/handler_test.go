package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instantcocoa/naxos/pkg/testutil"
)

type handlerFixture struct {
	server  *httptest.Server
	trigger *ScoringTrigger
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store := NewMemoryStore()
	scores := NewMemoryScoreStore()
	registry := NewScorerRegistry()
	registry.Register(ErrorRateScorer{})
	logger := testutil.DiscardLogger()
	trigger := NewScoringTrigger(store, scores, registry, logger)
	svc := NewService(store, scores, trigger, logger)

	router := chi.NewRouter()
	NewHandler(svc, logger).Register(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &handlerFixture{server: server, trigger: trigger}
}

func (f *handlerFixture) request(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (f *handlerFixture) createSpans(t *testing.T, spans ...*SpanRecord) {
	t.Helper()
	resp, _ := f.request(t, http.MethodPost, "/traces/spans", map[string]any{"spans": spans})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHandler_Health(t *testing.T) {
	f := newHandlerFixture(t)

	resp, body := f.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestHandler_IngestAndGetTrace(t *testing.T) {
	f := newHandlerFixture(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	root := makeSpan("trace-1", "root", nil, base)
	root.SpanType = SpanTypeAgentRun
	child := makeSpan("trace-1", "child", strPtr("root"), base.Add(time.Second))
	child.EndedAt = timePtr(base.Add(2 * time.Second))
	f.createSpans(t, root, child)

	resp, body := f.request(t, http.MethodGet, "/traces/trace-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-1", body["traceId"])

	spans, ok := body["spans"].([]any)
	require.True(t, ok)
	require.Len(t, spans, 2)

	first := spans[0].(map[string]any)
	assert.Equal(t, "root", first["spanId"])
	assert.Equal(t, "running", first["status"])
	second := spans[1].(map[string]any)
	assert.Equal(t, "success", second["status"])
}

func TestHandler_GetTraceNotFound(t *testing.T) {
	f := newHandlerFixture(t)

	resp, body := f.request(t, http.MethodGet, "/traces/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "trace not found")
}

func TestHandler_ListTracesWithFilters(t *testing.T) {
	f := newHandlerFixture(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	agent := makeSpan("trace-1", "root", nil, base)
	agent.SpanType = SpanTypeAgentRun
	tool := makeSpan("trace-2", "root", nil, base.Add(time.Minute))
	tool.SpanType = SpanTypeToolCall
	f.createSpans(t, agent, tool)

	resp, body := f.request(t, http.MethodGet, "/traces?spanType=AGENT_RUN", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	spans := body["spans"].([]any)
	require.Len(t, spans, 1)
	assert.Equal(t, "trace-1", spans[0].(map[string]any)["traceId"])

	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, float64(1), pagination["total"])
	assert.Equal(t, false, pagination["hasMore"])
}

func TestHandler_ListTracesBadQuery(t *testing.T) {
	f := newHandlerFixture(t)

	resp, body := f.request(t, http.MethodGet, "/traces?page=abc&spanType=BOGUS", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Validation failed", body["error"])

	details := body["details"].([]any)
	require.Len(t, details, 2)
	assert.Equal(t, "filters.spanType", details[0].(map[string]any)["field"])
	assert.Equal(t, "pagination.page", details[1].(map[string]any)["field"])
}

func TestHandler_UpdateSpans(t *testing.T) {
	f := newHandlerFixture(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.createSpans(t, makeSpan("trace-1", "root", nil, base))

	endedAt := base.Add(5 * time.Second)
	resp, _ := f.request(t, http.MethodPatch, "/traces/spans", map[string]any{
		"records": []UpdateSpanArg{{
			TraceID: "trace-1",
			SpanID:  "root",
			Updates: SpanUpdate{EndedAt: &endedAt},
		}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := f.request(t, http.MethodGet, "/traces/trace-1", nil)
	span := body["spans"].([]any)[0].(map[string]any)
	assert.Equal(t, "success", span["status"])
}

func TestHandler_DeleteTraces(t *testing.T) {
	f := newHandlerFixture(t)
	f.createSpans(t, makeSpan("trace-1", "root", nil, time.Now()))

	resp, _ := f.request(t, http.MethodDelete, "/traces", map[string]any{
		"traceIds": []string{"trace-1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.request(t, http.MethodGet, "/traces/trace-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_ScoreTracesAndListScores(t *testing.T) {
	f := newHandlerFixture(t)
	f.createSpans(t, makeSpan("trace-1", "root", nil, time.Now()))

	resp, body := f.request(t, http.MethodPost, "/traces/score", map[string]any{
		"scorerName": "error-rate",
		"targets":    []ScoreTarget{{TraceID: "trace-1"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, float64(1), body["traceCount"])

	f.trigger.Wait()

	resp, body = f.request(t, http.MethodGet, "/traces/trace-1/root/scores", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	scores := body["scores"].([]any)
	require.Len(t, scores, 1)
	assert.Equal(t, "error-rate", scores[0].(map[string]any)["scorerName"])
}

func TestHandler_ScoreUnknownScorer(t *testing.T) {
	f := newHandlerFixture(t)

	resp, body := f.request(t, http.MethodPost, "/traces/score", map[string]any{
		"scorerName": "nope",
		"targets":    []ScoreTarget{{TraceID: "trace-1"}},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "scorer not found")
}

func TestHandler_ErrorStatusMapping(t *testing.T) {
	h := NewHandler(nil, testutil.DiscardLogger())

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &ValidationError{Errors: []FieldError{{Field: "spanId", Message: "is required"}}}, http.StatusBadRequest},
		{"not found", &NotFoundError{Resource: "trace", ID: "t1"}, http.StatusNotFound},
		{"unavailable", &UnavailableError{Backend: "postgres"}, http.StatusInternalServerError},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandler_ListTracesPagination(t *testing.T) {
	f := newHandlerFixture(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	spans := make([]*SpanRecord, 0, 5)
	for i := 0; i < 5; i++ {
		spans = append(spans, makeSpan(fmt.Sprintf("trace-%d", i), "root", nil, base.Add(time.Duration(i)*time.Minute)))
	}
	f.createSpans(t, spans...)

	resp, body := f.request(t, http.MethodGet, "/traces?page=1&perPage=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, float64(5), pagination["total"])
	assert.Equal(t, true, pagination["hasMore"])
	assert.Len(t, body["spans"].([]any), 2)
}
