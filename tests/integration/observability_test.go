// Package integration contains integration tests for the observability service.
//
//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

func serverURL() string {
	if addr := os.Getenv("NAXOS_OBSERVABILITY_URL"); addr != "" {
		return addr
	}
	return "http://localhost:8080"
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func doRequest(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL()+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return resp.StatusCode, decoded
}

func newTraceID(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("it-trace-%d", time.Now().UnixNano())
}

func TestObservability_Health(t *testing.T) {
	status, body := doRequest(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK {
		t.Fatalf("health status = %d, want %d", status, http.StatusOK)
	}
	t.Logf("observability health: %v", body["status"])
}

func TestObservability_IngestAndGetTrace(t *testing.T) {
	traceID := newTraceID(t)
	started := time.Now().UTC().Add(-time.Minute)

	status, body := doRequest(t, http.MethodPost, "/traces/spans", map[string]any{
		"spans": []map[string]any{
			{
				"traceId":   traceID,
				"spanId":    "root",
				"name":      "agent-run",
				"spanType":  "AGENT_RUN",
				"startedAt": started.Format(time.RFC3339Nano),
			},
			{
				"traceId":      traceID,
				"spanId":       "child",
				"parentSpanId": "root",
				"name":         "tool-call",
				"spanType":     "TOOL_CALL",
				"startedAt":    started.Add(time.Second).Format(time.RFC3339Nano),
				"endedAt":      started.Add(2 * time.Second).Format(time.RFC3339Nano),
			},
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("ingest status = %d, want %d (body: %v)", status, http.StatusCreated, body)
	}

	status, body = doRequest(t, http.MethodGet, "/traces/"+traceID, nil)
	if status != http.StatusOK {
		t.Fatalf("get trace status = %d, want %d", status, http.StatusOK)
	}
	spans, ok := body["spans"].([]any)
	if !ok || len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %v", body["spans"])
	}
	root := spans[0].(map[string]any)
	if root["spanId"] != "root" {
		t.Errorf("first span = %v, want root (startedAt ascending)", root["spanId"])
	}
	if root["status"] != "running" {
		t.Errorf("root status = %v, want running", root["status"])
	}
}

func TestObservability_ListTracesWithFilters(t *testing.T) {
	traceID := newTraceID(t)
	started := time.Now().UTC().Add(-time.Minute)

	status, _ := doRequest(t, http.MethodPost, "/traces/spans", map[string]any{
		"spans": []map[string]any{
			{
				"traceId":     traceID,
				"spanId":      "root",
				"name":        "integration-list",
				"spanType":    "WORKFLOW_RUN",
				"environment": "integration",
				"startedAt":   started.Format(time.RFC3339Nano),
			},
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("ingest status = %d", status)
	}

	status, body := doRequest(t, http.MethodGet, "/traces?spanType=WORKFLOW_RUN&environment=integration&perPage=50", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d, want %d", status, http.StatusOK)
	}
	spans, ok := body["spans"].([]any)
	if !ok {
		t.Fatalf("expected spans array, got %v", body["spans"])
	}
	found := false
	for _, s := range spans {
		if s.(map[string]any)["traceId"] == traceID {
			found = true
		}
	}
	if !found {
		t.Errorf("trace %s not found in filtered list", traceID)
	}
}

func TestObservability_ListTracesBadQuery(t *testing.T) {
	status, body := doRequest(t, http.MethodGet, "/traces?page=abc&spanType=BOGUS", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad query status = %d, want %d", status, http.StatusBadRequest)
	}
	details, ok := body["details"].([]any)
	if !ok || len(details) != 2 {
		t.Errorf("expected 2 validation details, got %v", body["details"])
	}
}

func TestObservability_UpdateSpans(t *testing.T) {
	traceID := newTraceID(t)
	started := time.Now().UTC().Add(-time.Minute)

	status, _ := doRequest(t, http.MethodPost, "/traces/spans", map[string]any{
		"spans": []map[string]any{
			{
				"traceId":   traceID,
				"spanId":    "root",
				"name":      "to-update",
				"spanType":  "GENERIC",
				"startedAt": started.Format(time.RFC3339Nano),
			},
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("ingest status = %d", status)
	}

	ended := started.Add(5 * time.Second)
	status, _ = doRequest(t, http.MethodPatch, "/traces/spans", map[string]any{
		"records": []map[string]any{
			{
				"traceId": traceID,
				"spanId":  "root",
				"updates": map[string]any{
					"endedAt": ended.Format(time.RFC3339Nano),
				},
			},
		},
	})
	if status != http.StatusOK {
		t.Fatalf("update status = %d, want %d", status, http.StatusOK)
	}

	status, body := doRequest(t, http.MethodGet, "/traces/"+traceID, nil)
	if status != http.StatusOK {
		t.Fatalf("get trace status = %d", status)
	}
	spans := body["spans"].([]any)
	if got := spans[0].(map[string]any)["status"]; got != "success" {
		t.Errorf("status after update = %v, want success", got)
	}
}

func TestObservability_ScoreAndListScores(t *testing.T) {
	traceID := newTraceID(t)
	started := time.Now().UTC().Add(-time.Minute)

	status, _ := doRequest(t, http.MethodPost, "/traces/spans", map[string]any{
		"spans": []map[string]any{
			{
				"traceId":   traceID,
				"spanId":    "root",
				"name":      "to-score",
				"spanType":  "AGENT_RUN",
				"startedAt": started.Format(time.RFC3339Nano),
				"endedAt":   started.Add(time.Second).Format(time.RFC3339Nano),
			},
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("ingest status = %d", status)
	}

	status, body := doRequest(t, http.MethodPost, "/traces/score", map[string]any{
		"scorerName": "error-rate",
		"targets":    []map[string]any{{"traceId": traceID}},
	})
	if status != http.StatusOK {
		t.Fatalf("score status = %d, want %d (body: %v)", status, http.StatusOK, body)
	}
	if body["status"] != "queued" {
		t.Errorf("score response status = %v, want queued", body["status"])
	}

	// Scoring runs asynchronously; poll briefly for the result.
	deadline := time.Now().Add(10 * time.Second)
	for {
		status, body = doRequest(t, http.MethodGet, "/traces/"+traceID+"/root/scores", nil)
		if status != http.StatusOK {
			t.Fatalf("list scores status = %d", status)
		}
		scores, _ := body["scores"].([]any)
		if len(scores) > 0 {
			score := scores[0].(map[string]any)
			if score["scorerName"] != "error-rate" {
				t.Errorf("scorerName = %v, want error-rate", score["scorerName"])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for score to be recorded")
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func TestObservability_DeleteTraces(t *testing.T) {
	traceID := newTraceID(t)
	started := time.Now().UTC()

	status, _ := doRequest(t, http.MethodPost, "/traces/spans", map[string]any{
		"spans": []map[string]any{
			{
				"traceId":   traceID,
				"spanId":    "root",
				"name":      "to-delete",
				"spanType":  "GENERIC",
				"startedAt": started.Format(time.RFC3339Nano),
			},
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("ingest status = %d", status)
	}

	status, _ = doRequest(t, http.MethodDelete, "/traces", map[string]any{
		"traceIds": []string{traceID},
	})
	if status != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", status, http.StatusOK)
	}

	status, _ = doRequest(t, http.MethodGet, "/traces/"+traceID, nil)
	if status != http.StatusNotFound {
		t.Errorf("get deleted trace status = %d, want %d", status, http.StatusNotFound)
	}
}
