// Package api provides an HTTP client for the observability service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/instantcocoa/naxos/services/observability"
)

// Client talks to the observability service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Span is a span as returned by the API, including its derived status.
type Span struct {
	observability.SpanRecord
	Status observability.SpanStatus `json:"status"`
}

// TracesResponse is the payload of a trace listing.
type TracesResponse struct {
	Spans      []Span                       `json:"spans"`
	Pagination observability.PaginationInfo `json:"pagination"`
}

// TraceResponse is the payload of a single trace lookup.
type TraceResponse struct {
	TraceID string `json:"traceId"`
	Spans   []Span `json:"spans"`
}

// ScoreResponse is the payload of a queued scoring request.
type ScoreResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	TraceCount int    `json:"traceCount"`
}

// ListTraces queries root spans. The filter argument is encoded with the
// bracket-notation query codec.
func (c *Client) ListTraces(ctx context.Context, arg observability.TracesPaginatedArg) (*TracesResponse, error) {
	url := c.baseURL + "/traces"
	if qs := observability.SerializeTraceQuery(&arg); qs != "" {
		url += "?" + qs
	}

	var resp TracesResponse
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTrace fetches all spans of one trace.
func (c *Client) GetTrace(ctx context.Context, traceID string) (*TraceResponse, error) {
	var resp TraceResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/traces/"+traceID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListScores fetches a page of scores for one span.
func (c *Client) ListScores(ctx context.Context, traceID, spanID string, page, perPage int) (*observability.ScoresPage, error) {
	url := fmt.Sprintf("%s/traces/%s/%s/scores", c.baseURL, traceID, spanID)
	qs := observability.SerializeTraceQuery(&observability.TracesPaginatedArg{
		Pagination: &observability.PaginationArgs{Page: page, PerPage: perPage},
	})
	if qs != "" {
		url += "?" + qs
	}

	var resp observability.ScoresPage
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteTraces removes the given traces and all of their spans.
func (c *Client) DeleteTraces(ctx context.Context, traceIDs []string) error {
	body := map[string]any{"traceIds": traceIDs}
	return c.do(ctx, http.MethodDelete, c.baseURL+"/traces", body, nil)
}

// ScoreTraces queues a scoring run for the given traces.
func (c *Client) ScoreTraces(ctx context.Context, scorerName string, targets []observability.ScoreTarget) (*ScoreResponse, error) {
	body := map[string]any{
		"scorerName": scorerName,
		"targets":    targets,
	}

	var resp ScoreResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/traces/score", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, url string, body, dest any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string                     `json:"error"`
			Details []observability.FieldError `json:"details"`
		}
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			if len(apiErr.Details) > 0 {
				return fmt.Errorf("%s: %+v", apiErr.Error, apiErr.Details)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if dest != nil {
		return json.NewDecoder(resp.Body).Decode(dest)
	}
	return nil
}
