package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func makeSpan(traceID, spanID string, parent *string, started time.Time) *SpanRecord {
	return &SpanRecord{
		TraceID:      traceID,
		SpanID:       spanID,
		ParentSpanID: parent,
		Name:         spanID,
		SpanType:     SpanTypeGeneric,
		StartedAt:    started,
	}
}

func TestMemoryStore_CreateAndGetTrace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	root := makeSpan("trace-1", "span-root", nil, base)
	root.SpanType = SpanTypeAgentRun
	child := makeSpan("trace-1", "span-child", strPtr("span-root"), base.Add(time.Second))
	child.SpanType = SpanTypeToolCall

	if err := store.CreateSpan(ctx, root); err != nil {
		t.Fatalf("failed to create root span: %v", err)
	}
	if err := store.CreateSpan(ctx, child); err != nil {
		t.Fatalf("failed to create child span: %v", err)
	}

	trace, err := store.GetTrace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("failed to get trace: %v", err)
	}
	if len(trace.Spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(trace.Spans))
	}
	if trace.Spans[0].SpanID != "span-root" {
		t.Errorf("expected spans ordered by start time, got %s first", trace.Spans[0].SpanID)
	}
	if rootSpan := trace.RootSpan(); rootSpan == nil || rootSpan.SpanID != "span-root" {
		t.Error("expected span-root as the trace root")
	}
}

func TestMemoryStore_CreateSpanValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.CreateSpan(ctx, &SpanRecord{})
	if err == nil {
		t.Fatal("expected validation error for empty span")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("expected 2 field errors, got %d", len(verr.Errors))
	}
}

func TestMemoryStore_CreateDuplicateSpan(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	span := makeSpan("trace-1", "span-1", nil, time.Now())

	if err := store.CreateSpan(ctx, span); err != nil {
		t.Fatalf("failed to create span: %v", err)
	}
	if err := store.CreateSpan(ctx, span); err == nil {
		t.Fatal("expected error for duplicate span")
	}
}

func TestMemoryStore_CreateSpanStoresCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	span := makeSpan("trace-1", "span-1", nil, time.Now())
	span.Tags = []string{"original"}
	if err := store.CreateSpan(ctx, span); err != nil {
		t.Fatalf("failed to create span: %v", err)
	}

	// Mutating the caller's span must not affect stored state.
	span.Tags[0] = "mutated"

	trace, err := store.GetTrace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("failed to get trace: %v", err)
	}
	if trace.Spans[0].Tags[0] != "original" {
		t.Error("stored span was mutated through caller's reference")
	}
}

func TestMemoryStore_UpdateSpanStoresCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateSpan(ctx, makeSpan("trace-1", "span-1", nil, time.Now())); err != nil {
		t.Fatalf("failed to create span: %v", err)
	}

	details := MapOf("code", "TIMEOUT")
	err := store.UpdateSpan(ctx, UpdateSpanArg{
		TraceID: "trace-1",
		SpanID:  "span-1",
		Updates: SpanUpdate{Error: &SpanError{Message: "boom", Details: details}},
	})
	if err != nil {
		t.Fatalf("failed to update span: %v", err)
	}

	// Mutating the caller's details map must not affect stored state.
	details.Set("code", StringValue("mutated"))

	trace, err := store.GetTrace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("failed to get trace: %v", err)
	}
	got, ok := trace.Spans[0].Error.Details.Get("code")
	if !ok {
		t.Fatal("stored error details missing code key")
	}
	if s, _ := got.AsString(); s != "TIMEOUT" {
		t.Errorf("stored error details = %q, want TIMEOUT", s)
	}
}

func TestMemoryStore_GetNonexistentTrace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetTrace(ctx, "nonexistent")
	if err == nil {
		t.Fatal("expected error for nonexistent trace")
	}

	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
}

func TestMemoryStore_BatchCreateBestEffort(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	spans := []*SpanRecord{
		makeSpan("trace-1", "span-1", nil, base),
		{TraceID: "trace-1"}, // missing spanId
		makeSpan("trace-2", "span-1", nil, base),
	}

	err := store.BatchCreateSpans(ctx, spans)
	if err == nil {
		t.Fatal("expected error from batch with invalid element")
	}

	// Valid elements must survive the failing one.
	if store.Len() != 2 {
		t.Errorf("expected 2 stored spans, got %d", store.Len())
	}
}

func seedAgentToolStore(t *testing.T, store *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	agent1 := makeSpan("trace-1", "root", nil, base)
	agent1.SpanType = SpanTypeAgentRun
	agent2 := makeSpan("trace-2", "root", nil, base.Add(time.Minute))
	agent2.SpanType = SpanTypeAgentRun
	tool := makeSpan("trace-3", "root", nil, base.Add(2*time.Minute))
	tool.SpanType = SpanTypeToolCall

	for _, span := range []*SpanRecord{agent1, agent2, tool} {
		if err := store.CreateSpan(ctx, span); err != nil {
			t.Fatalf("failed to seed span: %v", err)
		}
	}
}

func TestMemoryStore_ListFilterBySpanType(t *testing.T) {
	store := NewMemoryStore()
	seedAgentToolStore(t, store)

	spanType := SpanTypeAgentRun
	page, err := store.GetTracesPaginated(context.Background(), TracesPaginatedArg{
		Filters: &TraceFilters{SpanType: &spanType},
	})
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}

	if page.Pagination.Total != 2 {
		t.Errorf("expected total 2, got %d", page.Pagination.Total)
	}
	if len(page.Spans) != 2 {
		t.Errorf("expected 2 spans, got %d", len(page.Spans))
	}
	if page.Pagination.HasMore {
		t.Error("expected hasMore=false")
	}
}

func TestMemoryStore_ListFilterByName(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	weather := makeSpan("trace-1", "root", nil, base)
	weather.Name = "fetch-weather"
	summarize := makeSpan("trace-2", "root", nil, base.Add(time.Minute))
	summarize.Name = "summarize"
	for _, span := range []*SpanRecord{weather, summarize} {
		if err := store.CreateSpan(ctx, span); err != nil {
			t.Fatalf("failed to create span: %v", err)
		}
	}

	name := "fetch-weather"
	page, err := store.GetTracesPaginated(ctx, TracesPaginatedArg{
		Filters: &TraceFilters{Name: &name},
	})
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if page.Pagination.Total != 1 {
		t.Errorf("expected total 1, got %d", page.Pagination.Total)
	}
	if len(page.Spans) != 1 || page.Spans[0].TraceID != "trace-1" {
		t.Fatalf("expected only trace-1, got %d spans", len(page.Spans))
	}
}

func TestMemoryStore_ListReturnsRootsOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	root := makeSpan("trace-1", "root", nil, base)
	child := makeSpan("trace-1", "child", strPtr("root"), base.Add(time.Second))
	for _, span := range []*SpanRecord{root, child} {
		if err := store.CreateSpan(ctx, span); err != nil {
			t.Fatalf("failed to create span: %v", err)
		}
	}

	page, err := store.GetTracesPaginated(ctx, TracesPaginatedArg{})
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(page.Spans) != 1 || page.Spans[0].SpanID != "root" {
		t.Fatalf("expected only the root span, got %d spans", len(page.Spans))
	}
}

func TestMemoryStore_ListDefaultOrderNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	seedAgentToolStore(t, store)

	page, err := store.GetTracesPaginated(context.Background(), TracesPaginatedArg{})
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(page.Spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(page.Spans))
	}
	if page.Spans[0].TraceID != "trace-3" || page.Spans[2].TraceID != "trace-1" {
		t.Errorf("expected newest-first ordering, got %s ... %s",
			page.Spans[0].TraceID, page.Spans[2].TraceID)
	}
}

func TestMemoryStore_ListPagination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		span := makeSpan("trace-"+string(rune('a'+i)), "root", nil, base.Add(time.Duration(i)*time.Second))
		if err := store.CreateSpan(ctx, span); err != nil {
			t.Fatalf("failed to seed span: %v", err)
		}
	}

	for pageNum := 0; pageNum < 3; pageNum++ {
		page, err := store.GetTracesPaginated(ctx, TracesPaginatedArg{
			Pagination: &PaginationArgs{Page: pageNum, PerPage: 2},
		})
		if err != nil {
			t.Fatalf("failed to list page %d: %v", pageNum, err)
		}
		if page.Pagination.Total != 5 {
			t.Errorf("page %d: expected total 5, got %d", pageNum, page.Pagination.Total)
		}
		if len(page.Spans) > 2 {
			t.Errorf("page %d: expected at most 2 spans, got %d", pageNum, len(page.Spans))
		}
		wantHasMore := (pageNum+1)*2 < 5
		if page.Pagination.HasMore != wantHasMore {
			t.Errorf("page %d: expected hasMore=%v, got %v", pageNum, wantHasMore, page.Pagination.HasMore)
		}
	}
}

func TestMemoryStore_ListFilterByTags(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	tagged := makeSpan("trace-1", "root", nil, base)
	tagged.Tags = []string{"prod", "batch"}
	other := makeSpan("trace-2", "root", nil, base)
	other.Tags = []string{"dev"}
	for _, span := range []*SpanRecord{tagged, other} {
		if err := store.CreateSpan(ctx, span); err != nil {
			t.Fatalf("failed to seed span: %v", err)
		}
	}

	// Tag filtering matches any requested tag.
	page, err := store.GetTracesPaginated(ctx, TracesPaginatedArg{
		Filters: &TraceFilters{Tags: []string{"batch", "missing"}},
	})
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(page.Spans) != 1 || page.Spans[0].TraceID != "trace-1" {
		t.Fatalf("expected only trace-1, got %d spans", len(page.Spans))
	}
}

func TestMemoryStore_ListFilterByMetadataSubset(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	span := makeSpan("trace-1", "root", nil, time.Now())
	span.Metadata = MapOf("env", "prod", "region", "us-east")
	if err := store.CreateSpan(ctx, span); err != nil {
		t.Fatalf("failed to seed span: %v", err)
	}

	page, err := store.GetTracesPaginated(ctx, TracesPaginatedArg{
		Filters: &TraceFilters{Metadata: MapOf("env", "prod")},
	})
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(page.Spans) != 1 {
		t.Fatalf("expected metadata subset match, got %d spans", len(page.Spans))
	}

	page, err = store.GetTracesPaginated(ctx, TracesPaginatedArg{
		Filters: &TraceFilters{Metadata: MapOf("env", "dev")},
	})
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(page.Spans) != 0 {
		t.Fatalf("expected no matches, got %d spans", len(page.Spans))
	}
}

func TestMemoryStore_ListFilterByStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	running := makeSpan("trace-1", "root", nil, base)
	done := makeSpan("trace-2", "root", nil, base)
	done.EndedAt = timePtr(base.Add(time.Second))
	failed := makeSpan("trace-3", "root", nil, base)
	failed.EndedAt = timePtr(base.Add(time.Second))
	failed.Error = &SpanError{Message: "boom"}
	for _, span := range []*SpanRecord{running, done, failed} {
		if err := store.CreateSpan(ctx, span); err != nil {
			t.Fatalf("failed to seed span: %v", err)
		}
	}

	for _, tc := range []struct {
		status SpanStatus
		want   string
	}{
		{StatusRunning, "trace-1"},
		{StatusSuccess, "trace-2"},
		{StatusError, "trace-3"},
	} {
		status := tc.status
		page, err := store.GetTracesPaginated(ctx, TracesPaginatedArg{
			Filters: &TraceFilters{Status: &status},
		})
		if err != nil {
			t.Fatalf("failed to list %s traces: %v", status, err)
		}
		if len(page.Spans) != 1 || page.Spans[0].TraceID != tc.want {
			t.Errorf("status %s: expected %s, got %d spans", status, tc.want, len(page.Spans))
		}
	}
}

func TestMemoryStore_ListFilterByChildError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	okRoot := makeSpan("trace-ok", "root", nil, base)
	okChild := makeSpan("trace-ok", "child", strPtr("root"), base.Add(time.Second))
	badRoot := makeSpan("trace-bad", "root", nil, base)
	badChild := makeSpan("trace-bad", "child", strPtr("root"), base.Add(time.Second))
	badChild.Error = &SpanError{Message: "tool failed"}
	for _, span := range []*SpanRecord{okRoot, okChild, badRoot, badChild} {
		if err := store.CreateSpan(ctx, span); err != nil {
			t.Fatalf("failed to seed span: %v", err)
		}
	}

	hasChildError := true
	page, err := store.GetTracesPaginated(ctx, TracesPaginatedArg{
		Filters: &TraceFilters{HasChildError: &hasChildError},
	})
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(page.Spans) != 1 || page.Spans[0].TraceID != "trace-bad" {
		t.Fatalf("expected only trace-bad, got %d spans", len(page.Spans))
	}
}

func TestMemoryStore_ListDateRange(t *testing.T) {
	store := NewMemoryStore()
	seedAgentToolStore(t, store)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	start := base.Add(30 * time.Second)
	end := base.Add(90 * time.Second)
	page, err := store.GetTracesPaginated(context.Background(), TracesPaginatedArg{
		Pagination: &PaginationArgs{DateRange: &DateRange{Start: &start, End: &end}},
	})
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(page.Spans) != 1 || page.Spans[0].TraceID != "trace-2" {
		t.Fatalf("expected only trace-2 in range, got %d spans", len(page.Spans))
	}
}

func TestMemoryStore_UpdateSpan(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	span := makeSpan("trace-1", "span-1", nil, time.Now())
	if err := store.CreateSpan(ctx, span); err != nil {
		t.Fatalf("failed to create span: %v", err)
	}

	endedAt := time.Now().Add(time.Second)
	err := store.UpdateSpan(ctx, UpdateSpanArg{
		TraceID: "trace-1",
		SpanID:  "span-1",
		Updates: SpanUpdate{
			Name:    strPtr("renamed"),
			EndedAt: &endedAt,
			Error:   &SpanError{Message: "timeout"},
		},
	})
	if err != nil {
		t.Fatalf("failed to update span: %v", err)
	}

	trace, _ := store.GetTrace(ctx, "trace-1")
	got := trace.Spans[0]
	if got.Name != "renamed" {
		t.Errorf("expected name 'renamed', got %q", got.Name)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(endedAt) {
		t.Error("expected endedAt to be set")
	}
	if got.Status() != StatusError {
		t.Errorf("expected error status, got %s", got.Status())
	}
}

func TestMemoryStore_UpdateNonexistentSpan(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	span := makeSpan("trace-1", "span-1", nil, time.Now())
	if err := store.CreateSpan(ctx, span); err != nil {
		t.Fatalf("failed to create span: %v", err)
	}

	err := store.UpdateSpan(ctx, UpdateSpanArg{
		TraceID: "trace-1",
		SpanID:  "missing",
		Updates: SpanUpdate{Name: strPtr("renamed")},
	})
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}

	// Failed update must leave existing spans untouched.
	trace, _ := store.GetTrace(ctx, "trace-1")
	if trace.Spans[0].Name != "span-1" {
		t.Error("existing span was modified by failed update")
	}
}

func TestMemoryStore_BatchDeleteTraces(t *testing.T) {
	store := NewMemoryStore()
	seedAgentToolStore(t, store)
	ctx := context.Background()

	if err := store.BatchDeleteTraces(ctx, []string{"trace-1", "trace-3", "unknown"}); err != nil {
		t.Fatalf("failed to delete traces: %v", err)
	}

	if _, err := store.GetTrace(ctx, "trace-1"); err == nil {
		t.Error("expected trace-1 to be deleted")
	}
	if _, err := store.GetTrace(ctx, "trace-2"); err != nil {
		t.Errorf("expected trace-2 to survive: %v", err)
	}
}

func TestMemoryScoreStore_InsertAndList(t *testing.T) {
	store := NewMemoryScoreStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		score := &Score{
			ID:         string(rune('a' + i)),
			TraceID:    "trace-1",
			SpanID:     "span-1",
			ScorerName: "error-rate",
			Value:      float64(i) * 0.1,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := store.InsertScore(ctx, score); err != nil {
			t.Fatalf("failed to insert score: %v", err)
		}
	}

	page, err := store.ListScoresBySpan(ctx, "trace-1", "span-1", PaginationArgs{PerPage: 2})
	if err != nil {
		t.Fatalf("failed to list scores: %v", err)
	}
	if page.Pagination.Total != 3 {
		t.Errorf("expected total 3, got %d", page.Pagination.Total)
	}
	if len(page.Scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(page.Scores))
	}
	if page.Scores[0].ID != "c" {
		t.Errorf("expected newest score first, got %s", page.Scores[0].ID)
	}
	if !page.Pagination.HasMore {
		t.Error("expected hasMore=true")
	}
}
