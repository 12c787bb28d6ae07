package observability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type spanKey struct {
	traceID string
	spanID  string
}

// MemoryStore is an in-memory Store implementation guarded by a RWMutex.
// All reads return deep copies so callers can never mutate stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	spans map[spanKey]*SpanRecord
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		spans: make(map[spanKey]*SpanRecord),
		now:   time.Now,
	}
}

func validateSpan(span *SpanRecord) error {
	verr := &ValidationError{}
	if span.TraceID == "" {
		verr.Add("traceId", "traceId is required")
	}
	if span.SpanID == "" {
		verr.Add("spanId", "spanId is required")
	}
	return verr.OrNil()
}

// CreateSpan stores a copy of span, stamping createdAt and updatedAt.
func (s *MemoryStore) CreateSpan(ctx context.Context, span *SpanRecord) error {
	if err := validateSpan(span); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := spanKey{traceID: span.TraceID, spanID: span.SpanID}
	if _, ok := s.spans[key]; ok {
		return validationf("spanId", "span %q already exists in trace %q", span.SpanID, span.TraceID)
	}

	stored := span.Clone()
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.spans[key] = stored
	return nil
}

// BatchCreateSpans inserts each span independently. Failures are collected
// and joined; successful inserts are kept.
func (s *MemoryStore) BatchCreateSpans(ctx context.Context, spans []*SpanRecord) error {
	var combined []error
	for i, span := range spans {
		if err := s.CreateSpan(ctx, span); err != nil {
			combined = appendIndexed(combined, "spans", i, err)
		}
	}
	return errors.Join(combined...)
}

func appendIndexed(combined []error, prefix string, i int, err error) []error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		indexed := &ValidationError{}
		for _, fe := range verr.Errors {
			indexed.Add(fmt.Sprintf("%s[%d].%s", prefix, i, fe.Field), fe.Message)
		}
		return append(combined, indexed)
	}
	return append(combined, fmt.Errorf("%s[%d]: %w", prefix, i, err))
}

// GetTrace returns all spans for traceID ordered by start time ascending.
func (s *MemoryStore) GetTrace(ctx context.Context, traceID string) (*TraceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var spans []*SpanRecord
	for key, span := range s.spans {
		if key.traceID == traceID {
			spans = append(spans, span.Clone())
		}
	}
	if len(spans) == 0 {
		return nil, &NotFoundError{Resource: "trace", ID: traceID}
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].StartedAt.Equal(spans[j].StartedAt) {
			return spans[i].SpanID < spans[j].SpanID
		}
		return spans[i].StartedAt.Before(spans[j].StartedAt)
	})
	return &TraceRecord{TraceID: traceID, Spans: spans}, nil
}

// GetTracesPaginated lists root spans matching arg.Filters, sliced to the
// requested page. Ordering defaults to startedAt descending.
func (s *MemoryStore) GetTracesPaginated(ctx context.Context, arg TracesPaginatedArg) (*TracesPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// hasChildError needs a per-trace view of non-root spans, so build it
	// only when that filter is set.
	var tracesWithChildError map[string]bool
	if arg.Filters != nil && arg.Filters.HasChildError != nil {
		tracesWithChildError = make(map[string]bool)
		for _, span := range s.spans {
			if !span.IsRoot() && span.Error != nil {
				tracesWithChildError[span.TraceID] = true
			}
		}
	}

	var roots []*SpanRecord
	for _, span := range s.spans {
		if !span.IsRoot() {
			continue
		}
		if arg.Pagination != nil && arg.Pagination.DateRange != nil && !arg.Pagination.DateRange.Contains(span.StartedAt) {
			continue
		}
		if !matchesFilters(span, arg.Filters, tracesWithChildError) {
			continue
		}
		roots = append(roots, span)
	}

	sortRoots(roots, arg.OrderBy)

	var p PaginationArgs
	if arg.Pagination != nil {
		p = *arg.Pagination
	}
	page, perPage := p.normalize()
	total := len(roots)
	start := page * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	spans := make([]*SpanRecord, 0, end-start)
	for _, span := range roots[start:end] {
		spans = append(spans, span.Clone())
	}

	return &TracesPage{
		Spans: spans,
		Pagination: PaginationInfo{
			Total:   total,
			Page:    page,
			PerPage: perPage,
			HasMore: end < total,
		},
	}, nil
}

func matchPtr[T comparable](want *T, got T) bool {
	return want == nil || *want == got
}

func matchOptPtr[T comparable](want *T, got *T) bool {
	if want == nil {
		return true
	}
	return got != nil && *want == *got
}

func hasAnyTag(span *SpanRecord, tags []string) bool {
	for _, want := range tags {
		for _, have := range span.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

func matchesFilters(span *SpanRecord, f *TraceFilters, tracesWithChildError map[string]bool) bool {
	if f == nil {
		return true
	}
	if !matchPtr(f.Name, span.Name) {
		return false
	}
	if f.SpanType != nil && *f.SpanType != span.SpanType {
		return false
	}
	if !matchOptPtr(f.EntityID, span.EntityID) ||
		!matchOptPtr(f.EntityName, span.EntityName) {
		return false
	}
	if f.EntityType != nil && (span.EntityType == nil || *f.EntityType != *span.EntityType) {
		return false
	}
	if !matchOptPtr(f.UserID, span.UserID) ||
		!matchOptPtr(f.OrganizationID, span.OrganizationID) ||
		!matchOptPtr(f.ResourceID, span.ResourceID) ||
		!matchOptPtr(f.RunID, span.RunID) ||
		!matchOptPtr(f.SessionID, span.SessionID) ||
		!matchOptPtr(f.ThreadID, span.ThreadID) ||
		!matchOptPtr(f.RequestID, span.RequestID) {
		return false
	}
	if !matchOptPtr(f.Environment, span.Environment) ||
		!matchOptPtr(f.Source, span.Source) ||
		!matchOptPtr(f.ServiceName, span.ServiceName) ||
		!matchOptPtr(f.DeploymentID, span.DeploymentID) {
		return false
	}
	if f.Status != nil && *f.Status != span.Status() {
		return false
	}
	if f.HasChildError != nil && *f.HasChildError != tracesWithChildError[span.TraceID] {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(span, f.Tags) {
		return false
	}
	if f.Metadata != nil && (span.Metadata == nil || !span.Metadata.ContainsAll(f.Metadata)) {
		return false
	}
	if f.Scope != nil && (span.Scope == nil || !span.Scope.ContainsAll(f.Scope)) {
		return false
	}
	if f.VersionInfo != nil && (span.VersionInfo == nil || !span.VersionInfo.ContainsAll(f.VersionInfo)) {
		return false
	}
	if f.EndedAt != nil {
		if span.EndedAt == nil || !f.EndedAt.Contains(*span.EndedAt) {
			return false
		}
	}
	return true
}

func sortRoots(roots []*SpanRecord, order *OrderBy) {
	field := OrderByStartedAt
	dir := OrderDesc
	if order != nil {
		if order.Field != "" {
			field = order.Field
		}
		if order.Direction != "" {
			dir = order.Direction
		}
	}

	key := func(span *SpanRecord) time.Time {
		switch field {
		case OrderByEndedAt:
			if span.EndedAt != nil {
				return *span.EndedAt
			}
			return time.Time{}
		case OrderByCreatedAt:
			return span.CreatedAt
		default:
			return span.StartedAt
		}
	}

	sort.Slice(roots, func(i, j int) bool {
		ti, tj := key(roots[i]), key(roots[j])
		if !ti.Equal(tj) {
			if dir == OrderAsc {
				return ti.Before(tj)
			}
			return ti.After(tj)
		}
		if roots[i].TraceID != roots[j].TraceID {
			return roots[i].TraceID < roots[j].TraceID
		}
		return roots[i].SpanID < roots[j].SpanID
	})
}

// UpdateSpan merges arg.Updates into the stored span.
func (s *MemoryStore) UpdateSpan(ctx context.Context, arg UpdateSpanArg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := spanKey{traceID: arg.TraceID, spanID: arg.SpanID}
	span, ok := s.spans[key]
	if !ok {
		return &NotFoundError{Resource: "span", ID: arg.TraceID + "/" + arg.SpanID}
	}

	u := arg.Updates
	if u.Name != nil {
		span.Name = *u.Name
	}
	if u.EndedAt != nil {
		endedAt := *u.EndedAt
		span.EndedAt = &endedAt
	}
	if u.Error != nil {
		span.Error = &SpanError{Message: u.Error.Message, Details: u.Error.Details.Clone()}
	}
	if u.Attributes != nil {
		span.Attributes = u.Attributes.Clone()
	}
	if u.Metadata != nil {
		span.Metadata = u.Metadata.Clone()
	}
	if u.Tags != nil {
		span.Tags = append([]string(nil), u.Tags...)
	}
	if u.Links != nil {
		links := make([]SpanLink, len(u.Links))
		for i, link := range u.Links {
			links[i] = link
			if link.Attributes != nil {
				links[i].Attributes = link.Attributes.Clone()
			}
		}
		span.Links = links
	}
	if u.Input != nil {
		input := u.Input.Clone()
		span.Input = &input
	}
	if u.Output != nil {
		output := u.Output.Clone()
		span.Output = &output
	}
	if u.IsEvent != nil {
		span.IsEvent = *u.IsEvent
	}
	span.UpdatedAt = s.now()
	return nil
}

// BatchUpdateSpans applies each update independently, joining failures.
func (s *MemoryStore) BatchUpdateSpans(ctx context.Context, args []UpdateSpanArg) error {
	var combined []error
	for i, arg := range args {
		if err := s.UpdateSpan(ctx, arg); err != nil {
			combined = append(combined, fmt.Errorf("records[%d]: %w", i, err))
		}
	}
	return errors.Join(combined...)
}

// BatchDeleteTraces removes every span of every listed trace. Unknown trace
// IDs are ignored.
func (s *MemoryStore) BatchDeleteTraces(ctx context.Context, traceIDs []string) error {
	targets := make(map[string]bool, len(traceIDs))
	for _, id := range traceIDs {
		targets[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.spans {
		if targets[key.traceID] {
			delete(s.spans, key)
		}
	}
	return nil
}

// Len reports the number of stored spans.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spans)
}

// MemoryScoreStore is an in-memory ScoreStore.
type MemoryScoreStore struct {
	mu     sync.RWMutex
	scores map[spanKey][]*Score
}

// NewMemoryScoreStore creates an empty MemoryScoreStore.
func NewMemoryScoreStore() *MemoryScoreStore {
	return &MemoryScoreStore{scores: make(map[spanKey][]*Score)}
}

// InsertScore persists a copy of score.
func (s *MemoryScoreStore) InsertScore(ctx context.Context, score *Score) error {
	verr := &ValidationError{}
	if score.TraceID == "" {
		verr.Add("traceId", "traceId is required")
	}
	if score.SpanID == "" {
		verr.Add("spanId", "spanId is required")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := spanKey{traceID: score.TraceID, spanID: score.SpanID}
	stored := *score
	if score.Metadata != nil {
		stored.Metadata = score.Metadata.Clone()
	}
	s.scores[key] = append(s.scores[key], &stored)
	return nil
}

// ListScoresBySpan returns scores for one span, newest first.
func (s *MemoryScoreStore) ListScoresBySpan(ctx context.Context, traceID, spanID string, p PaginationArgs) (*ScoresPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.scores[spanKey{traceID: traceID, spanID: spanID}]
	sorted := make([]*Score, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	page, perPage := p.normalize()
	total := len(sorted)
	start := page * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	scores := make([]*Score, 0, end-start)
	for _, score := range sorted[start:end] {
		c := *score
		if score.Metadata != nil {
			c.Metadata = score.Metadata.Clone()
		}
		scores = append(scores, &c)
	}

	return &ScoresPage{
		Scores: scores,
		Pagination: PaginationInfo{
			Total:   total,
			Page:    page,
			PerPage: perPage,
			HasMore: end < total,
		},
	}, nil
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ ScoreStore = (*MemoryScoreStore)(nil)
)
