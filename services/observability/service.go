package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/instantcocoa/naxos/pkg/cache"
)

// Service handles observability business logic. It fronts the span and
// score stores, optionally caching assembled traces, and delegates scoring
// to the async trigger.
type Service struct {
	store   Store
	scores  ScoreStore
	trigger *ScoringTrigger
	logger  *slog.Logger

	cache    *cache.Client
	cacheTTL time.Duration
}

// NewService creates a new observability service.
func NewService(store Store, scores ScoreStore, trigger *ScoringTrigger, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		scores:  scores,
		trigger: trigger,
		logger:  logger.With("component", "observability"),
	}
}

// UseCache enables read-through caching of assembled traces.
func (s *Service) UseCache(client *cache.Client, ttl time.Duration) {
	s.cache = client
	s.cacheTTL = ttl
}

func traceCacheKey(traceID string) string {
	return "trace:" + traceID
}

// CreateSpan ingests a single span.
func (s *Service) CreateSpan(ctx context.Context, span *SpanRecord) error {
	if err := s.store.CreateSpan(ctx, span); err != nil {
		return fmt.Errorf("failed to create span: %w", err)
	}
	s.invalidateTraces(ctx, span.TraceID)
	return nil
}

// BatchCreateSpans ingests a batch of spans, best-effort.
func (s *Service) BatchCreateSpans(ctx context.Context, spans []*SpanRecord) error {
	err := s.store.BatchCreateSpans(ctx, spans)
	traceIDs := make([]string, 0, len(spans))
	for _, span := range spans {
		traceIDs = append(traceIDs, span.TraceID)
	}
	s.invalidateTraces(ctx, traceIDs...)
	if err != nil {
		return fmt.Errorf("failed to create spans: %w", err)
	}
	return nil
}

// GetTrace retrieves a full trace, serving from cache when enabled.
func (s *Service) GetTrace(ctx context.Context, traceID string) (*TraceRecord, error) {
	if s.cache != nil {
		var cached TraceRecord
		if err := s.cache.GetJSON(ctx, traceCacheKey(traceID), &cached); err != nil {
			s.logger.Warn("trace cache read failed", "traceId", traceID, "error", err)
		} else if cached.TraceID != "" {
			return &cached, nil
		}
	}

	trace, err := s.store.GetTrace(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trace: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, traceCacheKey(traceID), trace, s.cacheTTL); err != nil {
			s.logger.Warn("trace cache write failed", "traceId", traceID, "error", err)
		}
	}
	return trace, nil
}

// GetTracesPaginated lists root spans matching the query.
func (s *Service) GetTracesPaginated(ctx context.Context, arg TracesPaginatedArg) (*TracesPage, error) {
	page, err := s.store.GetTracesPaginated(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	return page, nil
}

// UpdateSpan applies a partial update to an existing span.
func (s *Service) UpdateSpan(ctx context.Context, arg UpdateSpanArg) error {
	if err := s.store.UpdateSpan(ctx, arg); err != nil {
		return fmt.Errorf("failed to update span: %w", err)
	}
	s.invalidateTraces(ctx, arg.TraceID)
	return nil
}

// BatchUpdateSpans applies partial updates to a batch of spans, best-effort.
func (s *Service) BatchUpdateSpans(ctx context.Context, args []UpdateSpanArg) error {
	err := s.store.BatchUpdateSpans(ctx, args)
	traceIDs := make([]string, 0, len(args))
	for _, arg := range args {
		traceIDs = append(traceIDs, arg.TraceID)
	}
	s.invalidateTraces(ctx, traceIDs...)
	if err != nil {
		return fmt.Errorf("failed to update spans: %w", err)
	}
	return nil
}

// BatchDeleteTraces removes all spans of the listed traces.
func (s *Service) BatchDeleteTraces(ctx context.Context, traceIDs []string) error {
	if err := s.store.BatchDeleteTraces(ctx, traceIDs); err != nil {
		return fmt.Errorf("failed to delete traces: %w", err)
	}
	s.invalidateTraces(ctx, traceIDs...)
	return nil
}

// ListScoresBySpan returns a page of scores attached to one span.
func (s *Service) ListScoresBySpan(ctx context.Context, traceID, spanID string, p PaginationArgs) (*ScoresPage, error) {
	page, err := s.scores.ListScoresBySpan(ctx, traceID, spanID, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	return page, nil
}

// ScoreTraces queues a background scoring run and returns the number of
// accepted targets.
func (s *Service) ScoreTraces(scorerName string, targets []ScoreTarget) (int, error) {
	count, err := s.trigger.Submit(scorerName, targets)
	if err != nil {
		return 0, err
	}
	s.logger.Info("scoring queued", "scorer", scorerName, "traces", count)
	return count, nil
}

func (s *Service) invalidateTraces(ctx context.Context, traceIDs ...string) {
	if s.cache == nil || len(traceIDs) == 0 {
		return
	}
	seen := make(map[string]bool, len(traceIDs))
	keys := make([]string, 0, len(traceIDs))
	for _, id := range traceIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, traceCacheKey(id))
	}
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("trace cache invalidation failed", "error", err)
	}
}
