package observability

import (
	"context"
)

// Store is the storage contract for spans. The in-memory implementation in
// this package is the reference; persistent backends can be substituted
// without touching the query codec or the HTTP handlers.
type Store interface {
	// CreateSpan persists a span keyed by (traceId, spanId), stamping
	// createdAt/updatedAt. It fails with a *ValidationError when spanId or
	// traceId is missing.
	CreateSpan(ctx context.Context, span *SpanRecord) error

	// BatchCreateSpans applies CreateSpan to each span. It is best-effort,
	// not atomic: a failing element never disturbs records already written,
	// and all element failures are reported together.
	BatchCreateSpans(ctx context.Context, spans []*SpanRecord) error

	// GetTrace assembles every span sharing traceID, ordered by start time
	// ascending. It fails with a *NotFoundError when no span matches.
	GetTrace(ctx context.Context, traceID string) (*TraceRecord, error)

	// GetTracesPaginated lists root spans only, filtered by arg.Filters and
	// the pagination date range, then sliced to the requested page.
	GetTracesPaginated(ctx context.Context, arg TracesPaginatedArg) (*TracesPage, error)

	// UpdateSpan merges arg.Updates into an existing span and refreshes
	// updatedAt. It fails with a *NotFoundError when the span does not exist.
	UpdateSpan(ctx context.Context, arg UpdateSpanArg) error

	// BatchUpdateSpans applies UpdateSpan to each record, best-effort.
	BatchUpdateSpans(ctx context.Context, args []UpdateSpanArg) error

	// BatchDeleteTraces removes every span belonging to any listed trace.
	BatchDeleteTraces(ctx context.Context, traceIDs []string) error
}

// ScoreStore is the storage contract for scores produced by the scoring
// pipeline.
type ScoreStore interface {
	// InsertScore persists a score.
	InsertScore(ctx context.Context, score *Score) error

	// ListScoresBySpan returns a page of scores for one span, newest first.
	ListScoresBySpan(ctx context.Context, traceID, spanID string, p PaginationArgs) (*ScoresPage, error)
}
