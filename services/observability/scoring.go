package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScoreTarget names a trace to score. SpanID pins the score to a specific
// span; when nil the score attaches to the trace's root span.
type ScoreTarget struct {
	TraceID string  `json:"traceId"`
	SpanID  *string `json:"spanId,omitempty"`
}

// Scorer computes one score for a trace. Returning (nil, nil) means the
// scorer declined to produce a score and nothing is persisted.
type Scorer interface {
	Name() string
	ScoreTrace(ctx context.Context, trace *TraceRecord, target ScoreTarget) (*Score, error)
}

// ScorerRegistry holds the scorers available for triggering by name.
type ScorerRegistry struct {
	mu      sync.RWMutex
	scorers map[string]Scorer
}

func NewScorerRegistry() *ScorerRegistry {
	return &ScorerRegistry{scorers: make(map[string]Scorer)}
}

func (r *ScorerRegistry) Register(s Scorer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorers[s.Name()] = s
}

func (r *ScorerRegistry) Get(name string) (Scorer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scorers[name]
	return s, ok
}

func (r *ScorerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scorers))
	for name := range r.scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultScoringTimeout bounds a single scoring run.
const DefaultScoringTimeout = 5 * time.Minute

// ScoringTrigger runs scorers against traces asynchronously. Submit
// validates and acknowledges immediately; scoring happens in a background
// goroutine and failures are reported through the error sink, never to the
// submitter.
type ScoringTrigger struct {
	store    Store
	scores   ScoreStore
	registry *ScorerRegistry
	logger   *slog.Logger

	// Timeout bounds one scoring run across all of its targets.
	Timeout time.Duration

	wg      sync.WaitGroup
	errSink func(error)
}

// NewScoringTrigger wires a trigger to its stores and registry. The default
// error sink logs failures.
func NewScoringTrigger(store Store, scores ScoreStore, registry *ScorerRegistry, logger *slog.Logger) *ScoringTrigger {
	t := &ScoringTrigger{
		store:    store,
		scores:   scores,
		registry: registry,
		logger:   logger.With("component", "scoring"),
		Timeout:  DefaultScoringTimeout,
	}
	t.errSink = func(err error) {
		t.logger.Error("scoring failed", "error", err)
	}
	return t
}

// SetErrorSink replaces the failure callback. Intended for tests.
func (t *ScoringTrigger) SetErrorSink(sink func(error)) {
	t.errSink = sink
}

// Submit validates the request, starts a background scoring run, and
// returns the number of targets accepted.
func (t *ScoringTrigger) Submit(scorerName string, targets []ScoreTarget) (int, error) {
	verr := &ValidationError{}
	if scorerName == "" {
		verr.Add("scorerName", "scorerName is required")
	}
	if len(targets) == 0 {
		verr.Add("targets", "at least one target is required")
	}
	for i, target := range targets {
		if target.TraceID == "" {
			verr.Add(fmt.Sprintf("targets[%d].traceId", i), "traceId is required")
		}
	}
	if err := verr.OrNil(); err != nil {
		return 0, err
	}

	scorer, ok := t.registry.Get(scorerName)
	if !ok {
		return 0, &NotFoundError{Resource: "scorer", ID: scorerName}
	}

	t.wg.Add(1)
	go t.run(scorer, targets)
	return len(targets), nil
}

// Wait blocks until all in-flight scoring runs finish. Intended for tests
// and shutdown.
func (t *ScoringTrigger) Wait() {
	t.wg.Wait()
}

func (t *ScoringTrigger) run(scorer Scorer, targets []ScoreTarget) {
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)
	defer cancel()

	for _, target := range targets {
		trace, err := t.store.GetTrace(ctx, target.TraceID)
		if err != nil {
			t.errSink(fmt.Errorf("scorer %s: load trace %s: %w", scorer.Name(), target.TraceID, err))
			continue
		}

		score, err := scorer.ScoreTrace(ctx, trace, target)
		if err != nil {
			t.errSink(fmt.Errorf("scorer %s: trace %s: %w", scorer.Name(), target.TraceID, err))
			continue
		}
		if score == nil {
			continue
		}

		if score.ID == "" {
			score.ID = uuid.NewString()
		}
		if score.TraceID == "" {
			score.TraceID = target.TraceID
		}
		if score.SpanID == "" {
			score.SpanID = targetSpanID(trace, target)
		}
		if score.ScorerName == "" {
			score.ScorerName = scorer.Name()
		}
		if score.CreatedAt.IsZero() {
			score.CreatedAt = time.Now()
		}

		if err := t.scores.InsertScore(ctx, score); err != nil {
			t.errSink(fmt.Errorf("scorer %s: persist score for trace %s: %w", scorer.Name(), target.TraceID, err))
		}
	}
}

func targetSpanID(trace *TraceRecord, target ScoreTarget) string {
	if target.SpanID != nil {
		return *target.SpanID
	}
	if root := trace.RootSpan(); root != nil {
		return root.SpanID
	}
	if len(trace.Spans) > 0 {
		return trace.Spans[0].SpanID
	}
	return ""
}

// ErrorRateScorer scores a trace by the fraction of its spans that errored.
type ErrorRateScorer struct{}

func (ErrorRateScorer) Name() string { return "error-rate" }

func (ErrorRateScorer) ScoreTrace(ctx context.Context, trace *TraceRecord, target ScoreTarget) (*Score, error) {
	total := len(trace.Spans)
	if total == 0 {
		return nil, nil
	}
	errored := 0
	for _, span := range trace.Spans {
		if span.Error != nil {
			errored++
		}
	}
	return &Score{
		Value:  float64(errored) / float64(total),
		Reason: fmt.Sprintf("%d of %d spans errored", errored, total),
	}, nil
}
