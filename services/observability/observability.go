// Package observability provides trace and span storage for AI application
// workloads: a typed span data model, a filterable paginated trace query
// engine, a query-string codec for the HTTP surface, and an asynchronous
// scoring pipeline over stored traces.
package observability

import (
	"time"
)

// SpanType classifies what kind of framework operation a span records.
type SpanType string

const (
	SpanTypeAgentRun      SpanType = "AGENT_RUN"
	SpanTypeWorkflowRun   SpanType = "WORKFLOW_RUN"
	SpanTypeWorkflowStep  SpanType = "WORKFLOW_STEP"
	SpanTypeToolCall      SpanType = "TOOL_CALL"
	SpanTypeMCPToolCall   SpanType = "MCP_TOOL_CALL"
	SpanTypeLLMGeneration SpanType = "LLM_GENERATION"
	SpanTypeGeneric       SpanType = "GENERIC"
)

var spanTypes = map[SpanType]struct{}{
	SpanTypeAgentRun:      {},
	SpanTypeWorkflowRun:   {},
	SpanTypeWorkflowStep:  {},
	SpanTypeToolCall:      {},
	SpanTypeMCPToolCall:   {},
	SpanTypeLLMGeneration: {},
	SpanTypeGeneric:       {},
}

// Valid reports whether t is a known span type.
func (t SpanType) Valid() bool {
	_, ok := spanTypes[t]
	return ok
}

// EntityType identifies the kind of framework entity a span belongs to.
type EntityType string

const (
	EntityTypeAgent    EntityType = "agent"
	EntityTypeWorkflow EntityType = "workflow"
	EntityTypeTool     EntityType = "tool"
	EntityTypeNetwork  EntityType = "network"
	EntityTypeStep     EntityType = "step"
)

var entityTypes = map[EntityType]struct{}{
	EntityTypeAgent:    {},
	EntityTypeWorkflow: {},
	EntityTypeTool:     {},
	EntityTypeNetwork:  {},
	EntityTypeStep:     {},
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	_, ok := entityTypes[t]
	return ok
}

// SpanStatus is the derived state of a span. It is never persisted; it is
// computed from the error and end timestamp wherever a span is surfaced.
type SpanStatus string

const (
	StatusRunning SpanStatus = "running"
	StatusSuccess SpanStatus = "success"
	StatusError   SpanStatus = "error"
)

// Valid reports whether s is a known span status.
func (s SpanStatus) Valid() bool {
	return s == StatusRunning || s == StatusSuccess || s == StatusError
}

// OrderField is a sortable span column for trace listings.
type OrderField string

const (
	OrderByStartedAt OrderField = "startedAt"
	OrderByEndedAt   OrderField = "endedAt"
	OrderByCreatedAt OrderField = "createdAt"
)

// Valid reports whether f is a sortable field.
func (f OrderField) Valid() bool {
	return f == OrderByStartedAt || f == OrderByEndedAt || f == OrderByCreatedAt
}

// OrderDirection is a sort direction.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// Valid reports whether d is a known direction.
func (d OrderDirection) Valid() bool {
	return d == OrderAsc || d == OrderDesc
}

// SpanLink references another span related to this one.
type SpanLink struct {
	TraceID    string `json:"traceId"`
	SpanID     string `json:"spanId"`
	Attributes *Map   `json:"attributes,omitempty"`
}

// SpanError captures the failure recorded on a span. A non-nil SpanError is
// what makes a span's derived status "error".
type SpanError struct {
	Message string `json:"message"`
	Details *Map   `json:"details,omitempty"`
}

// SpanRecord is the atomic unit of observability data. Spans form a forest
// keyed by TraceID; a span with a nil ParentSpanID is a root span.
type SpanRecord struct {
	TraceID      string  `json:"traceId"`
	SpanID       string  `json:"spanId"`
	ParentSpanID *string `json:"parentSpanId"`
	Name         string  `json:"name"`

	SpanType   SpanType    `json:"spanType"`
	EntityType *EntityType `json:"entityType,omitempty"`
	EntityID   *string     `json:"entityId,omitempty"`
	EntityName *string     `json:"entityName,omitempty"`

	// Tenancy and correlation identifiers, used purely for equality
	// filtering.
	UserID         *string `json:"userId,omitempty"`
	OrganizationID *string `json:"organizationId,omitempty"`
	ResourceID     *string `json:"resourceId,omitempty"`
	RunID          *string `json:"runId,omitempty"`
	SessionID      *string `json:"sessionId,omitempty"`
	ThreadID       *string `json:"threadId,omitempty"`
	RequestID      *string `json:"requestId,omitempty"`

	// Deployment context.
	Environment  *string `json:"environment,omitempty"`
	Source       *string `json:"source,omitempty"`
	ServiceName  *string `json:"serviceName,omitempty"`
	DeploymentID *string `json:"deploymentId,omitempty"`
	VersionInfo  *Map    `json:"versionInfo,omitempty"`
	Scope        *Map    `json:"scope,omitempty"`

	// Payload.
	Attributes *Map       `json:"attributes,omitempty"`
	Metadata   *Map       `json:"metadata,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Links      []SpanLink `json:"links,omitempty"`
	Input      *Value     `json:"input,omitempty"`
	Output     *Value     `json:"output,omitempty"`
	Error      *SpanError `json:"error,omitempty"`

	// IsEvent distinguishes point-in-time events from duration spans.
	IsEvent bool `json:"isEvent"`

	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Status derives the span state from its error and end timestamp.
func (s *SpanRecord) Status() SpanStatus {
	switch {
	case s.Error != nil:
		return StatusError
	case s.EndedAt == nil:
		return StatusRunning
	default:
		return StatusSuccess
	}
}

// IsRoot reports whether the span has no parent.
func (s *SpanRecord) IsRoot() bool {
	return s.ParentSpanID == nil
}

// Clone returns a deep copy of the span. The store hands out clones so
// callers never alias store-owned records.
func (s *SpanRecord) Clone() *SpanRecord {
	if s == nil {
		return nil
	}
	c := *s
	c.ParentSpanID = clonePtr(s.ParentSpanID)
	c.EntityType = clonePtr(s.EntityType)
	c.EntityID = clonePtr(s.EntityID)
	c.EntityName = clonePtr(s.EntityName)
	c.UserID = clonePtr(s.UserID)
	c.OrganizationID = clonePtr(s.OrganizationID)
	c.ResourceID = clonePtr(s.ResourceID)
	c.RunID = clonePtr(s.RunID)
	c.SessionID = clonePtr(s.SessionID)
	c.ThreadID = clonePtr(s.ThreadID)
	c.RequestID = clonePtr(s.RequestID)
	c.Environment = clonePtr(s.Environment)
	c.Source = clonePtr(s.Source)
	c.ServiceName = clonePtr(s.ServiceName)
	c.DeploymentID = clonePtr(s.DeploymentID)
	c.VersionInfo = s.VersionInfo.Clone()
	c.Scope = s.Scope.Clone()
	c.Attributes = s.Attributes.Clone()
	c.Metadata = s.Metadata.Clone()
	c.EndedAt = clonePtr(s.EndedAt)
	if s.Tags != nil {
		c.Tags = append([]string(nil), s.Tags...)
	}
	if s.Links != nil {
		c.Links = make([]SpanLink, len(s.Links))
		for i, l := range s.Links {
			c.Links[i] = SpanLink{TraceID: l.TraceID, SpanID: l.SpanID, Attributes: l.Attributes.Clone()}
		}
	}
	if s.Input != nil {
		v := s.Input.Clone()
		c.Input = &v
	}
	if s.Output != nil {
		v := s.Output.Clone()
		c.Output = &v
	}
	if s.Error != nil {
		c.Error = &SpanError{Message: s.Error.Message, Details: s.Error.Details.Clone()}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// TraceRecord is a query-time projection: every span sharing a trace ID,
// ordered by start time ascending. Traces are never stored as entities.
type TraceRecord struct {
	TraceID string        `json:"traceId"`
	Spans   []*SpanRecord `json:"spans"`
}

// RootSpan returns the first root span of the trace, or nil if the trace has
// none.
func (t *TraceRecord) RootSpan() *SpanRecord {
	for _, s := range t.Spans {
		if s.IsRoot() {
			return s
		}
	}
	return nil
}

// Score is the output of a scorer run against one span of a trace.
type Score struct {
	ID         string    `json:"id"`
	TraceID    string    `json:"traceId"`
	SpanID     string    `json:"spanId"`
	ScorerName string    `json:"scorerName"`
	Value      float64   `json:"score"`
	Reason     string    `json:"reason,omitempty"`
	Metadata   *Map      `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DateRange bounds a timestamp field. Either side may be open.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the range, bounds inclusive.
func (r *DateRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// DefaultPerPage is the page size applied when pagination is unset.
const DefaultPerPage = 10

// PaginationArgs selects a page of results. Page is zero-indexed. The
// optional DateRange applies to span start time.
type PaginationArgs struct {
	Page      int        `json:"page"`
	PerPage   int        `json:"perPage"`
	DateRange *DateRange `json:"dateRange,omitempty"`
}

func (p *PaginationArgs) normalize() (page, perPage int) {
	page, perPage = 0, DefaultPerPage
	if p == nil {
		return page, perPage
	}
	if p.Page > 0 {
		page = p.Page
	}
	if p.PerPage > 0 {
		perPage = p.PerPage
	}
	return page, perPage
}

// PaginationInfo describes the page actually returned.
type PaginationInfo struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	PerPage int  `json:"perPage"`
	HasMore bool `json:"hasMore"`
}

// TraceFilters narrows a root-span listing. All predicates are AND-combined,
// except Tags which matches a span carrying any of the listed tags. The map
// filters (Metadata, Scope, VersionInfo) match spans whose map contains every
// filter key with an equal value. EndedAt bounds the span end time; spans
// still running never match it.
type TraceFilters struct {
	Name           *string     `json:"name,omitempty"`
	SpanType       *SpanType   `json:"spanType,omitempty"`
	EntityType     *EntityType `json:"entityType,omitempty"`
	EntityID       *string     `json:"entityId,omitempty"`
	EntityName     *string     `json:"entityName,omitempty"`
	UserID         *string     `json:"userId,omitempty"`
	OrganizationID *string     `json:"organizationId,omitempty"`
	ResourceID     *string     `json:"resourceId,omitempty"`
	RunID          *string     `json:"runId,omitempty"`
	SessionID      *string     `json:"sessionId,omitempty"`
	ThreadID       *string     `json:"threadId,omitempty"`
	RequestID      *string     `json:"requestId,omitempty"`
	Environment    *string     `json:"environment,omitempty"`
	Source         *string     `json:"source,omitempty"`
	ServiceName    *string     `json:"serviceName,omitempty"`
	DeploymentID   *string     `json:"deploymentId,omitempty"`
	Status         *SpanStatus `json:"status,omitempty"`
	HasChildError  *bool       `json:"hasChildError,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	Metadata       *Map        `json:"metadata,omitempty"`
	Scope          *Map        `json:"scope,omitempty"`
	VersionInfo    *Map        `json:"versionInfo,omitempty"`
	EndedAt        *DateRange  `json:"endedAt,omitempty"`
}

// OrderBy selects the sort column and direction for a trace listing.
type OrderBy struct {
	Field     OrderField     `json:"field,omitempty"`
	Direction OrderDirection `json:"direction,omitempty"`
}

// TracesPaginatedArg is the full argument set for a root-span listing: the
// structured form of the GET /traces query string.
type TracesPaginatedArg struct {
	Filters    *TraceFilters   `json:"filters,omitempty"`
	Pagination *PaginationArgs `json:"pagination,omitempty"`
	OrderBy    *OrderBy        `json:"orderBy,omitempty"`
}

// TracesPage is one page of a root-span listing.
type TracesPage struct {
	Pagination PaginationInfo `json:"pagination"`
	Spans      []*SpanRecord  `json:"spans"`
}

// ScoresPage is one page of scores for a single span.
type ScoresPage struct {
	Pagination PaginationInfo `json:"pagination"`
	Scores     []*Score       `json:"scores"`
}

// SpanUpdate carries the mutable fields of a span. Nil fields are left
// untouched; non-nil fields replace the stored value.
type SpanUpdate struct {
	Name       *string    `json:"name,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	Error      *SpanError `json:"error,omitempty"`
	Attributes *Map       `json:"attributes,omitempty"`
	Metadata   *Map       `json:"metadata,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Links      []SpanLink `json:"links,omitempty"`
	Input      *Value     `json:"input,omitempty"`
	Output     *Value     `json:"output,omitempty"`
	IsEvent    *bool      `json:"isEvent,omitempty"`
}

// UpdateSpanArg addresses one span and the updates to merge into it.
type UpdateSpanArg struct {
	TraceID string     `json:"traceId"`
	SpanID  string     `json:"spanId"`
	Updates SpanUpdate `json:"updates"`
}
