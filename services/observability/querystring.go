package observability

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// The query codec translates between the GET /traces query string and
// TracesPaginatedArg, in both directions. Scalar filter keys and page/perPage
// live at the query root; startedAt, endedAt, tags, metadata, scope,
// versionInfo, and orderBy use bracket notation. Validation collects every
// field error instead of failing on the first; unrecognized keys are ignored.

// scalarFilterKeys is the fixed list of root-level keys that map into the
// filters object.
var scalarFilterKeys = map[string]struct{}{
	"name":           {},
	"spanType":       {},
	"entityType":     {},
	"entityId":       {},
	"entityName":     {},
	"userId":         {},
	"organizationId": {},
	"resourceId":     {},
	"runId":          {},
	"sessionId":      {},
	"threadId":       {},
	"requestId":      {},
	"environment":    {},
	"source":         {},
	"serviceName":    {},
	"deploymentId":   {},
	"status":         {},
	"hasChildError":  {},
}

// ParseTraceQuery parses a raw query string (with or without a leading "?")
// into a TracesPaginatedArg. On validation failure it returns a
// *ValidationError carrying every field-level failure.
func ParseTraceQuery(query string) (*TracesPaginatedArg, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, &ValidationError{Errors: []FieldError{{Field: "query", Message: "malformed query string"}}}
	}
	return ParseTraceQueryValues(values)
}

// ParseTraceQueryValues parses an already-decoded parameter map. Repeated
// parameters use their first value.
func ParseTraceQueryValues(values url.Values) (*TracesPaginatedArg, error) {
	nodes, bracketErrs := decodeBracketQuery(values)

	p := &queryParser{
		arg:  &TracesPaginatedArg{},
		errs: &ValidationError{Errors: bracketErrs},
	}

	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		node := nodes[key]
		switch key {
		case "page":
			if v, ok := p.scalarInt(node, "pagination.page", 0); ok {
				p.pagination().Page = v
			}
		case "perPage":
			if v, ok := p.scalarInt(node, "pagination.perPage", 1); ok {
				p.pagination().PerPage = v
			}
		case "startedAt":
			if r := p.dateRange(node, "startedAt"); r != nil {
				p.pagination().DateRange = r
			}
		case "endedAt":
			if r := p.dateRange(node, "endedAt"); r != nil {
				p.filters().EndedAt = r
			}
		case "tags":
			if tags, ok := p.tags(node); ok {
				p.filters().Tags = tags
			}
		case "metadata", "scope", "versionInfo":
			if m := p.valueMap(node, key); m != nil {
				switch key {
				case "metadata":
					p.filters().Metadata = m
				case "scope":
					p.filters().Scope = m
				case "versionInfo":
					p.filters().VersionInfo = m
				}
			}
		case "orderBy":
			p.orderBy(node)
		default:
			if _, ok := scalarFilterKeys[key]; ok {
				p.scalarFilter(node, key)
			}
			// Unrecognized keys are stripped, not rejected.
		}
	}

	sort.SliceStable(p.errs.Errors, func(i, j int) bool {
		return p.errs.Errors[i].Field < p.errs.Errors[j].Field
	})
	if err := p.errs.OrNil(); err != nil {
		return nil, err
	}
	return p.arg, nil
}

type queryParser struct {
	arg  *TracesPaginatedArg
	errs *ValidationError
}

func (p *queryParser) filters() *TraceFilters {
	if p.arg.Filters == nil {
		p.arg.Filters = &TraceFilters{}
	}
	return p.arg.Filters
}

func (p *queryParser) pagination() *PaginationArgs {
	if p.arg.Pagination == nil {
		p.arg.Pagination = &PaginationArgs{}
	}
	return p.arg.Pagination
}

func (p *queryParser) scalar(node *bracketValue, field string) (string, bool) {
	if !node.isScalar() {
		p.errs.Add(field, "expected a single value")
		return "", false
	}
	return *node.scalar, true
}

func (p *queryParser) scalarInt(node *bracketValue, field string, min int) (int, bool) {
	raw, ok := p.scalar(node, field)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs.Add(field, fmt.Sprintf("%q is not an integer", raw))
		return 0, false
	}
	if n < min {
		p.errs.Add(field, fmt.Sprintf("must be at least %d", min))
		return 0, false
	}
	return n, true
}

func (p *queryParser) timestamp(raw, field string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		p.errs.Add(field, fmt.Sprintf("%q is not an ISO-8601 timestamp", raw))
		return time.Time{}, false
	}
	return t, true
}

func (p *queryParser) dateRange(node *bracketValue, field string) *DateRange {
	if !node.isObject() {
		p.errs.Add(field, "expected start/end subkeys")
		return nil
	}
	r := &DateRange{}
	if raw, ok := node.object["start"]; ok {
		if t, ok := p.timestamp(raw, field+".start"); ok {
			r.Start = &t
		}
	}
	if raw, ok := node.object["end"]; ok {
		if t, ok := p.timestamp(raw, field+".end"); ok {
			r.End = &t
		}
	}
	if r.Start == nil && r.End == nil {
		return nil
	}
	return r
}

func (p *queryParser) tags(node *bracketValue) ([]string, bool) {
	switch {
	case node.isArray():
		return node.items(), true
	case node.isScalar():
		// Fallback: comma-separated list in a flat key.
		parts := strings.Split(*node.scalar, ",")
		tags := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
		return tags, len(tags) > 0
	default:
		p.errs.Add("tags", "expected a list of tags")
		return nil, false
	}
}

func (p *queryParser) valueMap(node *bracketValue, field string) *Map {
	if !node.isObject() {
		p.errs.Add(field, "expected key/value subkeys")
		return nil
	}
	subKeys := make([]string, 0, len(node.object))
	for k := range node.object {
		subKeys = append(subKeys, k)
	}
	sort.Strings(subKeys)
	m := NewMap()
	for _, k := range subKeys {
		m.Set(k, StringValue(node.object[k]))
	}
	return m
}

func (p *queryParser) orderBy(node *bracketValue) {
	if !node.isObject() {
		p.errs.Add("orderBy", "expected field/direction subkeys")
		return
	}
	ob := &OrderBy{}
	if raw, ok := node.object["field"]; ok {
		f := OrderField(raw)
		if !f.Valid() {
			p.errs.Add("orderBy.field", fmt.Sprintf("%q is not a sortable field", raw))
		} else {
			ob.Field = f
		}
	}
	if raw, ok := node.object["direction"]; ok {
		d := OrderDirection(raw)
		if !d.Valid() {
			p.errs.Add("orderBy.direction", fmt.Sprintf("%q is not a sort direction", raw))
		} else {
			ob.Direction = d
		}
	}
	if ob.Field != "" || ob.Direction != "" {
		p.arg.OrderBy = ob
	}
}

func (p *queryParser) scalarFilter(node *bracketValue, key string) {
	raw, ok := p.scalar(node, "filters."+key)
	if !ok {
		return
	}
	f := p.filters()
	switch key {
	case "spanType":
		t := SpanType(raw)
		if !t.Valid() {
			p.errs.Add("filters.spanType", fmt.Sprintf("%q is not a span type", raw))
			return
		}
		f.SpanType = &t
	case "entityType":
		t := EntityType(raw)
		if !t.Valid() {
			p.errs.Add("filters.entityType", fmt.Sprintf("%q is not an entity type", raw))
			return
		}
		f.EntityType = &t
	case "status":
		s := SpanStatus(raw)
		if !s.Valid() {
			p.errs.Add("filters.status", fmt.Sprintf("%q is not a span status", raw))
			return
		}
		f.Status = &s
	case "hasChildError":
		// Strict booleans: only the literal strings "true" and "false".
		switch raw {
		case "true":
			b := true
			f.HasChildError = &b
		case "false":
			b := false
			f.HasChildError = &b
		default:
			p.errs.Add("filters.hasChildError", fmt.Sprintf("%q is not a boolean", raw))
		}
	case "name":
		f.Name = &raw
	case "entityId":
		f.EntityID = &raw
	case "entityName":
		f.EntityName = &raw
	case "userId":
		f.UserID = &raw
	case "organizationId":
		f.OrganizationID = &raw
	case "resourceId":
		f.ResourceID = &raw
	case "runId":
		f.RunID = &raw
	case "sessionId":
		f.SessionID = &raw
	case "threadId":
		f.ThreadID = &raw
	case "requestId":
		f.RequestID = &raw
	case "environment":
		f.Environment = &raw
	case "source":
		f.Source = &raw
	case "serviceName":
		f.ServiceName = &raw
	case "deploymentId":
		f.DeploymentID = &raw
	}
}

// SerializeTraceQuery is the inverse of ParseTraceQuery: pagination and
// scalar filters flatten to root-level pairs, nested structures render in
// bracket notation with indexed arrays, timestamps render as ISO-8601, and
// unset fields are omitted. For any arg built from schema-valid fields,
// ParseTraceQuery(SerializeTraceQuery(arg)) reproduces arg.
func SerializeTraceQuery(arg *TracesPaginatedArg) string {
	if arg == nil {
		return ""
	}
	v := url.Values{}

	if p := arg.Pagination; p != nil {
		if p.Page > 0 {
			v.Set("page", strconv.Itoa(p.Page))
		}
		if p.PerPage > 0 {
			v.Set("perPage", strconv.Itoa(p.PerPage))
		}
		encodeDateRange(v, "startedAt", p.DateRange)
	}

	if f := arg.Filters; f != nil {
		setIfPresent(v, "name", f.Name)
		setIfPresent(v, "spanType", (*string)(f.SpanType))
		setIfPresent(v, "entityType", (*string)(f.EntityType))
		setIfPresent(v, "entityId", f.EntityID)
		setIfPresent(v, "entityName", f.EntityName)
		setIfPresent(v, "userId", f.UserID)
		setIfPresent(v, "organizationId", f.OrganizationID)
		setIfPresent(v, "resourceId", f.ResourceID)
		setIfPresent(v, "runId", f.RunID)
		setIfPresent(v, "sessionId", f.SessionID)
		setIfPresent(v, "threadId", f.ThreadID)
		setIfPresent(v, "requestId", f.RequestID)
		setIfPresent(v, "environment", f.Environment)
		setIfPresent(v, "source", f.Source)
		setIfPresent(v, "serviceName", f.ServiceName)
		setIfPresent(v, "deploymentId", f.DeploymentID)
		setIfPresent(v, "status", (*string)(f.Status))
		if f.HasChildError != nil {
			v.Set("hasChildError", strconv.FormatBool(*f.HasChildError))
		}
		for i, tag := range f.Tags {
			v.Set(fmt.Sprintf("tags[%d]", i), tag)
		}
		encodeValueMap(v, "metadata", f.Metadata)
		encodeValueMap(v, "scope", f.Scope)
		encodeValueMap(v, "versionInfo", f.VersionInfo)
		encodeDateRange(v, "endedAt", f.EndedAt)
	}

	if ob := arg.OrderBy; ob != nil {
		if ob.Field != "" {
			v.Set("orderBy[field]", string(ob.Field))
		}
		if ob.Direction != "" {
			v.Set("orderBy[direction]", string(ob.Direction))
		}
	}

	return v.Encode()
}

func setIfPresent(v url.Values, key string, val *string) {
	if val != nil {
		v.Set(key, *val)
	}
}

func encodeDateRange(v url.Values, key string, r *DateRange) {
	if r == nil {
		return
	}
	if r.Start != nil {
		v.Set(key+"[start]", r.Start.UTC().Format(time.RFC3339Nano))
	}
	if r.End != nil {
		v.Set(key+"[end]", r.End.UTC().Format(time.RFC3339Nano))
	}
}

func encodeValueMap(v url.Values, key string, m *Map) {
	if m == nil {
		return
	}
	for _, k := range m.Keys() {
		val, _ := m.Get(k)
		v.Set(key+"["+k+"]", val.String())
	}
}
