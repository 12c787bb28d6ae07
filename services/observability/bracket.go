package observability

import (
	"sort"
	"strconv"
	"strings"
)

// bracketValue is one decoded query parameter: a bare scalar (key=v), an
// object (key[sub]=v), or an array (key[0]=v). A key may only take one shape.
type bracketValue struct {
	scalar *string
	object map[string]string
	array  map[int]string
}

func (b *bracketValue) isScalar() bool { return b.scalar != nil }
func (b *bracketValue) isObject() bool { return b.object != nil }
func (b *bracketValue) isArray() bool  { return b.array != nil }

// items returns the array elements ordered by index, holes compacted.
func (b *bracketValue) items() []string {
	idxs := make([]int, 0, len(b.array))
	for i := range b.array {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	out := make([]string, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, b.array[i])
	}
	return out
}

// decodeBracketQuery decodes bracket notation at a nesting depth of exactly
// two: `key`, `key[subkey]`, and `key[index]`. Deeper nesting, malformed
// brackets, and shape conflicts are reported as field errors; well-formed
// keys are still decoded, so callers can keep collecting errors.
func decodeBracketQuery(values map[string][]string) (map[string]*bracketValue, []FieldError) {
	out := make(map[string]*bracketValue)
	var errs []FieldError

	// Deterministic key order keeps error reporting stable.
	rawKeys := make([]string, 0, len(values))
	for k := range values {
		rawKeys = append(rawKeys, k)
	}
	sort.Strings(rawKeys)

	for _, raw := range rawKeys {
		vals := values[raw]
		if len(vals) == 0 {
			continue
		}
		val := vals[0]

		name, sub, ok, errMsg := splitBracketKey(raw)
		if !ok {
			errs = append(errs, FieldError{Field: name, Message: errMsg})
			continue
		}

		node := out[name]
		if node == nil {
			node = &bracketValue{}
			out[name] = node
		}

		switch {
		case sub == nil:
			if node.isObject() || node.isArray() {
				errs = append(errs, FieldError{Field: name, Message: "cannot mix scalar and nested values"})
				continue
			}
			node.scalar = &val
		case isIndex(*sub):
			if node.isScalar() || node.isObject() {
				errs = append(errs, FieldError{Field: name, Message: "cannot mix scalar and nested values"})
				continue
			}
			if node.array == nil {
				node.array = make(map[int]string)
			}
			idx, _ := strconv.Atoi(*sub)
			node.array[idx] = val
		default:
			if node.isScalar() || node.isArray() {
				errs = append(errs, FieldError{Field: name, Message: "cannot mix scalar and nested values"})
				continue
			}
			if node.object == nil {
				node.object = make(map[string]string)
			}
			node.object[*sub] = val
		}
	}

	return out, errs
}

// splitBracketKey splits `name[sub]` into its parts. A bare key returns a nil
// sub. The returned name is always usable as an error field, even when the
// key is malformed.
func splitBracketKey(raw string) (name string, sub *string, ok bool, errMsg string) {
	open := strings.IndexByte(raw, '[')
	if open < 0 {
		if strings.ContainsRune(raw, ']') {
			return raw, nil, false, "malformed bracket notation"
		}
		return raw, nil, true, ""
	}
	name = raw[:open]
	if name == "" {
		return raw, nil, false, "malformed bracket notation"
	}
	rest := raw[open:]
	if !strings.HasSuffix(rest, "]") {
		return name, nil, false, "malformed bracket notation"
	}
	inner := rest[1 : len(rest)-1]
	if inner == "" {
		return name, nil, false, "malformed bracket notation"
	}
	if strings.ContainsAny(inner, "[]") {
		return name, nil, false, "nesting deeper than two levels is not supported"
	}
	s := inner
	return name, &s, true, ""
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
