package models

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

/*
LEARNING: SUBSCRIPTION KEY CANONICALIZATION

Different viewers ask for the same list in different shapes:
{type:"issues", params:{status:"open", assignee:"max"}} and
{type:"Issues", params:{assignee:"max", status:"open"}} are the same query.

Canonicalizing specs into a single string key lets the server keep ONE
registry entry (and run ONE bd fetch) per logical query, no matter how many
connections or subscription ids reference it.
*/

// SubscriptionSpec identifies what a subscription wants: a query type and
// its parameters. Immutable by convention - never mutate a spec after it
// has been registered.
type SubscriptionSpec struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Key derives the canonical deduplication string for a spec:
// lowercased type, "?" separator, then percent-encoded key=value pairs
// sorted by parameter name and joined with "&".
//
// Two specs with the same type and parameter set yield the same key
// regardless of parameter order.
func (s SubscriptionSpec) Key() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(s.Type))
	b.WriteByte('?')

	names := make([]string, 0, len(s.Params))
	for name := range s.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(formatParamValue(s.Params[name])))
	}
	return b.String()
}

// formatParamValue stable-encodes a parameter value. JSON decoding hands
// us numbers as float64, so integers must round-trip without a fraction.
func formatParamValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// querySchema describes one supported query type: which parameters it
// accepts and which are mandatory.
type querySchema struct {
	allowed  map[string]bool
	required []string
}

// The query vocabulary mirrors the filters bd list exposes.
var querySchemas = map[string]querySchema{
	"issues": {
		allowed: map[string]bool{
			"status":       true,
			"assignee":     true,
			"type":         true,
			"label":        true,
			"priority_max": true,
		},
	},
	"epic_children": {
		allowed:  map[string]bool{"parent": true},
		required: []string{"parent"},
	},
}

// Validate checks a spec against the query vocabulary. It rejects unknown
// query types, unknown parameters, missing required parameters, and
// parameter values that are not string, number or bool.
func (s SubscriptionSpec) Validate() error {
	name := strings.ToLower(s.Type)
	schema, ok := querySchemas[name]
	if !ok {
		return fmt.Errorf("unknown query type %q", s.Type)
	}
	for param, value := range s.Params {
		if !schema.allowed[param] {
			return fmt.Errorf("query type %q does not accept parameter %q", name, param)
		}
		switch value.(type) {
		case string, bool, float64, int, int64:
		default:
			return fmt.Errorf("parameter %q has unsupported value type %T", param, value)
		}
	}
	for _, param := range schema.required {
		v, ok := s.Params[param]
		if !ok {
			return fmt.Errorf("query type %q requires parameter %q", name, param)
		}
		if str, isStr := v.(string); isStr && str == "" {
			return fmt.Errorf("query type %q requires parameter %q", name, param)
		}
	}
	return nil
}
