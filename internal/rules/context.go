// Package rules provides the notification rule model and the evaluation
// engine that decides, from a business-event context, which rules fire.
package rules

import "strings"

// EvaluationContext is an immutable bag of named sub-contexts built by the
// caller per event (e.g. "leadScore", "leadData", "dealData", "event").
// Fields are addressed by dotted path; the first segment selects the
// sub-context and the remaining segments traverse nested maps.
type EvaluationContext map[string]map[string]interface{}

// Lookup resolves a dotted path into the context. A missing sub-context or
// intermediate key yields (nil, false), never an error: absent fields simply
// fail condition matches.
func (ec EvaluationContext) Lookup(path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	sub, ok := ec[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return sub, true
	}

	var current interface{} = sub
	for _, key := range parts[1:] {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String resolves a dotted path and returns its value as a string.
// Non-string and absent values return "".
func (ec EvaluationContext) String(path string) string {
	v, ok := ec.Lookup(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
