// Package jsonrepair implements the schema-repair pipeline the Model
// Dispatcher runs over raw LLM output before decoding it into a typed
// struct: a chain of small pure functions over `any`/`map[string]any`,
// each independently testable, composed by Repair below.
//
// Thinking-capable models often wrap their JSON answer in prose or
// <think> blocks and produce near-miss shapes (tuples instead of
// objects, stray nulls, bare strings where an object is expected); this
// pipeline normalizes all of that before decoding runs.
package jsonrepair

import (
	"encoding/json"
	"regexp"
	"strings"
)

var thinkBlockRE = regexp.MustCompile(`(?s)<think>.*?</think>`)
var codeFenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// StripThinkingBlocks removes <think>...</think> segments some reasoning
// models prepend to their answer.
func StripThinkingBlocks(s string) string {
	return thinkBlockRE.ReplaceAllString(s, "")
}

// StripCodeFences unwraps a ```json ... ``` or ``` ... ``` fenced block,
// returning its inner content if one is found, else the input unchanged.
func StripCodeFences(s string) string {
	if m := codeFenceRE.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// ExtractBalancedJSON scans s for the first top-level balanced {...} or
// [...] span, tolerating conversational chatter before and after it —
// the common case of a model prefacing its JSON answer with commentary.
func ExtractBalancedJSON(s string) (string, bool) {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// SanitizeJSONString applies a conservative set of textual fixes for
// near-miss JSON emitted by chat models: smart quotes and trailing
// commas. Control characters are left as they are.
func SanitizeJSONString(s string) string {
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
	s = replacer.Replace(s)
	s = regexp.MustCompile(`,\s*([}\]])`).ReplaceAllString(s, "$1")
	return s
}

// ExtractFromResponse runs the extraction stages a thinking-model
// response needs before it is valid JSON at all: drop <think> blocks,
// unwrap code fences, find the balanced JSON span, sanitize it.
func ExtractFromResponse(raw string) (string, bool) {
	s := StripThinkingBlocks(raw)
	s = StripCodeFences(s)
	candidate, ok := ExtractBalancedJSON(s)
	if !ok {
		return "", false
	}
	return SanitizeJSONString(candidate), true
}

// ParseRecursively unmarshals data, then walks the result looking for
// string values that are themselves JSON documents (a model sometimes
// double-encodes a nested object as a string) and inlines them.
func ParseRecursively(data string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, err
	}
	return recurse(v), nil
}

func recurse(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = recurse(maybeParseNestedString(val))
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = recurse(maybeParseNestedString(val))
		}
		return t
	default:
		return v
	}
}

func maybeParseNestedString(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return v
	}
	if (trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}') || (trimmed[0] == '[' && trimmed[len(trimmed)-1] == ']') {
		var nested any
		if err := json.Unmarshal([]byte(trimmed), &nested); err == nil {
			return nested
		}
	}
	return v
}

// FlattenTupleLists handles lists whose elements are themselves
// two-element [key, value] pairs — a shape some models emit instead of
// an object — flattening them into map[string]any.
func FlattenTupleLists(v any) any {
	switch t := v.(type) {
	case []any:
		if looksLikeTupleList(t) {
			m := make(map[string]any, len(t))
			for _, item := range t {
				pair := item.([]any)
				key, _ := pair[0].(string)
				m[key] = FlattenTupleLists(pair[1])
			}
			return m
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = FlattenTupleLists(item)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = FlattenTupleLists(val)
		}
		return t
	default:
		return v
	}
}

func looksLikeTupleList(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return false
		}
		if _, ok := pair[0].(string); !ok {
			return false
		}
	}
	return true
}

// FilterNullValues drops nil entries from lists, since a schema's
// required array fields reject explicit nulls even where they would be
// harmless placeholders.
func FilterNullValues(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			out = append(out, FilterNullValues(item))
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = FilterNullValues(val)
		}
		return t
	default:
		return v
	}
}

// CoerceBareStrings upgrades bare strings inside arrays stored under
// arrayKey into {field: value}, handling a model that answers
// "Economic impact" where {"title": "Economic impact"} was expected.
// Targeting by key keeps legitimate string arrays elsewhere in the same
// document (questions, queries, ids) untouched.
func CoerceBareStrings(v any, arrayKey, field string) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if k == arrayKey {
				if items, ok := val.([]any); ok {
					t[k] = coerceList(items, field)
					continue
				}
			}
			t[k] = CoerceBareStrings(val, arrayKey, field)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = CoerceBareStrings(item, arrayKey, field)
		}
		return t
	default:
		return v
	}
}

func coerceList(items []any, field string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		if s, ok := item.(string); ok {
			out[i] = map[string]any{field: s}
		} else {
			out[i] = item
		}
	}
	return out
}

// Repair runs the full pipeline over a raw model response and returns a
// generic value ready for schema validation/decoding into a concrete
// struct. coerceKey, when non-empty, names the one array field in the
// caller's schema whose bare strings should be wrapped as
// {coerceField: s}.
func Repair(raw string, coerceKey, coerceField string) (any, error) {
	extracted, ok := ExtractFromResponse(raw)
	if !ok {
		extracted = SanitizeJSONString(raw)
	}
	parsed, err := ParseRecursively(extracted)
	if err != nil {
		return nil, err
	}
	parsed = FlattenTupleLists(parsed)
	parsed = FilterNullValues(parsed)
	if coerceKey != "" {
		parsed = CoerceBareStrings(parsed, coerceKey, coerceField)
	}
	return parsed, nil
}

// Decode repairs raw and unmarshals the result into out via a JSON
// roundtrip, giving callers a typed struct instead of map[string]any.
func Decode(raw string, coerceKey, coerceField string, out any) error {
	repaired, err := Repair(raw, coerceKey, coerceField)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(repaired)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}
