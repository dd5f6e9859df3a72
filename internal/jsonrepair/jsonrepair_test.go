package jsonrepair

import (
	"reflect"
	"testing"
)

func TestExtractBalancedJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"plain object", `{"a": 1}`, `{"a": 1}`, true},
		{"chatter around object", `Sure! Here you go: {"a": 1} Hope that helps.`, `{"a": 1}`, true},
		{"array", `the answer is [1, 2, 3] as requested`, `[1, 2, 3]`, true},
		{"nested braces", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`, true},
		{"brace inside string", `{"a": "close } brace"}`, `{"a": "close } brace"}`, true},
		{"escaped quote in string", `{"a": "say \" and } go"}`, `{"a": "say \" and } go"}`, true},
		{"no json", `no structured content here`, "", false},
		{"unterminated", `{"a": 1`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractBalancedJSON(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExtractFromResponse(t *testing.T) {
	raw := "<think>let me reason about this</think>\n```json\n{\"queries\": [\"a\", \"b\"],}\n```"
	got, ok := ExtractFromResponse(raw)
	if !ok {
		t.Fatal("extraction failed")
	}
	if got != `{"queries": ["a", "b"]}` {
		t.Errorf("got %q", got)
	}
}

func TestSanitizeJSONString(t *testing.T) {
	in := "{“a”: “x”, \"b\": [1, 2,],}"
	want := `{"a": "x", "b": [1, 2]}`
	if got := SanitizeJSONString(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseRecursively(t *testing.T) {
	// A nested object double-encoded as a string must be inlined.
	in := `{"outer": "{\"inner\": 42}"}`
	v, err := ParseRecursively(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	outer := v.(map[string]any)["outer"]
	inner, ok := outer.(map[string]any)
	if !ok {
		t.Fatalf("nested string not parsed: %T", outer)
	}
	if inner["inner"].(float64) != 42 {
		t.Errorf("inner = %v", inner["inner"])
	}
}

func TestFlattenTupleLists(t *testing.T) {
	in := []any{
		[]any{"title", "Economic impact"},
		[]any{"description", "costs and benefits"},
	}
	got := FlattenTupleLists(in)
	want := map[string]any{"title": "Economic impact", "description": "costs and benefits"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// A list that isn't all pairs stays a list.
	mixed := []any{[]any{"a", 1}, "stray"}
	if _, isMap := FlattenTupleLists(mixed).(map[string]any); isMap {
		t.Error("mixed list must not flatten to a map")
	}
}

func TestFilterNullValues(t *testing.T) {
	in := map[string]any{"items": []any{"a", nil, "b", nil}}
	got := FilterNullValues(in).(map[string]any)["items"].([]any)
	if len(got) != 2 {
		t.Errorf("nulls not filtered: %v", got)
	}
}

func TestCoerceBareStrings(t *testing.T) {
	in := map[string]any{
		"topics":    []any{"Economic impact", map[string]any{"title": "Existing"}},
		"questions": []any{"why?", "how?"},
	}
	got := CoerceBareStrings(in, "topics", "title").(map[string]any)
	topics := got["topics"].([]any)
	first, ok := topics[0].(map[string]any)
	if !ok || first["title"] != "Economic impact" {
		t.Errorf("bare string not coerced: %v", topics[0])
	}
	if _, ok := topics[1].(map[string]any); !ok {
		t.Error("existing object must pass through")
	}
	// Arrays under other keys stay plain strings.
	if _, ok := got["questions"].([]any)[0].(string); !ok {
		t.Error("untargeted string array must not be coerced")
	}
}

func TestDecodeEndToEnd(t *testing.T) {
	type topic struct {
		Title string `json:"title"`
	}
	type out struct {
		Topics []topic `json:"topics"`
	}

	raw := "<think>reasoning</think>Here's my answer:\n```json\n{\"topics\": [\"Plain string topic\", {\"title\": \"Object topic\"}, null]}\n```"
	var decoded out
	if err := Decode(raw, "topics", "title", &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Topics) != 2 {
		t.Fatalf("topics = %+v", decoded.Topics)
	}
	if decoded.Topics[0].Title != "Plain string topic" || decoded.Topics[1].Title != "Object topic" {
		t.Errorf("topics = %+v", decoded.Topics)
	}
}
