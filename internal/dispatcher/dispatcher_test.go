package dispatcher

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"missioncore/internal/governor"
)

func TestCalculateCost(t *testing.T) {
	b := Binding{Pricing: Pricing{InputPer1M: 3.00, OutputPer1M: 15.00}}
	in, out, total := CalculateCost(b, 1_000_000, 100_000)
	if math.Abs(in-3.00) > 1e-9 || math.Abs(out-1.50) > 1e-9 || math.Abs(total-4.50) > 1e-9 {
		t.Errorf("cost = (%f, %f, %f)", in, out, total)
	}
}

func TestDefaultBindingsCoverAllClasses(t *testing.T) {
	bindings := DefaultBindings()
	for _, class := range []ModelClass{ClassFast, ClassMid, ClassIntelligent, ClassVerifier} {
		b, ok := bindings[class]
		if !ok {
			t.Errorf("missing binding for %s", class)
			continue
		}
		if b.ModelID == "" || b.Endpoint == "" || b.APIKeyEnv == "" {
			t.Errorf("incomplete binding for %s: %+v", class, b)
		}
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	if _, ok := httpError(http.StatusUnauthorized, "").(*ConfigurationError); !ok {
		t.Error("401 should map to ConfigurationError")
	}
	if _, ok := httpError(http.StatusForbidden, "").(*QuotaError); !ok {
		t.Error("403 should map to QuotaError")
	}
	if _, ok := httpError(http.StatusInternalServerError, "boom").(*ConfigurationError); ok {
		t.Error("500 must stay a transient error")
	}
}

func serverBinding(url string) map[ModelClass]Binding {
	return map[ModelClass]Binding{
		ClassFast: {Class: ClassFast, ModelID: "test-model", Endpoint: url, APIKeyEnv: "TEST_KEY",
			Pricing: Pricing{InputPer1M: 1, OutputPer1M: 1}},
	}
}

func TestChatRetriesTransientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": "hello"}}},
			"usage":   map[string]int{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
	defer srv.Close()

	d := New(serverBinding(srv.URL), governor.NewGlobal(10))
	result, err := d.Chat(context.Background(), ClassFast, []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("content = %q", result.Content)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("server hit %d times, want 2 (one retry)", hits)
	}
	if result.Cost.TotalTokens != 7 {
		t.Errorf("usage not accounted: %+v", result.Cost)
	}
}

func TestChatFailsFastOnAuthError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := New(serverBinding(srv.URL), governor.NewGlobal(10))
	_, err := d.Chat(context.Background(), ClassFast, []Message{{Role: "user", Content: "hi"}})

	var cfgErr *ConfigurationError
	if !asConfig(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.UserMessage == "" {
		t.Error("configuration error must carry user-facing guidance")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("auth failure retried: %d hits", hits)
	}
}

func TestChatUnknownClass(t *testing.T) {
	d := New(map[ModelClass]Binding{}, governor.NewGlobal(10))
	if _, err := d.Chat(context.Background(), ClassVerifier, nil); err == nil {
		t.Error("unknown model class must error")
	}
}

func TestChatJSONRepairsChatteryResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := "Sure, here's the JSON you asked for:\n```json\n{\"queries\": [\"a\", \"b\"]}\n```"
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": reply}}},
			"usage":   map[string]int{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
	defer srv.Close()

	d := New(serverBinding(srv.URL), governor.NewGlobal(10))
	var out struct {
		Queries []string `json:"queries"`
	}
	if _, err := d.ChatJSON(context.Background(), ClassFast, []Message{{Role: "user", Content: "go"}}, "", "", &out); err != nil {
		t.Fatalf("chatjson: %v", err)
	}
	if len(out.Queries) != 2 {
		t.Errorf("queries = %v", out.Queries)
	}
}
