// Package dispatcher is the Model Dispatcher: it resolves a requested
// model class to a concrete provider binding, applies the global LLM
// semaphore, retries transient failures with backoff, and — for
// schema-constrained calls — runs the response through the jsonrepair
// pipeline before decoding it into the caller's struct.
package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"missioncore/internal/domain/events"
	"missioncore/internal/governor"
	"missioncore/internal/jsonrepair"
)

const openRouterURL = "https://openrouter.ai/api/v1/chat/completions"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Result carries a completion plus its accounted cost.
type Result struct {
	Content string
	Cost    events.CostBreakdown
}

// ConfigurationError indicates the provider rejected credentials (HTTP
// 401). Its message is user-facing guidance pointing at the settings
// surface rather than a raw status code.
type ConfigurationError struct {
	UserMessage string
}

func (e *ConfigurationError) Error() string { return e.UserMessage }

// QuotaError indicates the provider rejected the request for billing
// reasons (HTTP 403).
type QuotaError struct {
	UserMessage string
}

func (e *QuotaError) Error() string { return e.UserMessage }

// Dispatcher routes model-class requests to concrete provider calls.
type Dispatcher struct {
	bindings   map[ModelClass]Binding
	httpClient *http.Client
	global     *governor.Global
}

// New creates a Dispatcher over the given bindings, gated by global.
func New(bindings map[ModelClass]Binding, global *governor.Global) *Dispatcher {
	return &Dispatcher{
		bindings:   bindings,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		global:     global,
	}
}

// Chat sends messages to the given model class and returns the reply
// plus its cost, retrying transient errors with exponential backoff.
func (d *Dispatcher) Chat(ctx context.Context, class ModelClass, messages []Message) (*Result, error) {
	binding, ok := d.bindings[class]
	if !ok {
		return nil, fmt.Errorf("no binding for model class %q", class)
	}

	if err := d.global.Acquire(ctx); err != nil {
		return nil, err
	}
	defer d.global.Release()

	var result *Result
	op := func() error {
		r, err := d.callOnce(ctx, binding, messages)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(retryable(op), policy); err != nil {
		return nil, err
	}
	return result, nil
}

// retryable wraps op so permanent errors (config/quota) stop retrying
// immediately, while anything else is retried by the backoff policy.
func retryable(op func() error) func() error {
	return func() error {
		err := op()
		if err == nil {
			return nil
		}
		var cfgErr *ConfigurationError
		var quotaErr *QuotaError
		if asConfig(err, &cfgErr) || asQuota(err, &quotaErr) {
			return backoff.Permanent(err)
		}
		return err
	}
}

func asConfig(err error, target **ConfigurationError) bool {
	e, ok := err.(*ConfigurationError)
	if ok {
		*target = e
	}
	return ok
}

func asQuota(err error, target **QuotaError) bool {
	e, ok := err.(*QuotaError)
	if ok {
		*target = e
	}
	return ok
}

func (d *Dispatcher) callOnce(ctx context.Context, binding Binding, messages []Message) (*Result, error) {
	req := chatRequest{Model: binding.ModelID, Messages: messages, Temperature: binding.Temperature, MaxTokens: binding.MaxTokens}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", binding.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+os.Getenv(binding.APIKeyEnv))

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, httpError(resp.StatusCode, string(respBody))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("empty completion from %s", binding.ModelID)
	}

	_, _, totalCost := CalculateCost(binding, chat.Usage.PromptTokens, chat.Usage.CompletionTokens)
	return &Result{
		Content: chat.Choices[0].Message.Content,
		Cost: events.CostBreakdown{
			InputTokens: chat.Usage.PromptTokens, OutputTokens: chat.Usage.CompletionTokens,
			TotalTokens: chat.Usage.TotalTokens, TotalCostUSD: totalCost,
		},
	}, nil
}

func httpError(status int, body string) error {
	switch status {
	case http.StatusUnauthorized:
		return &ConfigurationError{UserMessage: configurationErrorMessage()}
	case http.StatusForbidden:
		return &QuotaError{UserMessage: quotaErrorMessage()}
	default:
		return fmt.Errorf("provider error %d: %s", status, body)
	}
}

// ChatJSON calls Chat and decodes the response through the jsonrepair
// pipeline into out, retrying the whole repair+decode once against a
// fresh completion if the first response doesn't parse — chatty thinking
// models may need more than one pass. coerceKey/coerceField name the one
// array field (if any) whose bare strings should be wrapped as objects.
func (d *Dispatcher) ChatJSON(ctx context.Context, class ModelClass, messages []Message, coerceKey, coerceField string, out any) (*Result, error) {
	result, err := d.Chat(ctx, class, messages)
	if err != nil {
		return nil, err
	}
	if decodeErr := jsonrepair.Decode(result.Content, coerceKey, coerceField, out); decodeErr != nil {
		retryMsgs := append(append([]Message{}, messages...), Message{
			Role: "user", Content: "Your previous reply did not parse as valid JSON. Reply with only the JSON object, no prose.",
		})
		retryResult, retryErr := d.Chat(ctx, class, retryMsgs)
		if retryErr != nil {
			return nil, fmt.Errorf("decode response: %w", decodeErr)
		}
		if decodeErr2 := jsonrepair.Decode(retryResult.Content, coerceKey, coerceField, out); decodeErr2 != nil {
			return nil, fmt.Errorf("decode response after retry: %w", decodeErr2)
		}
		retryResult.Cost.Add(result.Cost)
		return retryResult, nil
	}
	return result, nil
}

// StreamChat streams a completion, invoking handler per text delta.
// Kept for components (e.g. a future interactive transport) that want
// incremental output; the Agent Controller itself only uses Chat/ChatJSON.
func (d *Dispatcher) StreamChat(ctx context.Context, class ModelClass, messages []Message, handler func(chunk string) error) error {
	binding, ok := d.bindings[class]
	if !ok {
		return fmt.Errorf("no binding for model class %q", class)
	}
	if err := d.global.Acquire(ctx); err != nil {
		return err
	}
	defer d.global.Release()

	req := chatRequest{Model: binding.ModelID, Messages: messages, Temperature: binding.Temperature, MaxTokens: binding.MaxTokens, Stream: true}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", binding.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+os.Getenv(binding.APIKeyEnv))

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return httpError(resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if err := handler(chunk.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
