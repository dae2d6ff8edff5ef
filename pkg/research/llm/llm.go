// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm is the single façade over every model provider (spec §4.2):
// chat-completion and JSON-schema-constrained structured output, both
// wrapped in bounded retry with exponential backoff and attributed against a
// process-wide cost accumulator.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/observability"
	"github.com/kadirpekel/deepresearch/pkg/research/costtracker"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Kind classifies an Error for the orchestrator's retry/abort policy
// (spec §7 "LLMError{kind}").
type Kind string

const (
	KindTransport       Kind = "transport"
	KindRateLimit       Kind = "rate_limit"
	KindSchemaViolation Kind = "schema_violation"
	KindTokenBudget     Kind = "token_budget"
)

// Error wraps every failure the client surfaces to callers.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// provider is implemented once per backend (anthropic, openai, gemini,
// ollama). It never sees cost or retry concerns - those are handled in
// Client, uniformly, regardless of backend.
type provider interface {
	chat(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (string, Usage, error)

	// chatStructured performs a schema-constrained call using whatever
	// native mechanism the backend offers (Anthropic tool-forcing, OpenAI
	// response_format:json_schema, Gemini ResponseSchema, Ollama format) and
	// returns the already-schema-conformant JSON text (spec §9: "do not
	// post-parse JSON from free-text when the provider supports
	// schema-constrained mode"). schema is the decoded JSON Schema object
	// (schemagen.Of's output, unmarshaled once by the caller).
	chatStructured(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64, schemaName string, schema map[string]any) (string, Usage, error)
}

// Client is the façade consumed by every research component. It is built
// once per role via New(cfg.LLM.ForRole(role), ...), or a single shared instance can serve every
// role if the caller passes the same config.ModelConfig each time.
type Client struct {
	provider   provider
	model      config.ModelConfig
	maxRetries int
	tracker    *costtracker.Tracker
	metrics    observability.Recorder
}

// Model returns the resolved model name this client calls, for callers that
// need to size a prompt (e.g. extract's token-budgeted results block)
// against the model actually in use rather than a guess.
func (c *Client) Model() string {
	return c.model.Model
}

// New builds a Client bound to one resolved model configuration. Role
// resolution (config.LLMConfig.ForRole) happens in the caller so that each
// pipeline stage can hold its own Client without re-parsing config. Metrics
// recording is a no-op until SetMetrics is called - every one of the
// call sites across the pipeline stages and their tests keeps working
// unchanged.
func New(model config.ModelConfig, tracker *costtracker.Tracker) (*Client, error) {
	p, err := newProvider(model)
	if err != nil {
		return nil, fmt.Errorf("llm: building provider for %s: %w", model.Provider, err)
	}
	retries := model.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{provider: p, model: model, maxRetries: retries, tracker: tracker, metrics: observability.NoopMetrics{}}, nil
}

// SetMetrics wires m into every subsequent Chat/Structured call on c,
// recording RecordLLMCall/RecordLLMTokens/RecordLLMError (spec §1.5's
// ambient observability, mirroring how cmd/deepresearch/serve.go wires the
// same *observability.Metrics into its HTTP middleware). Passing nil
// restores the no-op recorder.
func (c *Client) SetMetrics(m observability.Recorder) {
	if m == nil {
		m = observability.NoopMetrics{}
	}
	c.metrics = m
}

func newProvider(model config.ModelConfig) (provider, error) {
	switch model.Provider {
	case config.ProviderAnthropic:
		return newAnthropicProvider(model), nil
	case config.ProviderOpenAI:
		return newOpenAIProvider(model), nil
	case config.ProviderGemini:
		return newGeminiProvider(model), nil
	case config.ProviderOllama:
		return newOllamaProvider(model), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", model.Provider)
	}
}

// callParams resolves the per-call knobs shared by chat and structured
// calls from the client's resolved model config.
func (c *Client) callParams() (int, float64) {
	maxTokens := c.model.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temperature := 0.7
	if c.model.Temperature != nil {
		temperature = *c.model.Temperature
	}
	return maxTokens, temperature
}

// Chat performs a chat-completion call (spec §4.2).
func (c *Client) Chat(ctx context.Context, messages []Message) (string, Usage, error) {
	maxTokens, temperature := c.callParams()
	return c.call(ctx, func(ctx context.Context) (string, Usage, error) {
		return c.provider.chat(ctx, c.model.Model, messages, maxTokens, temperature)
	})
}

// call runs fn under the client's retry/backoff policy and records the
// outcome to both the cost tracker and RecordLLMCall/RecordLLMTokens/
// RecordLLMError (spec §1.5) exactly once per invocation of call,
// regardless of how many attempts fn needed internally. Chat invokes it
// once; Structured invokes it a second time when it re-asks after a reply
// that did not parse.
func (c *Client) call(ctx context.Context, fn func(context.Context) (string, Usage, error)) (string, Usage, error) {
	var (
		text  string
		usage Usage
		err   error
	)

	metrics := c.metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	provider := string(c.model.Provider)
	start := time.Now()
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		text, usage, err = fn(ctx)
		if err == nil {
			break
		}
		lerr, ok := err.(*Error)
		if !ok || (lerr.Kind != KindTransport && lerr.Kind != KindRateLimit) {
			break
		}
		if attempt == c.maxRetries {
			break
		}
		delay := backoff(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", Usage{}, ctx.Err()
		}
	}

	latency := time.Since(start)
	cost, known := Price(c.model.Model, usage)
	status := "ok"
	if lerr, ok := err.(*Error); ok {
		if lerr.Kind == KindRateLimit {
			status = "rate_limited"
		} else {
			status = "error"
		}
	}
	if c.tracker != nil {
		c.tracker.Record(costtracker.Record{
			API:         "llm",
			Endpoint:    c.model.Model,
			Status:      status,
			LatencyMS:   latency.Milliseconds(),
			Error:       errString(err),
			CostDollars: cost,
			CostKnown:   known,
		})
	}

	metrics.RecordLLMCall(c.model.Model, provider, latency)
	metrics.RecordLLMTokens(c.model.Model, provider, usage.InputTokens, usage.OutputTokens)
	if err != nil {
		metrics.RecordLLMError(c.model.Model, provider, status)
		return "", Usage{}, err
	}
	return text, usage, nil
}

// Structured performs a JSON-schema-constrained call and unmarshals the
// result into out (spec §4.2 "structured"), using each provider's native
// schema-constrained mode (Anthropic tool-forcing, OpenAI
// response_format:json_schema, Gemini ResponseSchema, Ollama format) rather
// than post-parsing free text (spec §9). On the rare malformed response
// (e.g. a provider degrading under load) the call retries once with an
// emphasized schema reminder (spec §4.13, §7 "schema_violation retries
// once") before giving up with KindSchemaViolation.
func (c *Client) Structured(ctx context.Context, messages []Message, schemaName string, schemaJSON string, out any) (Usage, error) {
	var schema map[string]any
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return Usage{}, fmt.Errorf("llm: parsing schema %q: %w", schemaName, err)
	}

	maxTokens, temperature := c.callParams()
	callOnce := func(ctx context.Context, msgs []Message) (string, Usage, error) {
		return c.call(ctx, func(ctx context.Context) (string, Usage, error) {
			return c.provider.chatStructured(ctx, c.model.Model, msgs, maxTokens, temperature, schemaName, schema)
		})
	}

	text, usage, err := callOnce(ctx, messages)
	if err != nil {
		return usage, err
	}

	if jsonErr := json.Unmarshal([]byte(extractJSON(text)), out); jsonErr != nil {
		retryMessages := append(append([]Message{}, messages...),
			Message{Role: "assistant", Content: text},
			Message{
				Role: "user",
				Content: fmt.Sprintf(
					"That response did not parse as valid JSON matching the schema (%v). "+
						"Respond again with ONLY a JSON object matching the schema, nothing else.", jsonErr,
				),
			},
		)
		text2, usage2, err2 := callOnce(ctx, retryMessages)
		usage.InputTokens += usage2.InputTokens
		usage.OutputTokens += usage2.OutputTokens
		if err2 != nil {
			return usage, err2
		}
		if jsonErr2 := json.Unmarshal([]byte(extractJSON(text2)), out); jsonErr2 != nil {
			return usage, &Error{Kind: KindSchemaViolation, Err: jsonErr2}
		}
	}

	return usage, nil
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// extractJSON trims any leading/trailing prose or code fences a model might
// add despite instructions, returning the first top-level JSON object.
func extractJSON(s string) string {
	start := -1
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
