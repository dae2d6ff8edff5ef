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

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/httpclient"
	"google.golang.org/genai"
)

// --- Anthropic -------------------------------------------------------------

type anthropicProvider struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

func newAnthropicProvider(m config.ModelConfig) *anthropicProvider {
	base := m.BaseURL
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &anthropicProvider{
		apiKey:  m.APIKey,
		baseURL: base,
		client: httpclient.New(
			httpclient.WithMaxRetries(0), // retry/backoff lives in Client.call
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
			httpclient.WithHTTPClient(&http.Client{Timeout: timeoutOrDefault(m.TimeoutSeconds)}),
		),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
}

// anthropicTool and anthropicToolChoice force the model to emit its reply
// as a single tool call whose input conforms to InputSchema, Anthropic's
// mechanism for schema-constrained output (spec §9: prefer native
// schema-constrained modes over post-parsing free text).
type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"` // "tool" forces the named tool
	Name string `json:"name"`
}

type anthropicContent struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func splitSystem(messages []Message) (string, []anthropicMessage) {
	var system string
	var wire []anthropicMessage
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		wire = append(wire, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return system, wire
}

// do posts reqBody to /v1/messages and returns the decoded response, with
// HTTP/transport/rate-limit errors classified into *Error. Shared by chat
// and chatStructured, which differ only in whether reqBody carries a
// forced tool and how the resulting content block is read.
func (p *anthropicProvider) do(ctx context.Context, reqBody anthropicRequest) (*anthropicResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}

	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if out.Error != nil {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("%s: %s", out.Error.Type, out.Error.Message)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Kind: KindRateLimit, Err: fmt.Errorf("anthropic rate limited")}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("anthropic http %d", resp.StatusCode)}
	}
	return &out, nil
}

func (p *anthropicProvider) chat(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (string, Usage, error) {
	system, wire := splitSystem(messages)

	out, err := p.do(ctx, anthropicRequest{
		Model:       model,
		System:      system,
		Messages:    wire,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", Usage{}, err
	}

	var text string
	for _, c := range out.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return text, Usage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens}, nil
}

// chatStructured forces a single tool call shaped by schema (Anthropic's
// schema-constrained output mechanism: no free-text JSON response to
// post-parse, the tool_use block's already-parsed input IS the result).
func (p *anthropicProvider) chatStructured(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64, schemaName string, schema map[string]any) (string, Usage, error) {
	system, wire := splitSystem(messages)

	out, err := p.do(ctx, anthropicRequest{
		Model:       model,
		System:      system,
		Messages:    wire,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Tools: []anthropicTool{{
			Name:        schemaName,
			Description: fmt.Sprintf("Report output conforming to the %s schema.", schemaName),
			InputSchema: schema,
		}},
		ToolChoice: &anthropicToolChoice{Type: "tool", Name: schemaName},
	})
	if err != nil {
		return "", Usage{}, err
	}

	usage := Usage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens}
	for _, c := range out.Content {
		if c.Type == "tool_use" && c.Name == schemaName {
			input, err := json.Marshal(c.Input)
			if err != nil {
				return "", usage, &Error{Kind: KindSchemaViolation, Err: err}
			}
			return string(input), usage, nil
		}
	}
	return "", usage, &Error{Kind: KindSchemaViolation, Err: fmt.Errorf("anthropic: no tool_use block named %q in response", schemaName)}
}

// --- OpenAI ------------------------------------------------------------

type openAIProvider struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

func newOpenAIProvider(m config.ModelConfig) *openAIProvider {
	base := m.BaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	return &openAIProvider{
		apiKey:  m.APIKey,
		baseURL: base,
		client: httpclient.New(
			httpclient.WithMaxRetries(0),
			httpclient.WithHTTPClient(&http.Client{Timeout: timeoutOrDefault(m.TimeoutSeconds)}),
		),
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

// openAIResponseFormat requests OpenAI's chat-completions-era
// schema-constrained output (spec §9): json_schema.schema is enforced
// server-side, so the reply's content is already schema-conformant JSON
// and never needs post-parsing.
type openAIResponseFormat struct {
	Type       string           `json:"type"` // "json_schema"
	JSONSchema openAIJSONSchema `json:"json_schema"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// do posts reqBody to /v1/chat/completions and returns the first choice's
// content plus usage, with HTTP/transport/rate-limit errors classified.
// Shared by chat and chatStructured, which differ only in whether reqBody
// carries a ResponseFormat.
func (p *openAIProvider) do(ctx context.Context, reqBody openAIRequest) (string, Usage, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", Usage{}, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: err}
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if out.Error != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: fmt.Errorf("%s: %s", out.Error.Type, out.Error.Message)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", Usage{}, &Error{Kind: KindRateLimit, Err: fmt.Errorf("openai rate limited")}
	}
	if resp.StatusCode >= 400 {
		return "", Usage{}, &Error{Kind: KindTransport, Err: fmt.Errorf("openai http %d", resp.StatusCode)}
	}
	if len(out.Choices) == 0 {
		return "", Usage{}, &Error{Kind: KindTransport, Err: fmt.Errorf("openai: empty choices")}
	}

	return out.Choices[0].Message.Content, Usage{InputTokens: out.Usage.PromptTokens, OutputTokens: out.Usage.CompletionTokens}, nil
}

func (p *openAIProvider) chat(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (string, Usage, error) {
	var wire []openAIMessage
	for _, m := range messages {
		wire = append(wire, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return p.do(ctx, openAIRequest{Model: model, Messages: wire, MaxTokens: maxTokens, Temperature: temperature})
}

// chatStructured requests OpenAI's native json_schema response format
// (spec §9) instead of post-parsing free text. Strict is left false: our
// schemas (schemagen.Of) mark individual fields required via jsonschema
// tags rather than listing every property as required with
// additionalProperties:false, which is what OpenAI's strict mode demands.
func (p *openAIProvider) chatStructured(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64, schemaName string, schema map[string]any) (string, Usage, error) {
	var wire []openAIMessage
	for _, m := range messages {
		wire = append(wire, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return p.do(ctx, openAIRequest{
		Model:       model,
		Messages:    wire,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		ResponseFormat: &openAIResponseFormat{
			Type:       "json_schema",
			JSONSchema: openAIJSONSchema{Name: schemaName, Strict: false, Schema: schema},
		},
	})
}

// --- Gemini (google.golang.org/genai) -----------------------------------

type geminiProvider struct {
	apiKey string
	model  string
}

func newGeminiProvider(m config.ModelConfig) *geminiProvider {
	return &geminiProvider{apiKey: m.APIKey}
}

// geminiContents splits messages into a system instruction and the
// alternating user/model turns genai.GenerateContent expects.
func geminiContents(messages []Message) (string, []*genai.Content) {
	var system string
	var contents []*genai.Content
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Parts: []*genai.Part{{Text: m.Content}},
			Role:  role,
		})
	}
	return system, contents
}

func (p *geminiProvider) generate(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64, schema map[string]any) (string, Usage, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
	if err != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: err}
	}

	system, contents := geminiContents(messages)

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Temperature:     genai.Ptr(float32(temperature)),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
			Role:  "user",
		}
	}
	if schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toGenaiSchema(schema)
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", Usage{}, classifyHTTPErr(err)
	}

	var text string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			text += part.Text
		}
	}
	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return text, usage, nil
}

func (p *geminiProvider) chat(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (string, Usage, error) {
	return p.generate(ctx, model, messages, maxTokens, temperature, nil)
}

// chatStructured sets GenerateContentConfig.ResponseSchema (spec §9):
// Gemini enforces the schema server-side and returns conformant JSON text
// directly, no post-parsing required.
func (p *geminiProvider) chatStructured(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64, schemaName string, schema map[string]any) (string, Usage, error) {
	return p.generate(ctx, model, messages, maxTokens, temperature, schema)
}

// toGenaiSchema recursively converts a decoded JSON Schema object into
// genai's native *genai.Schema, the shape GenerateContentConfig.ResponseSchema
// requires.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		out.Type = genaiSchemaType(t)
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if propSchema, ok := raw.(map[string]any); ok {
				out.Properties[name] = toGenaiSchema(propSchema)
			}
		}
	}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	return out
}

func genaiSchemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}

// --- Ollama (local) ------------------------------------------------------

type ollamaProvider struct {
	baseURL string
	client  *httpclient.Client
}

func newOllamaProvider(m config.ModelConfig) *ollamaProvider {
	base := m.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	return &ollamaProvider{
		baseURL: base,
		client: httpclient.New(
			httpclient.WithMaxRetries(0),
			httpclient.WithHTTPClient(&http.Client{Timeout: timeoutOrDefault(m.TimeoutSeconds)}),
		),
	}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
	// Format carries a raw JSON Schema object straight through to Ollama's
	// structured-output mode (spec §9) when set; omitted for plain chat.
	Format any `json:"format,omitempty"`
}

type ollamaResponse struct {
	Message         openAIMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *ollamaProvider) do(ctx context.Context, req ollamaRequest) (string, Usage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", Usage{}, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: err}
	}
	if resp.StatusCode >= 400 {
		return "", Usage{}, &Error{Kind: KindTransport, Err: fmt.Errorf("ollama http %d", resp.StatusCode)}
	}

	var out ollamaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", Usage{}, &Error{Kind: KindTransport, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return out.Message.Content, Usage{InputTokens: out.PromptEvalCount, OutputTokens: out.EvalCount}, nil
}

func (p *ollamaProvider) chat(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (string, Usage, error) {
	var wire []openAIMessage
	for _, m := range messages {
		wire = append(wire, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return p.do(ctx, ollamaRequest{
		Model:    model,
		Messages: wire,
		Stream:   false,
		Options:  map[string]any{"temperature": temperature, "num_predict": maxTokens},
	})
}

// chatStructured sets the request's format field to the raw schema object
// (spec §9): Ollama enforces it during generation and returns conformant
// JSON text, no post-parsing required.
func (p *ollamaProvider) chatStructured(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64, schemaName string, schema map[string]any) (string, Usage, error) {
	var wire []openAIMessage
	for _, m := range messages {
		wire = append(wire, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return p.do(ctx, ollamaRequest{
		Model:    model,
		Messages: wire,
		Stream:   false,
		Options:  map[string]any{"temperature": temperature, "num_predict": maxTokens},
		Format:   schema,
	})
}

func timeoutOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func classifyHTTPErr(err error) *Error {
	if retryable, ok := err.(*httpclient.RetryableError); ok {
		if retryable.StatusCode == http.StatusTooManyRequests {
			return &Error{Kind: KindRateLimit, Err: retryable}
		}
		return &Error{Kind: KindTransport, Err: retryable}
	}
	return &Error{Kind: KindTransport, Err: err}
}
