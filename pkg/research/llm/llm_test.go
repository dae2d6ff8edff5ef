package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/research/costtracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	calls   int
	fail    int // number of leading calls that fail with a transport error
	reply   string
	usage   Usage
}

func (s *stubProvider) chat(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (string, Usage, error) {
	s.calls++
	if s.calls <= s.fail {
		return "", Usage{}, &Error{Kind: KindTransport, Err: errors.New("boom")}
	}
	return s.reply, s.usage, nil
}

func (s *stubProvider) chatStructured(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64, schemaName string, schema map[string]any) (string, Usage, error) {
	return s.chat(ctx, model, messages, maxTokens, temperature)
}

func TestClient_Chat_RetriesTransientThenSucceeds(t *testing.T) {
	sp := &stubProvider{fail: 2, reply: "hello", usage: Usage{InputTokens: 10, OutputTokens: 5}}
	c := &Client{provider: sp, model: config.ModelConfig{Model: "claude-sonnet-4-20250514"}, maxRetries: 3}

	text, usage, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 10, usage.InputTokens)
	assert.Equal(t, 3, sp.calls)
}

func TestClient_Chat_ExhaustsRetries(t *testing.T) {
	sp := &stubProvider{fail: 100}
	c := &Client{provider: sp, model: config.ModelConfig{Model: "x"}, maxRetries: 2}

	_, _, err := c.Chat(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 3, sp.calls) // attempt 0,1,2
}

func TestClient_Chat_RecordsCost(t *testing.T) {
	tr, err := costtracker.New("")
	require.NoError(t, err)
	sp := &stubProvider{reply: "ok", usage: Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}}
	c := &Client{provider: sp, model: config.ModelConfig{Model: "claude-sonnet-4-20250514"}, maxRetries: 0, tracker: tr}

	_, _, err = c.Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.InDelta(t, 18.0, tr.TotalCost(), 1e-9) // 3 + 15 per million
}

func TestClient_Structured_ParsesJSON(t *testing.T) {
	sp := &stubProvider{reply: `{"name":"federal jobs","count":3}`}
	c := &Client{provider: sp, model: config.ModelConfig{Model: "x"}, maxRetries: 0}

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	_, err := c.Structured(context.Background(), nil, "Result", `{"type":"object"}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "federal jobs", out.Name)
	assert.Equal(t, 3, out.Count)
}

func TestClient_Structured_RetriesOnceOnBadJSON(t *testing.T) {
	sp := &badThenGoodProvider{good: `{"name":"x"}`}
	c := &Client{provider: sp, model: config.ModelConfig{Model: "x"}, maxRetries: 0}

	var out struct {
		Name string `json:"name"`
	}
	_, err := c.Structured(context.Background(), nil, "Result", `{}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "x", out.Name)
	assert.Equal(t, 2, sp.calls)
}

type badThenGoodProvider struct {
	calls int
	good  string
}

func (p *badThenGoodProvider) chat(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (string, Usage, error) {
	p.calls++
	if p.calls == 1 {
		return "not json at all", Usage{}, nil
	}
	return p.good, Usage{}, nil
}

func (p *badThenGoodProvider) chatStructured(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64, schemaName string, schema map[string]any) (string, Usage, error) {
	return p.chat(ctx, model, messages, maxTokens, temperature)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("here you go: {\"a\":1} thanks"))
	assert.Equal(t, "no json here", extractJSON("no json here"))
}

func TestPrice_UnknownModel(t *testing.T) {
	cost, known := Price("some-future-model", Usage{InputTokens: 100, OutputTokens: 100})
	assert.False(t, known)
	assert.Equal(t, float64(0), cost)
}
