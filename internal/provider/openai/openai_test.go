package openai

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/kubellm/kubellm/internal/chat"
	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestBuildRequest_RoundTrip(t *testing.T) {
	a := NewAdapter()

	creq := &chat.Request{
		Model: "gpt-4o",
		Messages: []chat.Message{
			{Role: "system", Content: chat.TextContent("be brief")},
			{Role: "user", Content: chat.TextContent("hi")},
		},
		MaxTokens:   128,
		Temperature: floatPtr(0.2),
		Stop:        []string{"\n"},
		Extra: map[string]json.RawMessage{
			"seed": json.RawMessage(`42`),
		},
	}

	httpReq, dropped, err := a.BuildRequest(context.Background(), "https://api.openai.com/v1/chat/completions", "sk-test", creq)
	require.NoError(t, err)
	assert.Empty(t, dropped)

	assert.Equal(t, http.MethodPost, httpReq.Method)
	assert.Equal(t, "Bearer sk-test", httpReq.Header.Get("Authorization"))

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)

	var wire chat.Request
	require.NoError(t, json.Unmarshal(body, &wire))

	assert.Equal(t, creq.Model, wire.Model)
	assert.Equal(t, creq.MaxTokens, wire.MaxTokens)
	assert.Equal(t, *creq.Temperature, *wire.Temperature)
	assert.Equal(t, creq.Stop, wire.Stop)
	require.Len(t, wire.Messages, 2)
	assert.Equal(t, "be brief", wire.Messages[0].Text())
	assert.Equal(t, `42`, string(wire.Extra["seed"]))
}

func TestBuildRequest_StreamingHeaders(t *testing.T) {
	a := NewAdapter()

	creq := &chat.Request{
		Model:    "gpt-4o",
		Messages: []chat.Message{{Role: "user", Content: chat.TextContent("hi")}},
		Stream:   true,
	}

	httpReq, _, err := a.BuildRequest(context.Background(), "https://api.openai.com/v1/chat/completions", "sk-test", creq)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", httpReq.Header.Get("Accept"))
}

func TestParseResponse_UsagePreservedVerbatim(t *testing.T) {
	a := NewAdapter()

	body := []byte(`{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
	}`)

	res, err := a.ParseResponse(body)
	require.NoError(t, err)

	require.NotNil(t, res.Usage)
	assert.Equal(t, 9, res.Usage.PromptTokens)
	assert.Equal(t, 3, res.Usage.CompletionTokens)
	assert.Equal(t, 12, res.Usage.TotalTokens)
	assert.False(t, res.Usage.Estimated)

	require.Len(t, res.Choices, 1)
	assert.Equal(t, "hello", res.Choices[0].Message.Text())
	assert.Equal(t, "stop", res.Choices[0].FinishReason)
}

func TestParseResponse_MissingUsage(t *testing.T) {
	a := NewAdapter()

	body := []byte(`{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}]
	}`)

	res, err := a.ParseResponse(body)
	require.NoError(t, err)
	assert.Nil(t, res.Usage)
}

func TestParseChunk(t *testing.T) {
	a := NewAdapter()

	chunk, err := a.ParseChunk([]byte(`{
		"id": "chatcmpl-1",
		"object": "chat.completion.chunk",
		"model": "gpt-4o",
		"choices": [{"index": 0, "delta": {"content": "hel"}}]
	}`))
	require.NoError(t, err)

	require.Len(t, chunk.Choices, 1)
	assert.Equal(t, "hel", chunk.Choices[0].Delta.Content)
	assert.Nil(t, chunk.Usage)
}

func TestParseChunk_FinalUsage(t *testing.T) {
	a := NewAdapter()

	chunk, err := a.ParseChunk([]byte(`{
		"id": "chatcmpl-1",
		"object": "chat.completion.chunk",
		"model": "gpt-4o",
		"choices": [],
		"usage": {"prompt_tokens": 9, "completion_tokens": 5, "total_tokens": 14}
	}`))
	require.NoError(t, err)

	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 14, chunk.Usage.TotalTokens)
}

func TestMapError(t *testing.T) {
	a := NewAdapter()

	err := a.MapError(http.StatusServiceUnavailable, []byte(`{"error": {"message": "overloaded"}}`))
	var pe *internal_errors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, internal_errors.ProviderUnavailable, pe.Kind())

	err = a.MapError(http.StatusBadRequest, []byte(`{"error": {"message": "bad request"}}`))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, internal_errors.ProviderProtocolError, pe.Kind())
}
