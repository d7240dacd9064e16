package anthropic

import (
	"context"
	"io"
	"testing"

	"github.com/goccy/go-json"
	"github.com/kubellm/kubellm/internal/chat"
	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestBuildRequest_Translation(t *testing.T) {
	a := NewAdapter()

	creq := &chat.Request{
		Model: "claude-3-5-sonnet-20240620",
		Messages: []chat.Message{
			{Role: "system", Content: chat.TextContent("be brief")},
			{Role: "user", Content: chat.TextContent("hi")},
			{Role: "assistant", Content: chat.TextContent("hello")},
			{Role: "user", Content: chat.TextContent("bye")},
		},
		MaxTokens:   256,
		Temperature: floatPtr(0.3),
		Stop:        []string{"END"},
		User:        "user-7",
	}

	httpReq, dropped, err := a.BuildRequest(context.Background(), "https://api.anthropic.com/v1/messages", "sk-ant", creq)
	require.NoError(t, err)
	assert.Empty(t, dropped)

	assert.Equal(t, "sk-ant", httpReq.Header.Get("x-api-key"))
	assert.Equal(t, apiVersion, httpReq.Header.Get("anthropic-version"))

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)

	var wire MessagesRequest
	require.NoError(t, json.Unmarshal(body, &wire))

	assert.Equal(t, "claude-3-5-sonnet-20240620", wire.Model)
	assert.Equal(t, "be brief", wire.System)
	assert.Equal(t, 256, wire.MaxTokens)
	assert.Equal(t, []string{"END"}, wire.StopSequences)
	assert.Equal(t, 0.3, *wire.Temperature)
	require.NotNil(t, wire.Metadata)
	assert.Equal(t, "user-7", wire.Metadata.UserId)

	// system messages never appear in the messages array
	require.Len(t, wire.Messages, 3)
	assert.Equal(t, "user", wire.Messages[0].Role)
	assert.Equal(t, "hi", wire.Messages[0].Content)
	assert.Equal(t, "assistant", wire.Messages[1].Role)
}

func TestBuildRequest_DefaultMaxTokens(t *testing.T) {
	a := NewAdapter()

	creq := &chat.Request{
		Model:    "claude-3-haiku-20240307",
		Messages: []chat.Message{{Role: "user", Content: chat.TextContent("hi")}},
	}

	httpReq, _, err := a.BuildRequest(context.Background(), "https://api.anthropic.com/v1/messages", "sk-ant", creq)
	require.NoError(t, err)

	body, _ := io.ReadAll(httpReq.Body)

	var wire MessagesRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, defaultMaxTokens, wire.MaxTokens)
}

func TestBuildRequest_RecordsDroppedParameters(t *testing.T) {
	a := NewAdapter()

	creq := &chat.Request{
		Model:           "claude-3-5-sonnet-20240620",
		Messages:        []chat.Message{{Role: "user", Content: chat.TextContent("hi")}},
		N:               3,
		PresencePenalty: floatPtr(0.5),
		Extra: map[string]json.RawMessage{
			"logit_bias": json.RawMessage(`{}`),
		},
	}

	_, dropped, err := a.BuildRequest(context.Background(), "https://api.anthropic.com/v1/messages", "sk-ant", creq)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"n", "presence_penalty", "logit_bias"}, dropped)
}

func TestParseResponse(t *testing.T) {
	a := NewAdapter()

	body := []byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-sonnet-20240620",
		"content": [{"type": "text", "text": "hello"}, {"type": "text", "text": " there"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 4}
	}`)

	res, err := a.ParseResponse(body)
	require.NoError(t, err)

	require.Len(t, res.Choices, 1)
	assert.Equal(t, "assistant", res.Choices[0].Message.Role)
	assert.Equal(t, "hello there", res.Choices[0].Message.Text())
	assert.Equal(t, "stop", res.Choices[0].FinishReason)

	require.NotNil(t, res.Usage)
	assert.Equal(t, 12, res.Usage.PromptTokens)
	assert.Equal(t, 4, res.Usage.CompletionTokens)
	assert.Equal(t, 16, res.Usage.TotalTokens)
}

func TestParseResponse_MaxTokensStop(t *testing.T) {
	a := NewAdapter()

	body := []byte(`{
		"id": "msg_1",
		"content": [{"type": "text", "text": "truncated"}],
		"stop_reason": "max_tokens",
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`)

	res, err := a.ParseResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "length", res.Choices[0].FinishReason)
}

func TestParseChunk_StreamEvents(t *testing.T) {
	a := NewAdapter()

	t.Run("message_start carries prompt tokens", func(t *testing.T) {
		chunk, err := a.ParseChunk([]byte(`{"type": "message_start", "message": {"id": "msg_1", "model": "claude-3-5-sonnet-20240620", "usage": {"input_tokens": 25, "output_tokens": 0}}}`))
		require.NoError(t, err)

		require.NotNil(t, chunk)
		assert.Equal(t, "assistant", chunk.Choices[0].Delta.Role)
		require.NotNil(t, chunk.Usage)
		assert.Equal(t, 25, chunk.Usage.PromptTokens)
	})

	t.Run("content_block_delta carries text", func(t *testing.T) {
		chunk, err := a.ParseChunk([]byte(`{"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "hel"}}`))
		require.NoError(t, err)

		require.NotNil(t, chunk)
		assert.Equal(t, "hel", chunk.Choices[0].Delta.Content)
	})

	t.Run("message_delta carries stop reason and output tokens", func(t *testing.T) {
		chunk, err := a.ParseChunk([]byte(`{"type": "message_delta", "delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 17}}`))
		require.NoError(t, err)

		require.NotNil(t, chunk)
		assert.Equal(t, "stop", chunk.Choices[0].FinishReason)
		require.NotNil(t, chunk.Usage)
		assert.Equal(t, 17, chunk.Usage.CompletionTokens)
	})

	t.Run("ping and message_stop are transparent", func(t *testing.T) {
		chunk, err := a.ParseChunk([]byte(`{"type": "ping"}`))
		require.NoError(t, err)
		assert.Nil(t, chunk)

		chunk, err = a.ParseChunk([]byte(`{"type": "message_stop"}`))
		require.NoError(t, err)
		assert.Nil(t, chunk)
	})

	t.Run("error event maps to provider error", func(t *testing.T) {
		_, err := a.ParseChunk([]byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "overloaded"}}`))
		require.Error(t, err)

		var pe *internal_errors.ProviderError
		assert.ErrorAs(t, err, &pe)
	})
}

func TestMapError(t *testing.T) {
	a := NewAdapter()

	var pe *internal_errors.ProviderError

	err := a.MapError(529, []byte(`{"error": {"type": "overloaded_error", "message": "overloaded"}}`))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, internal_errors.ProviderUnavailable, pe.Kind())

	err = a.MapError(400, []byte(`{"error": {"type": "invalid_request_error", "message": "bad"}}`))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, internal_errors.ProviderProtocolError, pe.Kind())
}
