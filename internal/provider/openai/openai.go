package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/kubellm/kubellm/internal/chat"
	internal_errors "github.com/kubellm/kubellm/internal/errors"
	goopenai "github.com/sashabaranov/go-openai"
)

const ProviderName = "openai"

// Adapter speaks the OpenAI chat completions dialect. The canonical
// format is OpenAI shaped, so translation is a passthrough with Extra
// fields merged back in.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string {
	return ProviderName
}

func (a *Adapter) BuildRequest(ctx context.Context, endpoint string, apiKey string, req *chat.Request) (*http.Request, []string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))

	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
		httpReq.Header.Set("Connection", "keep-alive")
	}

	return httpReq, nil, nil
}

func (a *Adapter) ParseResponse(body []byte) (*chat.Response, error) {
	res := &goopenai.ChatCompletionResponse{}
	if err := json.Unmarshal(body, res); err != nil {
		return nil, internal_errors.NewProviderProtocolError(fmt.Sprintf("unexpected openai response: %v", err))
	}

	choices := make([]chat.Choice, 0, len(res.Choices))
	for _, c := range res.Choices {
		choices = append(choices, chat.Choice{
			Index: c.Index,
			Message: chat.Message{
				Role:    c.Message.Role,
				Content: chat.TextContent(c.Message.Content),
			},
			FinishReason: string(c.FinishReason),
		})
	}

	parsed := &chat.Response{
		Id:                res.ID,
		Object:            res.Object,
		Created:           res.Created,
		Model:             res.Model,
		Choices:           choices,
		SystemFingerprint: res.SystemFingerprint,
	}

	if res.Usage.TotalTokens != 0 || res.Usage.PromptTokens != 0 {
		parsed.Usage = &chat.Usage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		}
	}

	return parsed, nil
}

func (a *Adapter) ParseChunk(data []byte) (*chat.Chunk, error) {
	if len(data) == 0 {
		return nil, nil
	}

	res := &goopenai.ChatCompletionStreamResponse{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, internal_errors.NewProviderProtocolError(fmt.Sprintf("unexpected openai stream chunk: %v", err))
	}

	choices := make([]chat.StreamChoice, 0, len(res.Choices))
	for _, c := range res.Choices {
		choices = append(choices, chat.StreamChoice{
			Index: c.Index,
			Delta: chat.StreamDelta{
				Role:    c.Delta.Role,
				Content: c.Delta.Content,
			},
			FinishReason: string(c.FinishReason),
		})
	}

	chunk := &chat.Chunk{
		Id:      res.ID,
		Object:  res.Object,
		Created: res.Created,
		Model:   res.Model,
		Choices: choices,
	}

	if res.Usage != nil {
		chunk.Usage = &chat.Usage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		}
	}

	return chunk, nil
}

func (a *Adapter) MapError(statusCode int, body []byte) error {
	res := &goopenai.ErrorResponse{}
	message := ""
	if err := json.Unmarshal(body, res); err == nil && res.Error != nil {
		message = res.Error.Message
	}

	if statusCode >= http.StatusInternalServerError {
		return internal_errors.NewProviderUnavailableError(fmt.Sprintf("openai returned %d: %s", statusCode, message))
	}

	return internal_errors.NewProviderProtocolError(fmt.Sprintf("openai returned %d: %s", statusCode, message))
}
