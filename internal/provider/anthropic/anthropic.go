// Package anthropic translates between the canonical chat format and
// the Anthropic messages API, including its event based stream dialect.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/kubellm/kubellm/internal/chat"
	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/tidwall/gjson"
)

const (
	ProviderName = "anthropic"

	apiVersion = "2023-06-01"

	// anthropic requires max_tokens; applied when the caller sets none.
	defaultMaxTokens = 4096
)

type Metadata struct {
	UserId string `json:"user_id"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type MessagesRequest struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	System        string    `json:"system,omitempty"`
	MaxTokens     int       `json:"max_tokens"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	Metadata      *Metadata `json:"metadata,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type MessageResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type MessagesResponse struct {
	Id           string                   `json:"id"`
	Type         string                   `json:"type"`
	Role         string                   `json:"role"`
	Content      []MessageResponseContent `json:"content"`
	Model        string                   `json:"model"`
	StopReason   string                   `json:"stop_reason"`
	StopSequence string                   `json:"stop_sequence,omitempty"`
	Usage        MessagesUsage            `json:"usage"`
}

type MessagesStreamMessageStart struct {
	Message MessagesResponse `json:"message"`
}

type MessagesStreamMessageDelta struct {
	Delta struct {
		StopReason   string `json:"stop_reason"`
		StopSequence string `json:"stop_sequence,omitempty"`
	} `json:"delta"`

	Usage MessagesUsage `json:"usage"`
}

type MessagesStreamBlockDelta struct {
	Index int                    `json:"index"`
	Delta MessageResponseContent `json:"delta"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error *Error `json:"error"`
}

type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string {
	return ProviderName
}

func (a *Adapter) BuildRequest(ctx context.Context, endpoint string, apiKey string, req *chat.Request) (*http.Request, []string, error) {
	dropped := []string{}

	wire := &MessagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}

	if wire.MaxTokens == 0 {
		wire.MaxTokens = defaultMaxTokens
	}

	if len(req.Stop) != 0 {
		wire.StopSequences = req.Stop
	}

	if len(req.User) != 0 {
		wire.Metadata = &Metadata{UserId: req.User}
	}

	// system prompts are a top level field, not a message role
	for _, m := range req.Messages {
		if m.Role == "system" || m.Role == "developer" {
			if len(wire.System) != 0 {
				wire.System += "\n"
			}

			wire.System += m.Text()
			continue
		}

		wire.Messages = append(wire.Messages, Message{
			Role:    m.Role,
			Content: m.Text(),
		})
	}

	if req.N > 1 {
		dropped = append(dropped, "n")
	}

	if req.PresencePenalty != nil {
		dropped = append(dropped, "presence_penalty")
	}

	if req.FrequencyPenalty != nil {
		dropped = append(dropped, "frequency_penalty")
	}

	for name := range req.Extra {
		dropped = append(dropped, name)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}

	return httpReq, dropped, nil
}

func toFinishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	}

	return stopReason
}

func (a *Adapter) ParseResponse(body []byte) (*chat.Response, error) {
	res := &MessagesResponse{}
	if err := json.Unmarshal(body, res); err != nil {
		return nil, internal_errors.NewProviderProtocolError(fmt.Sprintf("unexpected anthropic response: %v", err))
	}

	text := ""
	for _, block := range res.Content {
		text += block.Text
	}

	return &chat.Response{
		Id:     res.Id,
		Object: "chat.completion",
		Model:  res.Model,
		Choices: []chat.Choice{
			{
				Index: 0,
				Message: chat.Message{
					Role:    "assistant",
					Content: chat.TextContent(text),
				},
				FinishReason: toFinishReason(res.StopReason),
			},
		},
		Usage: &chat.Usage{
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			TotalTokens:      res.Usage.InputTokens + res.Usage.OutputTokens,
		},
	}, nil
}

// ParseChunk translates one anthropic stream event. Prompt token counts
// arrive on message_start and completion counts on message_delta; the
// caller accumulates them across the stream.
func (a *Adapter) ParseChunk(data []byte) (*chat.Chunk, error) {
	if len(data) == 0 {
		return nil, nil
	}

	eventType := gjson.GetBytes(data, "type").String()

	switch eventType {
	case "message_start":
		start := &MessagesStreamMessageStart{}
		if err := json.Unmarshal(data, start); err != nil {
			return nil, internal_errors.NewProviderProtocolError(fmt.Sprintf("unexpected anthropic stream event: %v", err))
		}

		return &chat.Chunk{
			Id:     start.Message.Id,
			Object: "chat.completion.chunk",
			Model:  start.Message.Model,
			Choices: []chat.StreamChoice{
				{Index: 0, Delta: chat.StreamDelta{Role: "assistant"}},
			},
			Usage: &chat.Usage{
				PromptTokens: start.Message.Usage.InputTokens,
			},
		}, nil

	case "content_block_delta":
		delta := &MessagesStreamBlockDelta{}
		if err := json.Unmarshal(data, delta); err != nil {
			return nil, internal_errors.NewProviderProtocolError(fmt.Sprintf("unexpected anthropic stream event: %v", err))
		}

		return &chat.Chunk{
			Object: "chat.completion.chunk",
			Choices: []chat.StreamChoice{
				{Index: 0, Delta: chat.StreamDelta{Content: delta.Delta.Text}},
			},
		}, nil

	case "message_delta":
		delta := &MessagesStreamMessageDelta{}
		if err := json.Unmarshal(data, delta); err != nil {
			return nil, internal_errors.NewProviderProtocolError(fmt.Sprintf("unexpected anthropic stream event: %v", err))
		}

		return &chat.Chunk{
			Object: "chat.completion.chunk",
			Choices: []chat.StreamChoice{
				{Index: 0, FinishReason: toFinishReason(delta.Delta.StopReason)},
			},
			Usage: &chat.Usage{
				CompletionTokens: delta.Usage.OutputTokens,
			},
		}, nil

	case "error":
		res := &ErrorResponse{}
		if err := json.Unmarshal(data, res); err == nil && res.Error != nil {
			return nil, internal_errors.NewProviderProtocolError(fmt.Sprintf("anthropic stream error: %s", res.Error.Message))
		}

		return nil, internal_errors.NewProviderProtocolError("anthropic stream error")
	}

	// ping, content_block_start, content_block_stop, message_stop carry
	// nothing caller visible
	return nil, nil
}

func (a *Adapter) MapError(statusCode int, body []byte) error {
	res := &ErrorResponse{}
	message := ""
	if err := json.Unmarshal(body, res); err == nil && res.Error != nil {
		message = res.Error.Message
	}

	if statusCode >= http.StatusInternalServerError || statusCode == 529 {
		return internal_errors.NewProviderUnavailableError(fmt.Sprintf("anthropic returned %d: %s", statusCode, message))
	}

	return internal_errors.NewProviderProtocolError(fmt.Sprintf("anthropic returned %d: %s", statusCode, message))
}
