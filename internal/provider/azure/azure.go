// Package azure serves azure openai deployments. The wire format is the
// openai one; only the auth header and endpoint shape differ.
package azure

import (
	"bytes"
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/kubellm/kubellm/internal/chat"
	"github.com/kubellm/kubellm/internal/provider/openai"
)

const ProviderName = "azure"

type Adapter struct {
	*openai.Adapter
}

func NewAdapter() *Adapter {
	return &Adapter{
		Adapter: openai.NewAdapter(),
	}
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
	httpReq.Header.Set("api-key", apiKey)

	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}

	return httpReq, nil, nil
}
