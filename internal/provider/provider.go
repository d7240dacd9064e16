// Package provider defines the adapter contract every upstream
// implements. An adapter owns the translation between the canonical chat
// format and one provider's wire format; the routing engine never
// branches on provider type.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kubellm/kubellm/internal/chat"
)

// Adapter translates canonical requests and responses for one provider
// type. Implementations are stateless and safe for concurrent use.
type Adapter interface {
	Name() string

	// BuildRequest translates a canonical request into the provider's
	// wire format. Canonical parameters the provider cannot express are
	// dropped, never silently corrupted; their names come back in the
	// second return for the caller to record.
	BuildRequest(ctx context.Context, endpoint string, apiKey string, req *chat.Request) (*http.Request, []string, error)

	// ParseResponse translates a non-streaming provider response body
	// into canonical form. Usage counts supplied by the provider are
	// preserved verbatim.
	ParseResponse(body []byte) (*chat.Response, error)

	// ParseChunk translates one streamed event payload. A nil chunk with
	// a nil error means the event carries nothing caller visible, e.g. a
	// keep-alive.
	ParseChunk(data []byte) (*chat.Chunk, error)

	// MapError converts a non-2xx provider response into a typed error.
	MapError(statusCode int, body []byte) error
}

// Setting carries one configured upstream account: which adapter speaks
// its dialect, where it lives and how to authenticate against it.
type Setting struct {
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Endpoint string            `json:"endpoint"`
	Setting  map[string]string `json:"setting,omitempty"`
	Models   map[string]string `json:"models"`
	CostMap  *CostMap          `json:"costMap"`
}

func (s *Setting) GetParam(key string) string {
	return s.Setting[key]
}

// CostMap prices a model in usd per 1k tokens.
type CostMap struct {
	PromptCostPerModel     map[string]float64 `json:"promptCostPerModel"`
	CompletionCostPerModel map[string]float64 `json:"completionCostPerModel"`
}

func EstimateCostWithCostMap(model string, tks int, div float64, costMap map[string]float64) (float64, error) {
	cost, ok := costMap[model]
	if !ok {
		return 0, fmt.Errorf("%s is not present in the cost map provided", model)
	}

	tksInFloat := float64(tks)
	return tksInFloat / div * cost, nil
}

func EstimateTotalCostWithCostMaps(model string, ptks, ctks int, div float64, promptCostMap map[string]float64, completionCostMap map[string]float64) (float64, error) {
	pcost, ok := promptCostMap[model]
	if !ok {
		return 0, fmt.Errorf("%s is not present in the cost map provided", model)
	}

	ccost, ok := completionCostMap[model]
	if !ok {
		return 0, fmt.Errorf("%s is not present in the cost map provided", model)
	}

	ptksInFloat := float64(ptks)
	ctksInFloat := float64(ctks)

	return ptksInFloat/div*pcost + ctksInFloat/div*ccost, nil
}
