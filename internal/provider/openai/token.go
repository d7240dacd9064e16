package openai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

type encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// TokenCounter counts tokens with tiktoken using the offline BPE loader
// so estimates are deterministic and need no network access. Models
// tiktoken does not know fall back to cl100k_base.
type TokenCounter struct {
	fallback   encoder
	mu         sync.Mutex
	encoderMap map[string]encoder
}

func NewTokenCounter() (*TokenCounter, error) {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	e, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}

	return &TokenCounter{
		fallback:   e,
		encoderMap: map[string]encoder{},
	}, nil
}

func (tc *TokenCounter) Count(model string, input string) (int, error) {
	tc.mu.Lock()
	enc, ok := tc.encoderMap[model]
	if !ok {
		known, err := tiktoken.EncodingForModel(model)
		if err != nil {
			enc = tc.fallback
		} else {
			enc = known
		}

		tc.encoderMap[model] = enc
	}
	tc.mu.Unlock()

	token := enc.Encode(input, nil, nil)
	return len(token), nil
}
