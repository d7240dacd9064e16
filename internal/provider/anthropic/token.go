package anthropic

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter approximates claude tokenization with the cl100k_base
// encoding. Counts feed the estimation ceiling only; billing uses the
// token usage the provider reports.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
}

func NewTokenCounter() (*TokenCounter, error) {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}

	return &TokenCounter{
		encoder: encoder,
	}, nil
}

func (tc *TokenCounter) Count(input string) int {
	return len(tc.encoder.Encode(input, nil, nil))
}
