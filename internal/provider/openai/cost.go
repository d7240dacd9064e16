package openai

import (
	"errors"
	"fmt"
	"strings"
)

// OpenAiPerThousandTokenCost prices models in usd per 1k tokens. Lookup
// is by longest matching prefix so dated snapshots price like their
// base model.
var OpenAiPerThousandTokenCost = map[string]map[string]float64{
	"prompt": {
		"gpt-4o-mini":   0.00015,
		"gpt-4o":        0.0025,
		"gpt-4-turbo":   0.01,
		"gpt-4-32k":     0.06,
		"gpt-4":         0.03,
		"gpt-3.5-turbo": 0.0005,
	},
	"completion": {
		"gpt-4o-mini":   0.0006,
		"gpt-4o":        0.01,
		"gpt-4-turbo":   0.03,
		"gpt-4-32k":     0.12,
		"gpt-4":         0.06,
		"gpt-3.5-turbo": 0.0015,
	},
}

type CostEstimator struct {
	tokenCostMap map[string]map[string]float64
}

func NewCostEstimator() *CostEstimator {
	return &CostEstimator{
		tokenCostMap: OpenAiPerThousandTokenCost,
	}
}

func (ce *CostEstimator) EstimatePromptCost(model string, tks int) (float64, error) {
	costMap, ok := ce.tokenCostMap["prompt"]
	if !ok {
		return 0, errors.New("prompt token cost is not provided")
	}

	return estimateCost(model, tks, costMap)
}

func (ce *CostEstimator) EstimateCompletionCost(model string, tks int) (float64, error) {
	costMap, ok := ce.tokenCostMap["completion"]
	if !ok {
		return 0, errors.New("completion token cost is not provided")
	}

	return estimateCost(model, tks, costMap)
}

func (ce *CostEstimator) EstimateTotalCost(model string, promptTks, completionTks int) (float64, error) {
	promptCost, err := ce.EstimatePromptCost(model, promptTks)
	if err != nil {
		return 0, err
	}

	completionCost, err := ce.EstimateCompletionCost(model, completionTks)
	if err != nil {
		return 0, err
	}

	return promptCost + completionCost, nil
}

func estimateCost(model string, tks int, costMap map[string]float64) (float64, error) {
	selected := ""
	for prefix := range costMap {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(selected) {
			selected = prefix
		}
	}

	if len(selected) == 0 {
		return 0, fmt.Errorf("model is not recognized: %s", model)
	}

	return float64(tks) / 1000 * costMap[selected], nil
}
