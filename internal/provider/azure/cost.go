package azure

import (
	"errors"
	"fmt"
)

var AzureOpenAiPerThousandTokenCost = map[string]map[string]float64{
	"prompt": {
		"gpt-4o":                0.005,
		"gpt-4o-mini":           0.00015,
		"gpt-4":                 0.03,
		"gpt-4-32k":             0.06,
		"gpt-35-turbo":          0.0015,
		"gpt-35-turbo-instruct": 0.0015,
		"gpt-35-turbo-16k":      0.003,
	},
	"completion": {
		"gpt-4o":                0.015,
		"gpt-4o-mini":           0.0006,
		"gpt-4":                 0.06,
		"gpt-4-32k":             0.12,
		"gpt-35-turbo":          0.002,
		"gpt-35-turbo-instruct": 0.002,
		"gpt-35-turbo-16k":      0.004,
	},
}

type CostEstimator struct {
	tokenCostMap map[string]map[string]float64
}

func NewCostEstimator() *CostEstimator {
	return &CostEstimator{
		tokenCostMap: AzureOpenAiPerThousandTokenCost,
	}
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

func (ce *CostEstimator) EstimatePromptCost(model string, tks int) (float64, error) {
	costMap, ok := ce.tokenCostMap["prompt"]
	if !ok {
		return 0, errors.New("prompt token cost is not provided")
	}

	cost, ok := costMap[model]
	if !ok {
		return 0, fmt.Errorf("%s is not present in the cost map provided", model)
	}

	tksInFloat := float64(tks)
	return tksInFloat / 1000 * cost, nil
}

func (ce *CostEstimator) EstimateCompletionCost(model string, tks int) (float64, error) {
	costMap, ok := ce.tokenCostMap["completion"]
	if !ok {
		return 0, errors.New("completion token cost is not provided")
	}

	cost, ok := costMap[model]
	if !ok {
		return 0, fmt.Errorf("%s is not present in the cost map provided", model)
	}

	tksInFloat := float64(tks)
	return tksInFloat / 1000 * cost, nil
}
