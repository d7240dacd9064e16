package event

const (
	StatusSuccess   string = "success"
	StatusFailed    string = "failed"
	StatusCancelled string = "cancelled"
)

// UsageRecord is the append-only accounting row written once per
// completed request. It is never mutated after the ledger accepts it.
type UsageRecord struct {
	Id                   string  `json:"id"`
	RequestId            string  `json:"requestId"`
	CreatedAt            int64   `json:"createdAt"`
	KeyId                string  `json:"keyId"`
	Provider             string  `json:"provider"`
	Model                string  `json:"model"`
	PromptTokenCount     int     `json:"promptTokenCount"`
	CompletionTokenCount int     `json:"completionTokenCount"`
	TotalTokenCount      int     `json:"totalTokenCount"`
	CostInUsd            float64 `json:"costInUsd"`
	Estimated            bool    `json:"estimated"`
	Status               string  `json:"status"`
	LatencyInMs          int     `json:"latencyInMs"`
}
