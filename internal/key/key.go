package key

import (
	"fmt"
	"strings"
	"time"

	internal_errors "github.com/kubellm/kubellm/internal/errors"
)

type TimeUnit string

const (
	HourTimeUnit   TimeUnit = "h"
	MinuteTimeUnit TimeUnit = "m"
	SecondTimeUnit TimeUnit = "s"
	DayTimeUnit    TimeUnit = "d"
	MonthTimeUnit  TimeUnit = "mo"
)

// VirtualKey is the record minted by the external provisioning flow.
// The gateway only reads it; everything except Revoked and the quota
// policy fields is immutable after creation.
type VirtualKey struct {
	Name                   string   `json:"name"`
	KeyId                  string   `json:"keyId"`
	OwnerId                string   `json:"ownerId"`
	Key                    string   `json:"key"`
	CreatedAt              int64    `json:"createdAt"`
	UpdatedAt              int64    `json:"updatedAt"`
	Tags                   []string `json:"tags"`
	Revoked                bool     `json:"revoked"`
	RevokedReason          string   `json:"revokedReason"`
	Ttl                    string   `json:"ttl"`
	CostLimitInUsd         float64  `json:"costLimitInUsd"`
	CostLimitInUsdOverTime float64  `json:"costLimitInUsdOverTime"`
	CostLimitInUsdUnit     TimeUnit `json:"costLimitInUsdUnit"`
	RateLimitOverTime      int      `json:"rateLimitOverTime"`
	RateLimitUnit          TimeUnit `json:"rateLimitUnit"`
}

func (k *VirtualKey) Validate() error {
	invalid := []string{}

	if len(k.KeyId) == 0 {
		invalid = append(invalid, "keyId")
	}

	if len(k.Key) == 0 {
		invalid = append(invalid, "key")
	}

	if k.CreatedAt <= 0 {
		invalid = append(invalid, "createdAt")
	}

	if k.CostLimitInUsd < 0 {
		invalid = append(invalid, "costLimitInUsd")
	}

	if k.CostLimitInUsdOverTime < 0 {
		invalid = append(invalid, "costLimitInUsdOverTime")
	}

	if k.RateLimitOverTime < 0 {
		invalid = append(invalid, "rateLimitOverTime")
	}

	if len(k.Ttl) != 0 {
		_, err := time.ParseDuration(k.Ttl)
		if err != nil {
			invalid = append(invalid, "ttl")
		}
	}

	if len(invalid) > 0 {
		return internal_errors.NewValidationError(fmt.Sprintf("fields [%s] are invalid", strings.Join(invalid, ", ")))
	}

	if k.RateLimitOverTime != 0 && len(k.RateLimitUnit) == 0 {
		return internal_errors.NewValidationError("rate limit unit can not be empty if rate limit over time is specified")
	}

	if k.CostLimitInUsdOverTime != 0 && len(k.CostLimitInUsdUnit) == 0 {
		return internal_errors.NewValidationError("cost limit unit can not be empty if cost limit over time is specified")
	}

	return nil
}

// Expired reports whether the key's ttl has elapsed. A key without a ttl
// never expires.
func (k *VirtualKey) Expired() bool {
	if len(k.Ttl) == 0 {
		return false
	}

	ttl, err := time.ParseDuration(k.Ttl)
	if err != nil || int64(ttl.Seconds()) == 0 {
		return false
	}

	return time.Now().Unix() > k.CreatedAt+int64(ttl.Seconds())
}
