package key

import (
	"testing"
	"time"

	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/stretchr/testify/assert"
)

func validKey() *VirtualKey {
	return &VirtualKey{
		KeyId:     "k1",
		Key:       "hashed",
		CreatedAt: time.Now().Unix(),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(k *VirtualKey)
		wantErr bool
	}{
		{
			name:   "minimal valid key",
			mutate: func(k *VirtualKey) {},
		},
		{
			name:    "missing key id",
			mutate:  func(k *VirtualKey) { k.KeyId = "" },
			wantErr: true,
		},
		{
			name:    "missing hash",
			mutate:  func(k *VirtualKey) { k.Key = "" },
			wantErr: true,
		},
		{
			name:    "negative cost limit",
			mutate:  func(k *VirtualKey) { k.CostLimitInUsd = -1 },
			wantErr: true,
		},
		{
			name:    "unparseable ttl",
			mutate:  func(k *VirtualKey) { k.Ttl = "tomorrow" },
			wantErr: true,
		},
		{
			name:    "rate limit without unit",
			mutate:  func(k *VirtualKey) { k.RateLimitOverTime = 10 },
			wantErr: true,
		},
		{
			name: "rate limit with unit",
			mutate: func(k *VirtualKey) {
				k.RateLimitOverTime = 10
				k.RateLimitUnit = MinuteTimeUnit
			},
		},
		{
			name:    "windowed cost limit without unit",
			mutate:  func(k *VirtualKey) { k.CostLimitInUsdOverTime = 0.5 },
			wantErr: true,
		},
		{
			name: "windowed cost limit with unit",
			mutate: func(k *VirtualKey) {
				k.CostLimitInUsdOverTime = 0.5
				k.CostLimitInUsdUnit = HourTimeUnit
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k := validKey()
			tc.mutate(k)

			err := k.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				_, ok := err.(*internal_errors.ValidationError)
				assert.True(t, ok)
				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestExpired(t *testing.T) {
	k := validKey()
	assert.False(t, k.Expired(), "a key without a ttl never expires")

	k.Ttl = "1h"
	assert.False(t, k.Expired())

	k.CreatedAt = time.Now().Add(-2 * time.Hour).Unix()
	assert.True(t, k.Expired())
}
