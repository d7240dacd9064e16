package manager

import (
	"strings"
	"testing"

	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/kubellm/kubellm/internal/hasher"
	"github.com/kubellm/kubellm/internal/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStorage struct {
	inserted *key.VirtualKey
	revoked  string
	reason   string
}

func (s *stubStorage) InsertKey(k *key.VirtualKey) (*key.VirtualKey, error) {
	s.inserted = k
	return k, nil
}

func (s *stubStorage) RevokeKey(keyId string, reason string, updatedAt int64) (*key.VirtualKey, error) {
	s.revoked = keyId
	s.reason = reason
	return &key.VirtualKey{KeyId: keyId, Revoked: true, RevokedReason: reason}, nil
}

func (s *stubStorage) GetAllKeys() ([]*key.VirtualKey, error) {
	return nil, nil
}

func TestCreateKey(t *testing.T) {
	s := &stubStorage{}
	m := NewManager(s)

	created, err := m.CreateKey(&key.VirtualKey{Name: "ci", CostLimitInUsd: 5})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(created.Secret, "kubellm-"))
	assert.NotEmpty(t, created.Key.KeyId)
	assert.Greater(t, created.Key.CreatedAt, int64(0))

	// only the hash is persisted, never the secret
	assert.Equal(t, hasher.Hash(created.Secret), s.inserted.Key)
	assert.NotContains(t, s.inserted.Key, created.Secret)
}

func TestCreateKey_InvalidPolicyRejected(t *testing.T) {
	s := &stubStorage{}
	m := NewManager(s)

	_, err := m.CreateKey(&key.VirtualKey{Name: "bad", CostLimitInUsd: -1})
	require.Error(t, err)

	_, ok := err.(*internal_errors.ValidationError)
	assert.True(t, ok)
	assert.Nil(t, s.inserted)
}

func TestRevokeKey(t *testing.T) {
	s := &stubStorage{}
	m := NewManager(s)

	revoked, err := m.RevokeKey("k1", "compromised")
	require.NoError(t, err)

	assert.Equal(t, "k1", s.revoked)
	assert.Equal(t, "compromised", s.reason)
	assert.True(t, revoked.Revoked)
}
