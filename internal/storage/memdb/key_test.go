package memdb

import (
	"sync"
	"testing"
	"time"

	"github.com/kubellm/kubellm/internal/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubKeyStorage struct {
	mu      sync.Mutex
	keys    []*key.VirtualKey
	updated []*key.VirtualKey
}

func (s *stubKeyStorage) GetAllKeys() ([]*key.VirtualKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.keys, nil
}

func (s *stubKeyStorage) GetUpdatedKeys(updatedAt int64) ([]*key.VirtualKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updated, nil
}

func (s *stubKeyStorage) setUpdated(keys []*key.VirtualKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updated = keys
}

func TestNewMemDb_IndexesExistingKeys(t *testing.T) {
	ex := &stubKeyStorage{
		keys: []*key.VirtualKey{
			{KeyId: "k1", Key: "hash-1", UpdatedAt: 10},
			{KeyId: "k2", Key: "hash-2", UpdatedAt: 20},
		},
	}

	mdb, err := NewMemDb(ex, zap.NewNop(), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "k1", mdb.GetKey("hash-1").KeyId)
	assert.Equal(t, "k2", mdb.GetKey("hash-2").KeyId)
	assert.Nil(t, mdb.GetKey("hash-3"))
}

func TestListen_PicksUpRevocations(t *testing.T) {
	ex := &stubKeyStorage{
		keys: []*key.VirtualKey{
			{KeyId: "k1", Key: "hash-1", UpdatedAt: 10},
		},
	}

	mdb, err := NewMemDb(ex, zap.NewNop(), 5*time.Millisecond)
	require.NoError(t, err)

	mdb.Listen()
	defer mdb.Stop()

	ex.setUpdated([]*key.VirtualKey{
		{KeyId: "k1", Key: "hash-1", UpdatedAt: 30, Revoked: true, RevokedReason: "compromised"},
	})

	assert.Eventually(t, func() bool {
		k := mdb.GetKey("hash-1")
		return k != nil && k.Revoked
	}, time.Second, 5*time.Millisecond)
}

func TestListen_IgnoresStaleUpdates(t *testing.T) {
	ex := &stubKeyStorage{
		keys: []*key.VirtualKey{
			{KeyId: "k1", Key: "hash-1", UpdatedAt: 10, Name: "current"},
		},
	}

	mdb, err := NewMemDb(ex, zap.NewNop(), 5*time.Millisecond)
	require.NoError(t, err)

	mdb.Listen()
	defer mdb.Stop()

	ex.setUpdated([]*key.VirtualKey{
		{KeyId: "k1", Key: "hash-1", UpdatedAt: 5, Name: "stale"},
	})

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "current", mdb.GetKey("hash-1").Name)
}
