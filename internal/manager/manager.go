// Package manager provisions virtual keys. The proxy itself never
// writes keys; minting and revocation go through here.
package manager

import (
	"time"

	"github.com/kubellm/kubellm/internal/hasher"
	"github.com/kubellm/kubellm/internal/key"
	"github.com/kubellm/kubellm/internal/util"
)

type Storage interface {
	InsertKey(k *key.VirtualKey) (*key.VirtualKey, error)
	RevokeKey(keyId string, reason string, updatedAt int64) (*key.VirtualKey, error)
	GetAllKeys() ([]*key.VirtualKey, error)
}

type Manager struct {
	s Storage
}

func NewManager(s Storage) *Manager {
	return &Manager{
		s: s,
	}
}

// CreatedKey pairs the stored key with its plaintext secret. The secret
// is shown once at creation; only its hash is persisted.
type CreatedKey struct {
	Key    *key.VirtualKey
	Secret string
}

func (m *Manager) CreateKey(k *key.VirtualKey) (*CreatedKey, error) {
	k.KeyId = util.NewUuid()
	k.CreatedAt = time.Now().Unix()
	k.UpdatedAt = time.Now().Unix()

	secret := "kubellm-" + util.NewUuid()
	k.Key = hasher.Hash(secret)

	if err := k.Validate(); err != nil {
		return nil, err
	}

	stored, err := m.s.InsertKey(k)
	if err != nil {
		return nil, err
	}

	return &CreatedKey{
		Key:    stored,
		Secret: secret,
	}, nil
}

func (m *Manager) RevokeKey(keyId string, reason string) (*key.VirtualKey, error) {
	return m.s.RevokeKey(keyId, reason, time.Now().Unix())
}

func (m *Manager) GetKeys() ([]*key.VirtualKey, error) {
	return m.s.GetAllKeys()
}
