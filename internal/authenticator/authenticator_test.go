package auth

import (
	"net/http"
	"testing"
	"time"

	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/kubellm/kubellm/internal/hasher"
	"github.com/kubellm/kubellm/internal/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMemStorage struct {
	keys map[string]*key.VirtualKey
}

func (s *stubMemStorage) GetKey(hash string) *key.VirtualKey {
	return s.keys[hash]
}

type stubKeyStorage struct {
	keys map[string]*key.VirtualKey
}

func (s *stubKeyStorage) GetKeyByHash(hash string) (*key.VirtualKey, error) {
	k, ok := s.keys[hash]
	if !ok {
		return nil, internal_errors.NewNotFoundError("key is not found")
	}

	return k, nil
}

func newTestAuthenticator(memKeys, storeKeys map[string]*key.VirtualKey) *Authenticator {
	if memKeys == nil {
		memKeys = map[string]*key.VirtualKey{}
	}
	if storeKeys == nil {
		storeKeys = map[string]*key.VirtualKey{}
	}

	return NewAuthenticator(&stubMemStorage{keys: memKeys}, &stubKeyStorage{keys: storeKeys})
}

func TestAuthenticate_FromMemdb(t *testing.T) {
	secret := "kubellm-test-secret"
	k := &key.VirtualKey{KeyId: "k1", Key: hasher.Hash(secret)}

	a := newTestAuthenticator(map[string]*key.VirtualKey{hasher.Hash(secret): k}, nil)

	got, err := a.Authenticate(secret)
	require.NoError(t, err)
	assert.Equal(t, "k1", got.KeyId)
}

func TestAuthenticate_FallsBackToStore(t *testing.T) {
	secret := "kubellm-fresh-secret"
	k := &key.VirtualKey{KeyId: "k2", Key: hasher.Hash(secret)}

	a := newTestAuthenticator(nil, map[string]*key.VirtualKey{hasher.Hash(secret): k})

	got, err := a.Authenticate(secret)
	require.NoError(t, err)
	assert.Equal(t, "k2", got.KeyId)
}

func TestAuthenticate_UnknownKey(t *testing.T) {
	a := newTestAuthenticator(nil, nil)

	_, err := a.Authenticate("not-a-key")
	require.Error(t, err)

	_, ok := err.(*internal_errors.AuthError)
	assert.True(t, ok)
}

func TestAuthenticate_EmptyKey(t *testing.T) {
	a := newTestAuthenticator(nil, nil)

	_, err := a.Authenticate("")
	require.Error(t, err)

	_, ok := err.(*internal_errors.AuthError)
	assert.True(t, ok)
}

func TestAuthenticate_RevokedKey(t *testing.T) {
	secret := "kubellm-revoked"
	k := &key.VirtualKey{
		KeyId:         "k3",
		Key:           hasher.Hash(secret),
		Revoked:       true,
		RevokedReason: "compromised",
	}

	a := newTestAuthenticator(map[string]*key.VirtualKey{hasher.Hash(secret): k}, nil)

	_, err := a.Authenticate(secret)
	require.Error(t, err)

	re, ok := err.(*internal_errors.RevokedError)
	require.True(t, ok)
	assert.Equal(t, "compromised", re.Reason())
}

func TestAuthenticate_ExpiredKey(t *testing.T) {
	secret := "kubellm-expired"
	k := &key.VirtualKey{
		KeyId:     "k4",
		Key:       hasher.Hash(secret),
		CreatedAt: time.Now().Add(-2 * time.Hour).Unix(),
		Ttl:       "1h",
	}

	a := newTestAuthenticator(map[string]*key.VirtualKey{hasher.Hash(secret): k}, nil)

	_, err := a.Authenticate(secret)
	require.Error(t, err)

	_, ok := err.(*internal_errors.ExpirationError)
	assert.True(t, ok)
}

func TestAuthenticateHttpRequest_HeaderExtraction(t *testing.T) {
	secret := "kubellm-header"
	k := &key.VirtualKey{KeyId: "k5", Key: hasher.Hash(secret)}
	a := newTestAuthenticator(map[string]*key.VirtualKey{hasher.Hash(secret): k}, nil)

	t.Run("bearer token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		req.Header.Set("Authorization", "Bearer "+secret)

		got, err := a.AuthenticateHttpRequest(req)
		require.NoError(t, err)
		assert.Equal(t, "k5", got.KeyId)
	})

	t.Run("x-api-key", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
		req.Header.Set("x-api-key", secret)

		got, err := a.AuthenticateHttpRequest(req)
		require.NoError(t, err)
		assert.Equal(t, "k5", got.KeyId)
	})

	t.Run("no credentials", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

		_, err := a.AuthenticateHttpRequest(req)
		require.Error(t, err)

		_, ok := err.(*internal_errors.AuthError)
		assert.True(t, ok)
	})
}
