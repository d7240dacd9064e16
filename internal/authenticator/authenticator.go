package auth

import (
	"net/http"
	"strings"

	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/kubellm/kubellm/internal/hasher"
	"github.com/kubellm/kubellm/internal/key"
	"github.com/kubellm/kubellm/internal/telemetry"
)

type keyMemStorage interface {
	GetKey(hash string) *key.VirtualKey
}

type keyStorage interface {
	GetKeyByHash(hash string) (*key.VirtualKey, error)
}

// Authenticator resolves a presented virtual key to its provisioned
// record. It has no side effects; quota is someone else's problem.
type Authenticator struct {
	kms keyMemStorage
	ks  keyStorage
}

func NewAuthenticator(kms keyMemStorage, ks keyStorage) *Authenticator {
	return &Authenticator{
		kms: kms,
		ks:  ks,
	}
}

func getApiKey(req *http.Request) (string, error) {
	list := []string{
		req.Header.Get("x-api-key"),
		req.Header.Get("api-key"),
	}

	split := strings.Split(req.Header.Get("Authorization"), " ")

	if len(split) >= 2 {
		list = append(list, split[1])
	}

	for _, k := range list {
		if len(k) != 0 {
			return k, nil
		}
	}

	return "", internal_errors.NewAuthError("api key not found")
}

type notFoundError interface {
	Error() string
	NotFound()
}

// Authenticate validates a presented key string. The memdb lookup is the
// hot path; the external store is only consulted for keys provisioned
// since the last refresh.
func (a *Authenticator) Authenticate(presented string) (*key.VirtualKey, error) {
	if len(presented) == 0 {
		return nil, internal_errors.NewAuthError("api key not found")
	}

	hash := hasher.Hash(presented)

	k := a.kms.GetKey(hash)
	if k != nil {
		telemetry.Incr("kubellm.authenticator.authenticate.found_key_from_memdb", nil, 1)
	}

	if k == nil {
		found, err := a.ks.GetKeyByHash(hash)
		if err != nil {
			if _, ok := err.(notFoundError); ok {
				return nil, internal_errors.NewAuthError("key not found")
			}

			return nil, err
		}

		if found != nil {
			telemetry.Incr("kubellm.authenticator.authenticate.found_key_from_db", nil, 1)
		}

		k = found
	}

	if k == nil {
		return nil, internal_errors.NewAuthError("key not found")
	}

	if k.Revoked {
		return nil, internal_errors.NewRevokedError("key revoked", k.RevokedReason)
	}

	if k.Expired() {
		return nil, internal_errors.NewExpirationError("key expired")
	}

	return k, nil
}

// AuthenticateHttpRequest pulls the virtual key from the request headers
// and validates it.
func (a *Authenticator) AuthenticateHttpRequest(req *http.Request) (*key.VirtualKey, error) {
	raw, err := getApiKey(req)
	if err != nil {
		return nil, err
	}

	return a.Authenticate(raw)
}
