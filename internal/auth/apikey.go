package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/storage"
	"golang.org/x/crypto/sha3"
)

// HashAPIKey is the one-way digest stored for production keys
func HashAPIKey(key string) string {
	h := sha3.New256()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// APIKeyAuthenticator resolves Host sockets from the x-api-key header
type APIKeyAuthenticator struct {
	store storage.Store
}

func NewAPIKeyAuthenticator(store storage.Store) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{store: store}
}

func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, bool, error) {
	key := r.Header.Get(cnst.HeaderAPIKey)
	if key == "" {
		return nil, false, nil
	}

	found, err := a.lookup(ctx, key)
	if err != nil {
		return nil, true, err
	}
	return &Principal{
		Kind:                      cnst.PeerHost,
		UserID:                    found.UserID,
		OrganizationID:            found.OrganizationID,
		OrganizationEnvironmentID: found.OrganizationEnvironmentID,
		APIKeyID:                  found.ID,
		UsageEnvironment:          found.UsageEnvironment,
	}, true, nil
}

func (a *APIKeyAuthenticator) lookup(ctx context.Context, key string) (*storage.APIKey, error) {
	found, err := a.store.FindAPIKeyByPlain(ctx, key)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, errorx.ErrNotFound) {
		return nil, err
	}

	found, err = a.store.FindAPIKeyByHash(ctx, HashAPIKey(key))
	if errors.Is(err, errorx.ErrNotFound) {
		return nil, errorx.New(errorx.ErrAuthFailure, "invalid api key")
	}
	if err != nil {
		return nil, err
	}
	if found.UsageEnvironment != cnst.EnvironmentProduction {
		return nil, errorx.New(errorx.ErrAuthFailure, "invalid api key")
	}
	return found, nil
}
