package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/google/uuid"
	"github.com/ifuryst/lol"
	"go.uber.org/zap"
)

// GhostAuthenticator provisions an ephemeral organization for the x-ghost-org-id header.
// Browser sockets (Origin equal to the app URL) become Clients, everything else a Host.
type GhostAuthenticator struct {
	logger *zap.Logger
	store  storage.Store
	origin string
}

func NewGhostAuthenticator(logger *zap.Logger, store storage.Store, appURL string) *GhostAuthenticator {
	return &GhostAuthenticator{logger: logger.Named("ghost"), store: store, origin: normalizeOrigin(appURL)}
}

func (g *GhostAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, bool, error) {
	ghostID := r.Header.Get(cnst.HeaderGhostOrgID)
	if ghostID == "" {
		return nil, false, nil
	}
	if _, err := uuid.Parse(ghostID); err != nil {
		return nil, true, errorx.New(errorx.ErrAuthFailure, "invalid ghost organization id")
	}

	identity, err := g.store.ProvisionGhost(ctx, ghostID, strings.ToLower(lol.RandomString(8)), uuid.NewString())
	if err != nil {
		return nil, true, err
	}
	g.logger.Debug("ghost organization resolved", zap.String("organization", identity.Organization.ID))

	p := &Principal{
		Kind:                      cnst.PeerHost,
		UserID:                    identity.User.ID,
		OrganizationID:            identity.Organization.ID,
		OrganizationEnvironmentID: identity.Environment.ID,
		APIKeyID:                  identity.APIKey.ID,
		UsageEnvironment:          identity.APIKey.UsageEnvironment,
		IsGhost:                   true,
	}
	if origin := r.Header.Get(cnst.HeaderOrigin); origin != "" && normalizeOrigin(origin) == g.origin {
		p.Kind = cnst.PeerClient
		p.APIKeyID = ""
	}
	return p, true, nil
}
