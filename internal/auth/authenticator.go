package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/storage"
	"go.uber.org/zap"
)

// Principal is the identity resolved for one socket
type Principal struct {
	Kind                      cnst.PeerKind
	UserID                    string
	OrganizationID            string
	OrganizationEnvironmentID string
	APIKeyID                  string
	UsageEnvironment          cnst.UsageEnvironment
	IsGhost                   bool
}

// Authenticator resolves a Principal from one kind of credential.
// ok is false when the request carries no credential of that kind.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (p *Principal, ok bool, err error)
}

// Gate tries each Authenticator in order; the first one holding credentials decides
type Gate struct {
	logger         *zap.Logger
	authenticators []Authenticator
	sessions       *SessionAuthenticator
}

// NewGate builds the api key, session cookie and ghost authenticators
func NewGate(logger *zap.Logger, store storage.Store, cfg *config.AuthConfig, appURL string) (*Gate, error) {
	logger = logger.Named("auth")
	sessions, err := NewSessionAuthenticator(logger, store, cfg, appURL)
	if err != nil {
		return nil, err
	}
	g := &Gate{
		logger:   logger,
		sessions: sessions,
		authenticators: []Authenticator{
			NewAPIKeyAuthenticator(store),
			sessions,
		},
	}
	if cfg.GhostModeEnabled {
		g.authenticators = append(g.authenticators, NewGhostAuthenticator(logger, store, appURL))
	}
	return g, nil
}

// Authenticate returns errorx.ErrAuthFailure with a readable reason when nothing matches
func (g *Gate) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	for _, a := range g.authenticators {
		p, ok, err := a.Authenticate(ctx, r)
		if !ok {
			continue
		}
		if err != nil {
			if !errors.Is(err, errorx.ErrAuthFailure) {
				g.logger.Error("authentication lookup failed", zap.Error(err))
				return nil, errorx.Wrap(errorx.ErrAuthFailure, err, "credential lookup failed")
			}
			g.logger.Info("authentication rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return nil, err
		}
		return p, nil
	}
	return nil, errorx.New(errorx.ErrAuthFailure, "no credentials presented")
}

// SealSession issues a cookie value for an existing session row
func (g *Gate) SealSession(sessionID string) (string, error) {
	return g.sessions.Seal(sessionID)
}

// InvalidateSession drops a cached session lookup
func (g *Gate) InvalidateSession(sessionID string) {
	g.sessions.Invalidate(sessionID)
}
