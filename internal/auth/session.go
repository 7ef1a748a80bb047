package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/amoylab/hostlink/internal/auth/jwt"
	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// sessionLifetime bounds a sealed cookie; the session row may expire sooner
const sessionLifetime = 30 * 24 * time.Hour

// SessionAuthenticator resolves browser Client sockets from the sealed session cookie
type SessionAuthenticator struct {
	logger *zap.Logger
	store  storage.Store
	sealer *jwt.Service
	cache  *cache.Cache
	cookie string
	origin string
}

// NewSessionAuthenticator leaves cookie auth disabled when no session secret is configured
func NewSessionAuthenticator(logger *zap.Logger, store storage.Store, cfg *config.AuthConfig, appURL string) (*SessionAuthenticator, error) {
	s := &SessionAuthenticator{
		logger: logger.Named("session"),
		store:  store,
		cache:  cache.New(cfg.SessionCacheTTL, 2*cfg.SessionCacheTTL),
		cookie: cfg.SessionCookie,
		origin: normalizeOrigin(appURL),
	}
	if cfg.SessionSecret != "" {
		sealer, err := jwt.NewService(jwt.Config{SecretKey: cfg.SessionSecret, Duration: sessionLifetime})
		if err != nil {
			return nil, err
		}
		s.sealer = sealer
	}
	return s, nil
}

func (s *SessionAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, bool, error) {
	if s.sealer == nil {
		return nil, false, nil
	}
	cookie, err := r.Cookie(s.cookie)
	if err != nil || cookie.Value == "" {
		return nil, false, nil
	}

	if normalizeOrigin(r.Header.Get(cnst.HeaderOrigin)) != s.origin {
		return nil, true, errorx.New(errorx.ErrAuthFailure, "origin not allowed")
	}

	claims, err := s.sealer.Open(cookie.Value)
	if err != nil {
		return nil, true, errorx.Wrap(errorx.ErrAuthFailure, err, "invalid session")
	}

	session, err := s.session(ctx, claims.SessionID)
	if err != nil {
		return nil, true, err
	}
	if time.Now().After(session.ExpiresAt) {
		s.cache.Delete(session.ID)
		return nil, true, errorx.New(errorx.ErrAuthFailure, "session expired")
	}

	return &Principal{
		Kind:                      cnst.PeerClient,
		UserID:                    session.UserID,
		OrganizationID:            session.OrganizationID,
		OrganizationEnvironmentID: session.OrganizationEnvironmentID,
	}, true, nil
}

func (s *SessionAuthenticator) session(ctx context.Context, id string) (*storage.UserSession, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(*storage.UserSession), nil
	}
	session, err := s.store.Session(ctx, id)
	if errors.Is(err, errorx.ErrNotFound) {
		return nil, errorx.New(errorx.ErrAuthFailure, "invalid session")
	}
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(id, session)
	return session, nil
}

// Seal issues a cookie value for sessionID
func (s *SessionAuthenticator) Seal(sessionID string) (string, error) {
	if s.sealer == nil {
		return "", errorx.New(errorx.ErrInternal, "session sealing is not configured")
	}
	return s.sealer.Seal(sessionID)
}

func (s *SessionAuthenticator) Invalidate(sessionID string) {
	s.cache.Delete(sessionID)
}

func normalizeOrigin(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
