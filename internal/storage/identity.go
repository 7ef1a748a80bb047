package storage

import (
	"context"
	"errors"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"gorm.io/gorm"
)

func (s *DBStore) FindAPIKeyByPlain(ctx context.Context, key string) (*APIKey, error) {
	return first[APIKey](s.conn(ctx), "api key", "(plain)",
		"key = ? AND usage_environment = ?", key, cnst.EnvironmentDevelopment)
}

func (s *DBStore) FindAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	return first[APIKey](s.conn(ctx), "api key", "(hashed)", "key_hash = ?", hash)
}

func (s *DBStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	return s.conn(ctx).Create(key).Error
}

func (s *DBStore) Session(ctx context.Context, id string) (*UserSession, error) {
	return first[UserSession](s.conn(ctx), "session", id, "id = ?", id)
}

func (s *DBStore) CreateSession(ctx context.Context, session *UserSession) error {
	return s.conn(ctx).Create(session).Error
}

func (s *DBStore) User(ctx context.Context, id string) (*User, error) {
	return first[User](s.conn(ctx), "user", id, "id = ?", id)
}

func (s *DBStore) CreateUser(ctx context.Context, user *User) error {
	return s.conn(ctx).Create(user).Error
}

func (s *DBStore) ConfirmIdentity(ctx context.Context, userID string, at time.Time) error {
	return s.conn(ctx).Model(&User{}).Where("id = ?", userID).
		Update("last_identity_confirmed_at", at).Error
}

func (s *DBStore) Organization(ctx context.Context, id string) (*Organization, error) {
	return first[Organization](s.conn(ctx), "organization", id, "id = ?", id)
}

func (s *DBStore) CreateOrganization(ctx context.Context, org *Organization, envs ...*OrganizationEnvironment) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.conn(ctx).Create(org).Error; err != nil {
			return err
		}
		for _, env := range envs {
			env.OrganizationID = org.ID
			if err := s.conn(ctx).Create(env).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DBStore) Environment(ctx context.Context, id string) (*OrganizationEnvironment, error) {
	return first[OrganizationEnvironment](s.conn(ctx), "environment", id, "id = ?", id)
}

// ProvisionGhost is idempotent per ghostID: the organization id equals the ghost id
func (s *DBStore) ProvisionGhost(ctx context.Context, ghostID string, slug, apiKey string) (*GhostIdentity, error) {
	var out GhostIdentity
	err := s.WithTx(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)

		var org Organization
		err := db.Where("id = ? AND is_ghost = ?", ghostID, true).First(&org).Error
		if err == nil {
			var env OrganizationEnvironment
			if err := db.Where("organization_id = ?", org.ID).First(&env).Error; err != nil {
				return err
			}
			var user User
			if err := db.Where("id = ?", org.OwnerID).First(&user).Error; err != nil {
				return err
			}
			var key APIKey
			if err := db.Where("organization_id = ?", org.ID).First(&key).Error; err != nil {
				return err
			}
			out = GhostIdentity{Organization: &org, Environment: &env, User: &user, APIKey: &key}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		user := &User{Email: "ghost+" + slug + "@ghost.invalid", FirstName: "Guest"}
		if err := db.Create(user).Error; err != nil {
			return err
		}
		org = Organization{Base: Base{ID: ghostID}, Name: "Guest " + slug, Slug: "ghost-" + slug, OwnerID: user.ID, IsGhost: true}
		if err := db.Create(&org).Error; err != nil {
			return err
		}
		env := &OrganizationEnvironment{OrganizationID: org.ID, Name: "Development", Slug: "development"}
		if err := db.Create(env).Error; err != nil {
			return err
		}
		key := &APIKey{
			Key:                       apiKey,
			UserID:                    user.ID,
			OrganizationID:            org.ID,
			OrganizationEnvironmentID: env.ID,
			UsageEnvironment:          cnst.EnvironmentDevelopment,
		}
		if err := db.Create(key).Error; err != nil {
			return err
		}
		out = GhostIdentity{Organization: &org, Environment: env, User: user, APIKey: key}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
