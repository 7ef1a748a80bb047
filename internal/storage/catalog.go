package storage

import (
	"context"
	"errors"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *DBStore) SaveHostInstance(ctx context.Context, host *HostInstance) error {
	return s.conn(ctx).Save(host).Error
}

func (s *DBStore) HostInstance(ctx context.Context, id string) (*HostInstance, error) {
	return first[HostInstance](s.conn(ctx), "host instance", id, "id = ?", id)
}

func (s *DBStore) SetHostStatus(ctx context.Context, id string, status cnst.HostStatus) error {
	return s.conn(ctx).Model(&HostInstance{}).Where("id = ?", id).Update("status", status).Error
}

func (s *DBStore) TouchHost(ctx context.Context, id string, at time.Time) error {
	return s.conn(ctx).Model(&HostInstance{}).Where("id = ?", id).Update("last_seen_at", at).Error
}

func (s *DBStore) ListHostInstances(ctx context.Context, status cnst.HostStatus) ([]*HostInstance, error) {
	var out []*HostInstance
	q := s.conn(ctx).Order("created_at asc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return out, q.Find(&out).Error
}

// FindOrCreateActionGroup upserts on (organization, environment, developer, slug)
func (s *DBStore) FindOrCreateActionGroup(ctx context.Context, group *ActionGroup) (*ActionGroup, error) {
	var out *ActionGroup
	err := s.WithTx(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)
		var existing ActionGroup
		err := db.Where("organization_id = ? AND organization_environment_id = ? AND developer_id = ? AND slug = ?",
			group.OrganizationID, group.OrganizationEnvironmentID, group.DeveloperID, group.Slug).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(group).Error; err != nil {
				return err
			}
			out = group
			return nil
		}
		if err != nil {
			return err
		}
		existing.Name = group.Name
		existing.Description = group.Description
		existing.HasHandler = group.HasHandler
		existing.Unlisted = group.Unlisted
		if err := db.Save(&existing).Error; err != nil {
			return err
		}
		out = &existing
		return nil
	})
	return out, err
}

// FindOrCreateAction upserts on (organization, environment, developer, slug)
func (s *DBStore) FindOrCreateAction(ctx context.Context, action *Action) (*Action, error) {
	var out *Action
	err := s.WithTx(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)
		var existing Action
		err := db.Where("organization_id = ? AND organization_environment_id = ? AND developer_id = ? AND slug = ?",
			action.OrganizationID, action.OrganizationEnvironmentID, action.DeveloperID, action.Slug).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := db.Create(action).Error; err != nil {
				return err
			}
			out = action
			return nil
		}
		if err != nil {
			return err
		}
		existing.Name = action.Name
		existing.Description = action.Description
		existing.Backgroundable = action.Backgroundable
		existing.Unlisted = action.Unlisted
		existing.WarnOnClose = action.WarnOnClose
		if err := db.Save(&existing).Error; err != nil {
			return err
		}
		out = &existing
		return nil
	})
	return out, err
}

// ReplaceHostLinks makes the host serve exactly the given actions and groups
func (s *DBStore) ReplaceHostLinks(ctx context.Context, hostInstanceID string, actionIDs, groupIDs []string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)
		if err := db.Where("host_instance_id = ?", hostInstanceID).Delete(&ActionHost{}).Error; err != nil {
			return err
		}
		for _, id := range actionIDs {
			if err := db.Create(&ActionHost{ActionID: id, HostInstanceID: hostInstanceID}).Error; err != nil {
				return err
			}
		}
		for _, id := range groupIDs {
			if err := db.Create(&ActionHost{ActionGroupID: id, HostInstanceID: hostInstanceID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DBStore) Action(ctx context.Context, id string) (*Action, error) {
	return first[Action](s.conn(ctx), "action", id, "id = ?", id)
}

func (s *DBStore) ActionBySlug(ctx context.Context, orgID, envID, developerID, slug string) (*Action, error) {
	return first[Action](s.conn(ctx), "action", slug,
		"organization_id = ? AND organization_environment_id = ? AND developer_id = ? AND slug = ?",
		orgID, envID, developerID, slug)
}

func (s *DBStore) ActionGroupBySlug(ctx context.Context, orgID, envID, developerID, slug string) (*ActionGroup, error) {
	return first[ActionGroup](s.conn(ctx), "action group", slug,
		"organization_id = ? AND organization_environment_id = ? AND developer_id = ? AND slug = ?",
		orgID, envID, developerID, slug)
}

func (s *DBStore) HostsForAction(ctx context.Context, actionID string) ([]string, []*HTTPHost, error) {
	return s.hostsFor(ctx, "action_id", actionID)
}

func (s *DBStore) HostsForActionGroup(ctx context.Context, groupID string) ([]string, []*HTTPHost, error) {
	return s.hostsFor(ctx, "action_group_id", groupID)
}

func (s *DBStore) hostsFor(ctx context.Context, column, id string) ([]string, []*HTTPHost, error) {
	var links []ActionHost
	if err := s.conn(ctx).Where(clause.Eq{Column: column, Value: id}).Find(&links).Error; err != nil {
		return nil, nil, err
	}
	var instanceIDs, httpIDs []string
	for _, l := range links {
		if l.HostInstanceID != "" {
			instanceIDs = append(instanceIDs, l.HostInstanceID)
		}
		if l.HTTPHostID != "" {
			httpIDs = append(httpIDs, l.HTTPHostID)
		}
	}

	var online []string
	if len(instanceIDs) > 0 {
		if err := s.conn(ctx).Model(&HostInstance{}).
			Where("id IN ? AND status = ?", instanceIDs, cnst.HostOnline).
			Order("updated_at desc").
			Pluck("id", &online).Error; err != nil {
			return nil, nil, err
		}
	}
	var httpHosts []*HTTPHost
	if len(httpIDs) > 0 {
		if err := s.conn(ctx).Where("id IN ?", httpIDs).Find(&httpHosts).Error; err != nil {
			return nil, nil, err
		}
	}
	return online, httpHosts, nil
}

func (s *DBStore) SaveHTTPHost(ctx context.Context, host *HTTPHost) error {
	return s.conn(ctx).Save(host).Error
}

func (s *DBStore) LinkHTTPHost(ctx context.Context, httpHostID, actionID, groupID string) error {
	return s.conn(ctx).Create(&ActionHost{HTTPHostID: httpHostID, ActionID: actionID, ActionGroupID: groupID}).Error
}
