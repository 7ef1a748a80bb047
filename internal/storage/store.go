package storage

import (
	"context"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
)

// Store is the persistence contract the engine relies on
type Store interface {
	// identity
	FindAPIKeyByPlain(ctx context.Context, key string) (*APIKey, error)
	FindAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	CreateAPIKey(ctx context.Context, key *APIKey) error
	Session(ctx context.Context, id string) (*UserSession, error)
	CreateSession(ctx context.Context, session *UserSession) error
	User(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	ConfirmIdentity(ctx context.Context, userID string, at time.Time) error
	Organization(ctx context.Context, id string) (*Organization, error)
	CreateOrganization(ctx context.Context, org *Organization, envs ...*OrganizationEnvironment) error
	Environment(ctx context.Context, id string) (*OrganizationEnvironment, error)
	// ProvisionGhost finds or creates the ephemeral organization behind a ghost id
	ProvisionGhost(ctx context.Context, ghostID string, slug, apiKey string) (*GhostIdentity, error)

	// catalog and hosts
	SaveHostInstance(ctx context.Context, host *HostInstance) error
	HostInstance(ctx context.Context, id string) (*HostInstance, error)
	SetHostStatus(ctx context.Context, id string, status cnst.HostStatus) error
	TouchHost(ctx context.Context, id string, at time.Time) error
	ListHostInstances(ctx context.Context, status cnst.HostStatus) ([]*HostInstance, error)
	FindOrCreateActionGroup(ctx context.Context, group *ActionGroup) (*ActionGroup, error)
	FindOrCreateAction(ctx context.Context, action *Action) (*Action, error)
	ReplaceHostLinks(ctx context.Context, hostInstanceID string, actionIDs, groupIDs []string) error
	Action(ctx context.Context, id string) (*Action, error)
	ActionBySlug(ctx context.Context, orgID, envID, developerID, slug string) (*Action, error)
	ActionGroupBySlug(ctx context.Context, orgID, envID, developerID, slug string) (*ActionGroup, error)
	HostsForAction(ctx context.Context, actionID string) ([]string, []*HTTPHost, error)
	HostsForActionGroup(ctx context.Context, groupID string) ([]string, []*HTTPHost, error)
	SaveHTTPHost(ctx context.Context, host *HTTPHost) error
	LinkHTTPHost(ctx context.Context, httpHostID, actionID, groupID string) error

	// transactions
	CreateTransaction(ctx context.Context, tx *Transaction) error
	Transaction(ctx context.Context, id string) (*Transaction, error)
	// UpdateTransactionStatus moves id to `to` only while its status is one of from
	UpdateTransactionStatus(ctx context.Context, id string, from []cnst.TransactionStatus, to cnst.TransactionStatus) (bool, error)
	// SetResultStatusIfUnset writes the result only once
	SetResultStatusIfUnset(ctx context.Context, id string, status cnst.ResultStatus, result string) (bool, error)
	// CompleteTransaction sets the result if unset and moves an open Transaction to COMPLETED
	CompleteTransaction(ctx context.Context, id string, status cnst.ResultStatus, result string) (*Transaction, error)
	// SwapCurrentClient sets the current client and returns the previous one
	SwapCurrentClient(ctx context.Context, id, clientID string) (string, error)
	ClearCurrentClientIf(ctx context.Context, id, clientID string) (bool, error)
	SetLastInputGroupKey(ctx context.Context, id, key string) (bool, error)
	ActiveTransactionsForHost(ctx context.Context, hostInstanceID string) ([]*Transaction, error)
	ActiveTransactionsForClient(ctx context.Context, clientID string) ([]*Transaction, error)
	DroppedTransactionsBefore(ctx context.Context, cutoff time.Time) ([]*Transaction, error)

	CreateRequirement(ctx context.Context, req *TransactionRequirement) error
	OpenRequirements(ctx context.Context, transactionID string) ([]*TransactionRequirement, error)
	SatisfyRequirement(ctx context.Context, id string, at time.Time) error
	CancelRequirement(ctx context.Context, id string, at time.Time) error
	CreateTransactionLog(ctx context.Context, log *TransactionLog) error
	TransactionLogs(ctx context.Context, transactionID string) ([]*TransactionLog, error)
	CreateNotification(ctx context.Context, n *Notification) error
	Notification(ctx context.Context, id string) (*Notification, error)
	NotificationByIdempotencyKey(ctx context.Context, key string) (*Notification, error)

	// schedules
	ListSchedules(ctx context.Context) ([]*ActionSchedule, error)
	Schedule(ctx context.Context, id string) (*ActionSchedule, error)
	SchedulesForAction(ctx context.Context, actionID string) ([]*ActionSchedule, error)
	CreateSchedule(ctx context.Context, s *ActionSchedule) error
	DeleteSchedule(ctx context.Context, id string, hard bool) error
	CountScheduleRuns(ctx context.Context, scheduleID string) (int64, error)
	CreateScheduleRun(ctx context.Context, run *ActionScheduleRun) error
	ScheduleRuns(ctx context.Context, scheduleID string) ([]*ActionScheduleRun, error)

	Close() error
}

// GhostIdentity bundles the rows behind an anonymous ghost connection
type GhostIdentity struct {
	Organization *Organization
	Environment  *OrganizationEnvironment
	User         *User
	APIKey       *APIKey
}
