package storage

import (
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base carries a uuid primary key filled on create
type Base struct {
	ID string `json:"id" gorm:"primaryKey;type:varchar(36)"`
}

func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

type Organization struct {
	Base
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	Slug      string    `json:"slug" gorm:"type:varchar(64);uniqueIndex"`
	OwnerID   string    `json:"ownerId" gorm:"type:varchar(36);index"`
	IsGhost   bool      `json:"isGhost" gorm:"default:false"`
	CreatedAt time.Time `json:"createdAt"`
}

type OrganizationEnvironment struct {
	Base
	OrganizationID string    `json:"organizationId" gorm:"type:varchar(36);index"`
	Name           string    `json:"name" gorm:"type:varchar(64)"`
	Slug           string    `json:"slug" gorm:"type:varchar(64)"`
	CreatedAt      time.Time `json:"createdAt"`
}

type User struct {
	Base
	Email                   string     `json:"email" gorm:"type:varchar(255);uniqueIndex"`
	FirstName               string     `json:"firstName" gorm:"type:varchar(255)"`
	LastName                string     `json:"lastName" gorm:"type:varchar(255)"`
	LastIdentityConfirmedAt *time.Time `json:"lastIdentityConfirmedAt"`
	CreatedAt               time.Time  `json:"createdAt"`
}

type UserSession struct {
	Base
	UserID                    string    `gorm:"type:varchar(36);index"`
	OrganizationID            string    `gorm:"type:varchar(36)"`
	OrganizationEnvironmentID string    `gorm:"type:varchar(36)"`
	ExpiresAt                 time.Time `gorm:"index"`
	CreatedAt                 time.Time
}

// APIKey authenticates Hosts. Development keys keep the plaintext in Key,
// production keys keep only the sha3-256 hex digest in KeyHash.
type APIKey struct {
	Base
	Key                       string                `gorm:"type:varchar(128);index"`
	KeyHash                   string                `gorm:"type:varchar(64);index"`
	UserID                    string                `gorm:"type:varchar(36);index"`
	OrganizationID            string                `gorm:"type:varchar(36);index"`
	OrganizationEnvironmentID string                `gorm:"type:varchar(36)"`
	UsageEnvironment          cnst.UsageEnvironment `gorm:"type:varchar(16)"`
	CreatedAt                 time.Time
	DeletedAt                 gorm.DeletedAt `gorm:"index"`
}

// ActionGroup is a catalog folder; groups with a handler are served as live pages
type ActionGroup struct {
	Base
	OrganizationID            string    `json:"organizationId" gorm:"type:varchar(36);uniqueIndex:idx_group_scope"`
	OrganizationEnvironmentID string    `json:"organizationEnvironmentId" gorm:"type:varchar(36);uniqueIndex:idx_group_scope"`
	DeveloperID               string    `json:"developerId" gorm:"type:varchar(36);uniqueIndex:idx_group_scope"`
	Slug                      string    `json:"slug" gorm:"type:varchar(255);uniqueIndex:idx_group_scope"`
	Name                      string    `json:"name" gorm:"type:varchar(255)"`
	Description               string    `json:"description" gorm:"type:text"`
	HasHandler                bool      `json:"hasHandler"`
	Unlisted                  bool      `json:"unlisted"`
	UpdatedAt                 time.Time `json:"updatedAt"`
}

type Action struct {
	Base
	OrganizationID            string    `json:"organizationId" gorm:"type:varchar(36);uniqueIndex:idx_action_scope"`
	OrganizationEnvironmentID string    `json:"organizationEnvironmentId" gorm:"type:varchar(36);uniqueIndex:idx_action_scope"`
	DeveloperID               string    `json:"developerId" gorm:"type:varchar(36);uniqueIndex:idx_action_scope"`
	Slug                      string    `json:"slug" gorm:"type:varchar(255);uniqueIndex:idx_action_scope"`
	Name                      string    `json:"name" gorm:"type:varchar(255)"`
	Description               string    `json:"description" gorm:"type:text"`
	Backgroundable            bool      `json:"backgroundable"`
	Unlisted                  bool      `json:"unlisted"`
	WarnOnClose               bool      `json:"warnOnClose"`
	CreatedAt                 time.Time `json:"createdAt"`
	UpdatedAt                 time.Time `json:"updatedAt"`
}

// HostInstance persists a Host socket. Its id equals the connection id.
type HostInstance struct {
	Base
	OrganizationID            string                `json:"organizationId" gorm:"type:varchar(36);index"`
	OrganizationEnvironmentID string                `json:"organizationEnvironmentId" gorm:"type:varchar(36)"`
	APIKeyID                  string                `json:"apiKeyId" gorm:"type:varchar(36);index"`
	UsageEnvironment          cnst.UsageEnvironment `json:"usageEnvironment" gorm:"type:varchar(16)"`
	Status                    cnst.HostStatus       `json:"status" gorm:"type:varchar(16);index"`
	SDKName                   string                `json:"sdkName" gorm:"type:varchar(64)"`
	SDKVersion                string                `json:"sdkVersion" gorm:"type:varchar(32)"`
	RequestID                 string                `json:"requestId" gorm:"type:varchar(36)"`
	CatalogHash               string                `json:"catalogHash" gorm:"type:varchar(64)"`
	LastSeenAt                time.Time             `json:"lastSeenAt"`
	CreatedAt                 time.Time             `json:"createdAt"`
	UpdatedAt                 time.Time             `json:"updatedAt"`
}

// HTTPHost is a Host reachable through an initialization POST
type HTTPHost struct {
	Base
	OrganizationID            string          `gorm:"type:varchar(36);index"`
	OrganizationEnvironmentID string          `gorm:"type:varchar(36)"`
	URL                       string          `gorm:"type:text"`
	Status                    cnst.HostStatus `gorm:"type:varchar(16)"`
	LastSeenAt                time.Time
	CreatedAt                 time.Time
	DeletedAt                 gorm.DeletedAt `gorm:"index"`
}

// ActionHost says which Host serves an action or action group
type ActionHost struct {
	Base
	ActionID       string `gorm:"type:varchar(36);index"`
	ActionGroupID  string `gorm:"type:varchar(36);index"`
	HostInstanceID string `gorm:"type:varchar(36);index"`
	HTTPHostID     string `gorm:"type:varchar(36);index"`
}

type Transaction struct {
	Base
	Status            cnst.TransactionStatus `json:"status" gorm:"type:varchar(32);index"`
	ResultStatus      cnst.ResultStatus      `json:"resultStatus" gorm:"type:varchar(16)"`
	Result            string                 `json:"result,omitempty" gorm:"type:text"`
	ActionID          string                 `json:"actionId" gorm:"type:varchar(36);index"`
	Action            Action                 `json:"-" gorm:"foreignKey:ActionID"`
	HostInstanceID    string                 `json:"hostInstanceId" gorm:"type:varchar(36);index"`
	OwnerID           string                 `json:"ownerId" gorm:"type:varchar(36);index"`
	CurrentClientID   string                 `json:"currentClientId" gorm:"type:varchar(36);index"`
	LastInputGroupKey string                 `json:"lastInputGroupKey" gorm:"type:varchar(255)"`
	ActionScheduleID  string                 `json:"actionScheduleId,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
	CompletedAt       *time.Time             `json:"completedAt,omitempty"`
	DroppedAt         *time.Time             `json:"droppedAt,omitempty" gorm:"index"` // set while waiting for the Client to return
}

// Scheduled reports whether the run was started by a schedule
func (t *Transaction) Scheduled() bool {
	return t.ActionScheduleID != ""
}

type TransactionRequirement struct {
	Base
	TransactionID string               `gorm:"type:varchar(36);index"`
	Type          cnst.RequirementType `gorm:"type:varchar(32)"`
	RenderCallID  string               `gorm:"type:varchar(64)"`
	GracePeriodMs int64
	SatisfiedAt   *time.Time
	CanceledAt    *time.Time
	CreatedAt     time.Time
}

type TransactionLog struct {
	Base
	TransactionID string `gorm:"type:varchar(36);index"`
	Data          string `gorm:"type:text"`
	Index         int    `gorm:"column:log_index"`
	CreatedAt     time.Time
}

// ActionSchedule fires an Action on a cron derived from its period fields
type ActionSchedule struct {
	Base
	ActionID        string         `json:"actionId" gorm:"type:varchar(36);index"`
	Action          Action         `json:"-" gorm:"foreignKey:ActionID"`
	RunnerID        string         `json:"runnerId" gorm:"type:varchar(36)"`
	SchedulePeriod  string         `json:"schedulePeriod" gorm:"type:varchar(8)"`
	TimeZoneName    string         `json:"timeZoneName" gorm:"type:varchar(64)"`
	HourOfDay       *int           `json:"hourOfDay"`
	MinuteOfHour    *int           `json:"minuteOfHour"`
	DayOfWeek       *int           `json:"dayOfWeek"`
	DayOfMonth      *int           `json:"dayOfMonth"`
	NotifyOnSuccess bool           `json:"notifyOnSuccess"`
	CreatedAt       time.Time      `json:"createdAt"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}

type ActionScheduleRun struct {
	Base
	ActionScheduleID string                 `gorm:"type:varchar(36);index"`
	Status           cnst.ScheduleRunStatus `gorm:"type:varchar(16)"`
	Details          string                 `gorm:"type:text"`
	TransactionID    string                 `gorm:"type:varchar(36)"`
	CreatedAt        time.Time
}

type Notification struct {
	Base
	TransactionID  string `gorm:"type:varchar(36);index"`
	UserID         string `gorm:"type:varchar(36);index"`
	Title          string `gorm:"type:varchar(255)"`
	Message        string `gorm:"type:text"`
	Deliveries     string `gorm:"type:text"`
	IdempotencyKey string `gorm:"type:varchar(255);index"`
	CreatedAt      time.Time
}

func allModels() []any {
	return []any{
		&Organization{}, &OrganizationEnvironment{}, &User{}, &UserSession{}, &APIKey{},
		&ActionGroup{}, &Action{}, &HostInstance{}, &HTTPHost{}, &ActionHost{},
		&Transaction{}, &TransactionRequirement{}, &TransactionLog{},
		&ActionSchedule{}, &ActionScheduleRun{}, &Notification{},
	}
}
