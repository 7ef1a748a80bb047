package protocol

import "encoding/json"

// ActionDefinition is one entry of a Host's action catalog
type ActionDefinition struct {
	Slug           string `json:"slug" validate:"required"`
	GroupSlug      string `json:"groupSlug,omitempty"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	Backgroundable bool   `json:"backgroundable,omitempty"`
	Unlisted       bool   `json:"unlisted,omitempty"`
	WarnOnClose    bool   `json:"warnOnClose,omitempty"`
}

// PageDefinition declares an action group, optionally rendered as a live page
type PageDefinition struct {
	Slug        string `json:"slug" validate:"required"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	HasHandler  bool   `json:"hasHandler,omitempty"`
	Unlisted    bool   `json:"unlisted,omitempty"`
}

type InitializeHostRequest struct {
	SDKName    string             `json:"sdkName" validate:"required"`
	SDKVersion string             `json:"sdkVersion" validate:"required"`
	RequestID  string             `json:"requestId,omitempty"`
	Timestamp  int64              `json:"timestamp,omitempty"`
	Actions    []ActionDefinition `json:"callableActionNames" validate:"dive"`
	Groups     []PageDefinition   `json:"groups,omitempty" validate:"dive"`
}

// Initialization reply types
const (
	ReplySuccess = "success"
	ReplyError   = "error"
)

type InitializeHostResponse struct {
	Type         string   `json:"type"`
	Code         string   `json:"code,omitempty"`
	Message      string   `json:"message,omitempty"`
	InvalidSlugs []string `json:"invalidSlugs,omitempty"`
	Environment  string   `json:"environment,omitempty"`
	Organization *OrgInfo `json:"organization,omitempty"`
	DashboardURL string   `json:"dashboardUrl,omitempty"`
}

type OrgInfo struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type SendIOCallRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	IOCall        string `json:"ioCall" validate:"required"`
}

type SendLoadingCallRequest struct {
	TransactionID  string `json:"transactionId" validate:"required"`
	Label          string `json:"label,omitempty"`
	Description    string `json:"description,omitempty"`
	ItemsInQueue   *int   `json:"itemsInQueue,omitempty"`
	ItemsCompleted *int   `json:"itemsCompleted,omitempty"`
}

type SendLogRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	Data          string `json:"data"`
	Index         int    `json:"index"`
	Timestamp     int64  `json:"timestamp"`
}

type SendRedirectRequest struct {
	TransactionID string          `json:"transactionId" validate:"required"`
	URL           string          `json:"url,omitempty"`
	Route         string          `json:"route,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
}

type Delivery struct {
	To     string `json:"to,omitempty"`
	Method string `json:"method,omitempty"`
}

type NotifyRequest struct {
	TransactionID  string     `json:"transactionId,omitempty"`
	Message        string     `json:"message" validate:"required"`
	Title          string     `json:"title,omitempty"`
	Deliveries     []Delivery `json:"deliveryInstructions,omitempty"`
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
	CreatedAt      string     `json:"createdAt,omitempty"`
}

type MarkTransactionCompleteRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	ResultStatus  string `json:"resultStatus,omitempty"`
	Result        string `json:"result,omitempty"`
}

type SendPageRequest struct {
	PageKey string `json:"pageKey" validate:"required"`
	Page    string `json:"page,omitempty"`
}
