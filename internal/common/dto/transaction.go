package dto

import "encoding/json"

// CreateTransactionRequest creates a PENDING transaction for an action
type CreateTransactionRequest struct {
	ActionID string `json:"actionId" binding:"required"`
	OwnerID  string `json:"ownerId" binding:"required"`
}

// CreateTransactionResponse carries the new transaction
type CreateTransactionResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	HostInstanceID string `json:"hostInstanceId"`
}

// StartTransactionRequest pushes START_TRANSACTION to the bound host
type StartTransactionRequest struct {
	TransactionID string          `json:"transactionId" binding:"required"`
	RunnerID      string          `json:"runnerId" binding:"required"`
	ClientID      string          `json:"clientId,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
	ParamsMeta    json.RawMessage `json:"paramsMeta,omitempty"`
}

// CancelTransactionRequest cancels a transaction; RequestedBy must be the owner when set
type CancelTransactionRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	RequestedBy   string `json:"requestedBy,omitempty"`
}

// SatisfyRequirementsRequest confirms the owner's identity for a transaction
type SatisfyRequirementsRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	UserID        string `json:"userId,omitempty"`
}

// SatisfyRequirementsResponse counts the requirements released
type SatisfyRequirementsResponse struct {
	Satisfied int `json:"satisfied"`
}

// NotifyRequest dispatches a stored notification to the current client
type NotifyRequest struct {
	TransactionID  string `json:"transactionId" binding:"required"`
	NotificationID string `json:"notificationId" binding:"required"`
}

// NotifyResponse reports whether a client received the notification
type NotifyResponse struct {
	Delivered bool `json:"delivered"`
}

// SuccessResponse acknowledges requests without a body
type SuccessResponse struct {
	Success bool `json:"success"`
}
