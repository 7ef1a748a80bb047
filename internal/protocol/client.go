package protocol

import "encoding/json"

type ConnectToTransactionRequest struct {
	TransactionID string          `json:"transactionId" validate:"required"`
	Params        json.RawMessage `json:"params,omitempty"`
	ParamsMeta    json.RawMessage `json:"paramsMeta,omitempty"`
}

// ConnectToTransactionResponse tells the Client where the Transaction stands after attaching
type ConnectToTransactionResponse struct {
	Status       string `json:"status"`
	ResultStatus string `json:"resultStatus,omitempty"`
	Resumed      bool   `json:"resumed,omitempty"`
}

type LeaveTransactionRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
}

type RespondToIOCallRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	IOResponse    string `json:"ioResponse" validate:"required"`
}

type RequestPageRequest struct {
	PageKey         string          `json:"pageKey" validate:"required"`
	ActionGroupSlug string          `json:"actionGroupSlug" validate:"required"`
	Params          json.RawMessage `json:"params,omitempty"`
	ParamsMeta      json.RawMessage `json:"paramsMeta,omitempty"`
}

type LeavePageRequest struct {
	PageKey string `json:"pageKey" validate:"required"`
}

// Page reply types
const (
	PageSuccess = "SUCCESS"
	PageError   = "ERROR"
)

type PageResponse struct {
	Type    string `json:"type"`
	PageKey string `json:"pageKey,omitempty"`
	Message string `json:"message,omitempty"`
}

// InitializeClientResponse tells a Client which identity its socket carries
type InitializeClientResponse struct {
	Type         string   `json:"type"`
	ConnectionID string   `json:"connectionId"`
	UserID       string   `json:"userId,omitempty"`
	Organization *OrgInfo `json:"organization,omitempty"`
}

// Empty is the payload of methods without arguments
type Empty struct{}
