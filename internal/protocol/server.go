package protocol

import "encoding/json"

// Payloads the server sends to Hosts and Clients

type ContextUser struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

type ActionRef struct {
	Slug string `json:"slug"`
	URL  string `json:"url"`
}

type StartTransactionRequest struct {
	TransactionID string          `json:"transactionId"`
	Action        ActionRef       `json:"action"`
	Environment   string          `json:"environment"`
	User          ContextUser     `json:"user"`
	Params        json.RawMessage `json:"params,omitempty"`
	ParamsMeta    json.RawMessage `json:"paramsMeta,omitempty"`
}

type IOResponseRequest struct {
	TransactionID string `json:"transactionId"`
	Value         string `json:"value"`
}

type OpenPageRequest struct {
	PageKey     string          `json:"pageKey"`
	ClientID    string          `json:"clientId"`
	Page        ActionRef       `json:"page"`
	Environment string          `json:"environment"`
	User        ContextUser     `json:"user"`
	Params      json.RawMessage `json:"params,omitempty"`
	ParamsMeta  json.RawMessage `json:"paramsMeta,omitempty"`
}

type ClosePageRequest struct {
	PageKey string `json:"pageKey"`
}

type RenderRequest struct {
	TransactionID string `json:"transactionId"`
	ToRender      string `json:"toRender"`
}

type RenderPageRequest struct {
	PageKey        string `json:"pageKey"`
	Page           string `json:"page,omitempty"`
	HostInstanceID string `json:"hostInstanceId,omitempty"`
}

type TransactionRef struct {
	TransactionID string `json:"transactionId"`
}

type TransactionCompletedRequest struct {
	TransactionID string `json:"transactionId"`
	ResultStatus  string `json:"resultStatus"`
	Result        string `json:"result,omitempty"`
}

type ClientNotifyRequest struct {
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message"`
	Title         string `json:"title,omitempty"`
}
