package notify

import (
	"context"
	"time"

	"github.com/amoylab/hostlink/internal/protocol"
)

// Kind selects the template a Message is rendered with
type Kind string

const (
	KindAwaitingInput Kind = "awaiting_input"
	KindCompleted     Kind = "completed"
	KindHostMessage   Kind = "host_message"
)

// Event is what the engine knows when a Transaction owner must be told something
type Event struct {
	Kind           Kind
	TransactionID  string
	UserID         string
	ActionSlug     string
	ActionName     string
	ResultStatus   string
	Title          string
	Message        string
	URL            string
	IdempotencyKey string
	Deliveries     []protocol.Delivery
}

// Message is a rendered Event ready for delivery
type Message struct {
	Kind           Kind                `json:"kind"`
	TransactionID  string              `json:"transactionId,omitempty"`
	UserID         string              `json:"userId"`
	Title          string              `json:"title"`
	Body           string              `json:"body"`
	URL            string              `json:"url,omitempty"`
	IdempotencyKey string              `json:"idempotencyKey,omitempty"`
	Deliveries     []protocol.Delivery `json:"deliveries,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// Notifier delivers owner notifications. Delivery itself (e-mail, chat) happens downstream.
type Notifier interface {
	Notify(ctx context.Context, msg *Message) error
}
