package rpc

import (
	"encoding/json"

	"github.com/amoylab/hostlink/internal/common/cnst"
)

// Kind discriminates frames on the wire
type Kind string

const (
	KindCall          Kind = "CALL"
	KindResponse      Kind = "RESPONSE"
	KindAuthenticated Kind = "AUTHENTICATED"
)

// Envelope is one frame. A CALL carries a fresh id, the matching RESPONSE echoes it
// and carries either Data or Error.
type Envelope struct {
	ID         string          `json:"id,omitempty"`
	Kind       Kind            `json:"kind"`
	MethodName cnst.Method     `json:"methodName,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// RemoteError is returned by Call when the peer answered with an error
type RemoteError struct {
	Method  cnst.Method
	Message string
}

func (e *RemoteError) Error() string {
	return string(e.Method) + ": " + e.Message
}
