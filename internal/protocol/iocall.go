package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/tidwall/gjson"
)

const (
	displayPrefix         = "DISPLAY_"
	methodConfirmIdentity = "CONFIRM_IDENTITY"
)

// IOCall is the part of a rendered IO call the engine acts on. The payload
// itself stays opaque and is forwarded unchanged.
type IOCall struct {
	ID            string
	InputGroupKey string
	Methods       []string
	// IdentityConfirm is set when the render contains an identity confirmation
	IdentityConfirm *IdentityConfirm
}

type IdentityConfirm struct {
	GracePeriod time.Duration
}

// DisplayOnly reports whether every component is informational
func (c IOCall) DisplayOnly() bool {
	if len(c.Methods) == 0 {
		return false
	}
	for _, m := range c.Methods {
		if !strings.HasPrefix(m, displayPrefix) {
			return false
		}
	}
	return true
}

// ParseIOCall inspects a serialized IO call
func ParseIOCall(raw string) (IOCall, error) {
	if !gjson.Valid(raw) {
		return IOCall{}, fmt.Errorf("io call is not valid json")
	}
	doc := gjson.Parse(raw)
	call := IOCall{
		ID:            doc.Get("id").String(),
		InputGroupKey: doc.Get("inputGroupKey").String(),
	}
	if call.ID == "" {
		return IOCall{}, fmt.Errorf("io call has no id")
	}
	doc.Get("toRender").ForEach(func(_, component gjson.Result) bool {
		method := component.Get("methodName").String()
		call.Methods = append(call.Methods, method)
		if method == methodConfirmIdentity && call.IdentityConfirm == nil {
			ms := component.Get("props.gracePeriodMs").Int()
			call.IdentityConfirm = &IdentityConfirm{GracePeriod: time.Duration(ms) * time.Millisecond}
		}
		return true
	})
	return call, nil
}

// IOResponse is the part of a Client response the engine acts on
type IOResponse struct {
	ID     string
	Kind   string
	Values []gjson.Result
}

func ParseIOResponse(raw string) (IOResponse, error) {
	if !gjson.Valid(raw) {
		return IOResponse{}, fmt.Errorf("io response is not valid json")
	}
	doc := gjson.Parse(raw)
	return IOResponse{
		ID:     doc.Get("id").String(),
		Kind:   doc.Get("kind").String(),
		Values: doc.Get("values").Array(),
	}, nil
}

// CancelsRequirement reports whether the response is the single explicit false
// that cancels the requirement raised by render call renderCallID
func (r IOResponse) CancelsRequirement(renderCallID string) bool {
	return r.ID != "" && r.ID == renderCallID &&
		len(r.Values) == 1 && r.Values[0].Type == gjson.False
}

type ioResponseValue struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	Kind          string `json:"kind"`
	Values        []any  `json:"values"`
}

// CanceledIOResponse serializes the response sent to a Host when a Transaction is canceled
func CanceledIOResponse(transactionID, callID string) string {
	if callID == "" {
		callID = cnst.UnknownCallID
	}
	data, _ := json.Marshal(ioResponseValue{
		ID:            callID,
		TransactionID: transactionID,
		Kind:          cnst.IOResponseCanceled,
		Values:        []any{},
	})
	return string(data)
}

// Result is the Host-reported outcome of a Transaction
type Result struct {
	Status cnst.ResultStatus
	Raw    string
}

// ParseResult reads the status of a serialized result. An unparsable or missing
// status defaults to SUCCESS, an explicit fallback wins when the payload has none.
func ParseResult(raw string, fallback string) Result {
	res := Result{Status: cnst.ResultSuccess, Raw: raw}
	if s := cnst.ResultStatus(fallback); s.Valid() {
		res.Status = s
	}
	if raw == "" || !gjson.Valid(raw) {
		return res
	}
	if s := cnst.ResultStatus(gjson.Get(raw, "status").String()); s.Valid() {
		res.Status = s
	}
	return res
}
