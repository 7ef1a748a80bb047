package rpc

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/errorx"
)

// Handle registers a typed method. The payload is decoded into Req and struct
// payloads are checked against their validate tags before fn runs.
func Handle[Req, Res any](ch *Channel, method cnst.Method, fn func(ctx context.Context, req Req) (Res, error)) {
	ch.Register(method, func(ctx context.Context, data json.RawMessage) (any, error) {
		var req Req
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &req); err != nil {
				return nil, errorx.Wrap(errorx.ErrInvalidInput, err, "%s", method)
			}
		}
		if isStruct(req) {
			if err := ch.validate.Struct(req); err != nil {
				return nil, errorx.Wrap(errorx.ErrInvalidInput, err, "%s", method)
			}
		}
		return fn(ctx, req)
	})
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Struct
}
