package protocol

import (
	"testing"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseIOCall(t *testing.T) {
	call, err := ParseIOCall(`{"id":"c1","inputGroupKey":"g1","toRender":[{"methodName":"DISPLAY_HEADING"},{"methodName":"INPUT_TEXT"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "c1", call.ID)
	assert.Equal(t, "g1", call.InputGroupKey)
	assert.Equal(t, []string{"DISPLAY_HEADING", "INPUT_TEXT"}, call.Methods)
	assert.False(t, call.DisplayOnly())
	assert.Nil(t, call.IdentityConfirm)

	call, err = ParseIOCall(`{"id":"c2","toRender":[{"methodName":"DISPLAY_MARKDOWN"},{"methodName":"DISPLAY_TABLE"}]}`)
	require.NoError(t, err)
	assert.True(t, call.DisplayOnly())

	call, err = ParseIOCall(`{"id":"c3","toRender":[{"methodName":"CONFIRM_IDENTITY","props":{"gracePeriodMs":60000}}]}`)
	require.NoError(t, err)
	require.NotNil(t, call.IdentityConfirm)
	assert.Equal(t, time.Minute, call.IdentityConfirm.GracePeriod)
	assert.False(t, call.DisplayOnly())

	_, err = ParseIOCall(`not json`)
	assert.Error(t, err)
	_, err = ParseIOCall(`{"toRender":[]}`)
	assert.Error(t, err)
}

func TestEmptyRenderIsNotDisplayOnly(t *testing.T) {
	assert.False(t, IOCall{ID: "x"}.DisplayOnly())
}

func TestCancelsRequirement(t *testing.T) {
	res, err := ParseIOResponse(`{"id":"c3","kind":"RETURN","values":[false]}`)
	require.NoError(t, err)
	assert.True(t, res.CancelsRequirement("c3"))
	assert.False(t, res.CancelsRequirement("other"))

	res, _ = ParseIOResponse(`{"id":"c3","kind":"RETURN","values":[true]}`)
	assert.False(t, res.CancelsRequirement("c3"))

	res, _ = ParseIOResponse(`{"id":"c3","kind":"RETURN","values":[false,false]}`)
	assert.False(t, res.CancelsRequirement("c3"))

	res, _ = ParseIOResponse(`{"id":"c3","kind":"RETURN","values":["false"]}`)
	assert.False(t, res.CancelsRequirement("c3"))
}

func TestCanceledIOResponse(t *testing.T) {
	raw := CanceledIOResponse("tx1", "")
	assert.Equal(t, cnst.UnknownCallID, gjson.Get(raw, "id").String())
	assert.Equal(t, "CANCELED", gjson.Get(raw, "kind").String())
	assert.Equal(t, "tx1", gjson.Get(raw, "transactionId").String())

	raw = CanceledIOResponse("tx1", "c9")
	assert.Equal(t, "c9", gjson.Get(raw, "id").String())
}

func TestParseResult(t *testing.T) {
	assert.Equal(t, cnst.ResultFailure, ParseResult(`{"status":"FAILURE","data":null}`, "").Status)
	assert.Equal(t, cnst.ResultSuccess, ParseResult(``, "").Status)
	assert.Equal(t, cnst.ResultFailure, ParseResult(``, "FAILURE").Status)
	assert.Equal(t, cnst.ResultSuccess, ParseResult(`{"status":"BOGUS"}`, "").Status)
}
