package cnst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransactionStatusTerminal(t *testing.T) {
	assert.True(t, TransactionCompleted.IsTerminal())
	assert.True(t, TransactionHostConnectionDropped.IsTerminal())
	for _, s := range ActiveStatuses {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestResultStatusValid(t *testing.T) {
	assert.True(t, ResultSuccess.Valid())
	assert.True(t, ResultRedirected.Valid())
	assert.False(t, ResultStatus("DONE").Valid())
	assert.False(t, ResultStatus("").Valid())
}
