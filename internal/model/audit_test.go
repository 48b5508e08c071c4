package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryBusinessTypeHasDescription(t *testing.T) {
	for _, b := range BusinessTypes {
		assert.NotEmpty(t, b.Description(), b)
	}
	assert.False(t, BusinessType("NOPE").Valid())
}

func TestParseTypes(t *testing.T) {
	b, err := ParseBusinessType(" meal ")
	require.NoError(t, err)
	assert.Equal(t, BusinessMeal, b)

	_, err = ParseBusinessType("unknown")
	assert.Error(t, err)

	o, err := ParseOperationType("query")
	require.NoError(t, err)
	assert.Equal(t, OperationQuery, o)

	_, err = ParseOperationType("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := &AuditRecord{Status: StatusSuccess, ExecuteTimeMs: 5}
	assert.NoError(t, ok.Validate())

	failed := &AuditRecord{Status: StatusFailed}
	assert.ErrorIs(t, failed.Validate(), ErrMissingException)

	failed.ExceptionInfo = "boom"
	assert.NoError(t, failed.Validate())

	neg := &AuditRecord{Status: StatusSuccess, ExecuteTimeMs: -1}
	assert.ErrorIs(t, neg.Validate(), ErrNegativeDuration)

	bad := &AuditRecord{Status: "MAYBE"}
	assert.ErrorIs(t, bad.Validate(), ErrUnknownStatus)
}
