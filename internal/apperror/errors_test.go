package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfFollowsWrapChain(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := fmt.Errorf("push order: %w", Connectivity(base, "remote unreachable"))

	assert.Equal(t, KindConnectivity, KindOf(err))
	assert.True(t, Is(err, KindConnectivity))
	assert.ErrorIs(t, err, base)
}

func TestKindOfPlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindValidation))
}

func TestValidationCarriesFields(t *testing.T) {
	err := Validation("refund_reason_required", "refund reason is required", FieldError{Field: "reason", Message: "required"})

	assert.Equal(t, "refund reason is required", err.Error())
	assert.Len(t, err.Fields, 1)
}
