package circulation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeBookUnavailable, CodeOf(newError(CodeBookUnavailable, "out on loan")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("something else")), "foreign errors default to INTERNAL")

	wrapped := fmt.Errorf("handler: %w", newError(CodeIssueLimitReached, "limit"))
	assert.Equal(t, CodeIssueLimitReached, CodeOf(wrapped), "codes survive wrapping")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("driver: bad connection")
	err := wrapError(CodeInternal, "storage failure", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "storage failure")
	assert.Contains(t, err.Error(), "bad connection")
}

func TestIsBusiness(t *testing.T) {
	for _, code := range []Code{
		CodeIssueLimitReached, CodeBookUnavailable, CodeBookReservedForAnother,
		CodeAlreadyReserved, CodeBookAlreadyReserved, CodeReservationNotActive,
	} {
		assert.True(t, IsBusiness(newError(code, "x")), string(code))
	}
	assert.False(t, IsBusiness(newError(CodeNotFound, "x")))
	assert.False(t, IsBusiness(newError(CodeConflict, "x")))
	assert.False(t, IsBusiness(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(newError(CodeConflict, "deadlock")))
	assert.False(t, Retryable(newError(CodeBookUnavailable, "x")))
}
