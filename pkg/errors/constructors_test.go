package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	err := New(CodeMissingSubject, "sub claim is empty")
	assert.Equal(t, CodeMissingSubject, err.Code)
	assert.Equal(t, "sub claim is empty", err.Message)
	assert.Nil(t, err.Cause)
}

func TestNewf(t *testing.T) {
	t.Parallel()
	err := Newf(CodeKeyNotFound, "no public key for kid %q", "abc")
	assert.Equal(t, `no public key for kid "abc"`, err.Message)
}

func TestWrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("dial tcp: refused")
	err := Wrap(cause, CodeTokenRequest, "token endpoint request failed")
	require.NotNil(t, err)
	assert.Equal(t, cause, err.Cause)
	assert.Nil(t, Wrap(nil, CodeTokenRequest, "x"))
}

func TestWrapf(t *testing.T) {
	t.Parallel()
	err := Wrapf(errors.New("bad pem"), CodeCredentialKey, "private key %s", "id-1")
	assert.Equal(t, "private key id-1", err.Message)
	assert.Nil(t, Wrapf(nil, CodeCredentialKey, "x"))
}

func TestValidationf(t *testing.T) {
	t.Parallel()
	err := Validationf("margin %s too large", "2h")
	assert.Equal(t, CodeValidation, err.Code)
	assert.Equal(t, "margin 2h too large", err.Message)
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	assert.Nil(t, FromContext(nil, "x"))

	deadline := FromContext(context.DeadlineExceeded, "gave up")
	assert.Equal(t, CodeTimeout, deadline.Code)
	assert.True(t, errors.Is(deadline, context.DeadlineExceeded))
	assert.True(t, IsRetryable(deadline))

	canceled := FromContext(fmt.Errorf("wrapped: %w", context.Canceled), "gave up")
	assert.Equal(t, CodeInternal, canceled.Code)
	assert.True(t, errors.Is(canceled, context.Canceled))
	assert.False(t, IsRetryable(canceled))
}

func TestFromError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, FromError(nil))

	platform := New(CodeWrongIssuer, "iss")
	assert.Same(t, platform, FromError(platform))
	assert.Same(t, platform, FromError(fmt.Errorf("ctx: %w", platform)))

	std := FromError(errors.New("boom"))
	assert.Equal(t, CodeInternal, std.Code)
}
