package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindsAndRetryability(t *testing.T) {
	assert.True(t, KindDependencyUnavailable.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.False(t, KindValidation.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindConflict.Retryable())
}

func TestRetryAfterPopulated(t *testing.T) {
	e := Unavailable("storage", fmt.Errorf("connection refused"))
	assert.Equal(t, KindDependencyUnavailable, e.Kind)
	assert.Greater(t, e.RetryAfterMs, 0)

	v := Validation("bad input")
	assert.Zero(t, v.RetryAfterMs)
}

func TestWrapPreservesChain(t *testing.T) {
	cause := fmt.Errorf("disk full")
	e := Wrap(KindDependencyUnavailable, cause, "write failed")
	assert.ErrorIs(t, e, cause)

	var ae *AppError
	require.True(t, stderrors.As(e, &ae))
	assert.Equal(t, KindDependencyUnavailable, ae.Kind)
}

func TestIsMatchesByKind(t *testing.T) {
	e := NotFound("pattern", "p-1")
	assert.True(t, stderrors.Is(e, &AppError{Kind: KindNotFound}))
	assert.False(t, stderrors.Is(e, &AppError{Kind: KindConflict}))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConflict, KindOf(Conflict("dup")))
	assert.Equal(t, Kind(""), KindOf(fmt.Errorf("plain")))

	wrapped := fmt.Errorf("outer: %w", NotFound("session", "s-1"))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindNotFound))
}

func TestMarshalIncludesCause(t *testing.T) {
	e := Wrap(KindDependencyUnavailable, fmt.Errorf("dial tcp: refused"), "embedding provider down")
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", decoded["code"])
	assert.Contains(t, decoded["data"].(map[string]any)["cause"], "refused")
}

func TestErrorString(t *testing.T) {
	e := Validation("query must not be empty")
	assert.Equal(t, "[VALIDATION_ERROR] query must not be empty", e.Error())
}
