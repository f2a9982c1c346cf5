package cmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrorTypeConnection, "backend unreachable")
	assert.Equal(t, "connection: backend unreachable", err.Error())

	wrapped := Wrap(errors.New("dial tcp: refused"), ErrorTypeConnection, "open failed")
	assert.Equal(t, "connection: open failed: dial tcp: refused", wrapped.Error())
}

func TestNewfFormats(t *testing.T) {
	err := Newf(ErrorTypePool, "acquire timed out after %s", "30s")
	assert.Equal(t, "pool: acquire timed out after 30s", err.Error())
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "ignored"))
}

func TestUnwrapChain(t *testing.T) {
	root := errors.New("root cause")
	mid := Wrap(root, ErrorTypeConnection, "mid")
	top := Wrap(mid, ErrorTypeExtraction, "top")

	assert.True(t, errors.Is(top, root))

	var e *Error
	require.True(t, errors.As(top, &e))
	assert.Equal(t, ErrorTypeExtraction, e.Type)
}

func TestWrapPreservesOriginalStack(t *testing.T) {
	inner := New(ErrorTypeConnection, "inner")
	outer := Wrap(inner, ErrorTypeExtraction, "outer")

	require.NotEmpty(t, inner.Stack)
	assert.Equal(t, inner.Stack[0], outer.Stack[0])
}

func TestDetails(t *testing.T) {
	err := New(ErrorTypeTimeout, "query timed out").
		WithSystem("cm-prod").
		WithOperation("query").
		WithDetail("elapsed_ms", 30000)

	assert.Equal(t, "cm-prod", err.Details["system_id"])
	assert.Equal(t, "query", err.Details["operation"])
	assert.Equal(t, 30000, err.Details["elapsed_ms"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "x")))
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "x")))

	for _, errType := range []ErrorType{
		ErrorTypeConfig, ErrorTypeAuthentication, ErrorTypeVersionMismatch,
		ErrorTypeCircuitOpen, ErrorTypeExtraction, ErrorTypeDecryption,
		ErrorTypeValidation, ErrorTypePool, ErrorTypeInternal,
	} {
		assert.False(t, IsRetryable(New(errType, "x")), "type %s", errType)
	}

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsRetryableSeesThroughWrapping(t *testing.T) {
	inner := New(ErrorTypeConnection, "reset")
	wrapped := fmt.Errorf("while probing: %w", inner)
	assert.True(t, IsRetryable(wrapped))
}

func TestIsTypeAndTypeOf(t *testing.T) {
	err := New(ErrorTypeVersionMismatch, "unsupported release")
	assert.True(t, IsType(err, ErrorTypeVersionMismatch))
	assert.False(t, IsType(err, ErrorTypeConnection))
	assert.Equal(t, ErrorTypeVersionMismatch, TypeOf(err))

	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
	assert.False(t, IsType(nil, ErrorTypeConnection))
}

func TestStackCaptured(t *testing.T) {
	err := New(ErrorTypeInternal, "boom")
	require.NotEmpty(t, err.Stack)
	assert.Contains(t, err.Stack[0].Function, "TestStackCaptured")
}
