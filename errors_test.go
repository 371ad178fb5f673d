package cloudbackend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	assert.Equal(t, "VALIDATION_ERROR: topic ID is required",
		NewError(ErrCodeValidation, "topic ID is required").Error())
	assert.Equal(t, "TRANSPORT_ERROR: query failed: connection reset",
		NewErrorWithCause(ErrCodeTransport, "query failed", errors.New("connection reset")).Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewErrorWithCause(ErrCodeTransport, "insert failed", cause)

	assert.ErrorIs(t, err, cause)
}

func TestErrNotFound_MatchesAnyNotFound(t *testing.T) {
	err := fmt.Errorf("loading: %w", NotFoundError("Person", "42"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
	assert.False(t, errors.Is(NewError(ErrCodeTransport, "x"), ErrNotFound))
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		transport  bool
		notFound   bool
	}{
		{"nil", nil, false, false, false},
		{"plain", errors.New("x"), false, false, false},
		{"validation", NewError(ErrCodeValidation, "bad"), true, false, false},
		{"transport", NewError(ErrCodeTransport, "down"), false, true, false},
		{"transport wrapping not found", NewErrorWithCause(ErrCodeTransport, "fetch", ErrNotFound), false, true, true},
		{"joined", errors.Join(errors.New("a"), NewError(ErrCodeValidation, "b")), true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.transport, IsTransport(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
		})
	}
}

func TestTransportError_KeepsExistingCode(t *testing.T) {
	notFound := NotFoundError("Person", "1")
	assert.Same(t, notFound, transportError("fetch", notFound))

	wrapped := transportError("fetch", errors.New("eof"))
	assert.True(t, IsTransport(wrapped))
}
