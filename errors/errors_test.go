package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrapf(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "wrapped: %d", 42)

	assert.Contains(t, wrapped.Error(), "wrapped: 42")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestMarkKeepsMessage(t *testing.T) {
	err := Mark(New("pin rejected"), ErrUnauthorized)

	assert.Equal(t, "pin rejected", err.Error())
	assert.True(t, Is(err, ErrUnauthorized))
	assert.False(t, Is(err, ErrSecretRequired))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ""},
		{"not found", NewNotFoundError("schedule %s", "s1"), ClassValidation},
		{"invalid", NewInvalidRequestError("amount must be positive"), ClassValidation},
		{"not active", Wrap(ErrNotActive, "settle s1"), ClassValidation},
		{"secret required", Wrap(ErrSecretRequired, "payer p1"), ClassAuthorization},
		{"unauthorized", Mark(New("decrypt failed"), ErrUnauthorized), ClassAuthorization},
		{"conflict", Wrap(ErrConflict, "claim lost"), ClassConflict},
		{"timeout", Wrap(ErrTimeout, "mover"), ClassTransient},
		{"plain", fmt.Errorf("connection reset"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestDetailsSurviveWrapping(t *testing.T) {
	err := WithDetail(New("rail rejected transfer"), "status: 503")
	err = Wrap(err, "settle s1")

	details := GetAllDetails(err)
	assert.Contains(t, details, "status: 503")
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.True(t, IsNotFoundError(NewNotFoundError("payer %s", "p1")))
	assert.False(t, IsNotFoundError(New("something else")))
}
