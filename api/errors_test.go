package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MatchesSentinel(t *testing.T) {
	err := NewError(ErrCodeNotFound, "socket not registered").WithContext("fd", 12)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrInvalidArgument))
	assert.Contains(t, err.Error(), "socket not registered")
	assert.Contains(t, err.Error(), "fd")
}

func TestError_InternalHasNoSentinel(t *testing.T) {
	err := NewError(ErrCodeInternal, "boom")
	assert.Equal(t, "boom", err.Error())
	assert.False(t, errors.Is(err, ErrNotFound))
}
