package kv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_IsTransient_TrueForTransientError(t *testing.T) {
	err := &Transient{Op: "get", Err: errors.New("connection reset")}
	assert.True(t, IsTransient(err))
}

func Test_IsTransient_FalseForPlainError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("permanent failure")))
}

func Test_Transient_UnwrapReturnsUnderlyingError(t *testing.T) {
	underlying := errors.New("timeout")
	err := &Transient{Op: "set", Err: underlying}
	assert.ErrorIs(t, err, underlying)
}
