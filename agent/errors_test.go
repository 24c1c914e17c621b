package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Classify_MapsKnownCodes(t *testing.T) {
	cases := map[string]Kind{
		"auth":              KindAuth,
		"unauthorized":      KindAuth,
		"forbidden":         KindAuth,
		"rate_limit":        KindRateLimit,
		"too_many_requests": KindRateLimit,
		"config":            KindConfig,
		"invalid_scenario":  KindConfig,
		"context_missing":   KindContextMissing,
		"something_else":    KindOther,
	}
	for code, want := range cases {
		got := Classify(&InvocationError{Code: code})
		assert.Equal(t, want, got, "code %q", code)
	}
}

func Test_InvocationError_ErrorIncludesCodeAndMessage(t *testing.T) {
	err := &InvocationError{Code: "auth", Message: "bad key"}
	assert.Contains(t, err.Error(), "auth")
	assert.Contains(t, err.Error(), "bad key")
}

func Test_ConfigError_ErrorIncludesReason(t *testing.T) {
	err := &ConfigError{Reason: "missing field x"}
	assert.Contains(t, err.Error(), "missing field x")
}
