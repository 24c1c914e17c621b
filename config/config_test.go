package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ValidateConfig_RejectsUnknownAccessDBDriver(t *testing.T) {
	cfg := &Config{AccessDBDriver: "mysql", FallbackProvider: "static"}
	err := validateConfig(cfg)
	assert.ErrorContains(t, err, "access_db_driver")
}

func Test_ValidateConfig_RejectsUnknownFallbackProvider(t *testing.T) {
	cfg := &Config{AccessDBDriver: "sqlite", FallbackProvider: "anthropic"}
	err := validateConfig(cfg)
	assert.ErrorContains(t, err, "fallback_provider")
}

func Test_ValidateConfig_RequiresOpenAIKeyWhenSelected(t *testing.T) {
	cfg := &Config{AccessDBDriver: "sqlite", FallbackProvider: "openai", OpenAIAPIKey: ""}
	err := validateConfig(cfg)
	assert.ErrorContains(t, err, "openai_api_key")
}

func Test_ValidateConfig_RequiresGeminiKeyWhenSelected(t *testing.T) {
	cfg := &Config{AccessDBDriver: "sqlite", FallbackProvider: "gemini", GeminiAPIKey: ""}
	err := validateConfig(cfg)
	assert.ErrorContains(t, err, "gemini_api_key")
}

func Test_ValidateConfig_AcceptsWellFormedStaticConfig(t *testing.T) {
	cfg := &Config{AccessDBDriver: "postgres", FallbackProvider: "static"}
	assert.NoError(t, validateConfig(cfg))
}

func Test_ValidateConfig_AcceptsOpenAIWithKey(t *testing.T) {
	cfg := &Config{AccessDBDriver: "sqlite", FallbackProvider: "openai", OpenAIAPIKey: "sk-test"}
	assert.NoError(t, validateConfig(cfg))
}
