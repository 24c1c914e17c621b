// Package config loads the service's static configuration (ports,
// credentials, backend addresses) and exposes the hot-reloadable
// Tunables separately so a config change can be broadcast without
// restarting the process. Grounded on core/config/config.go's typed
// Config struct and getEnv/getEnvInt helpers, with spf13/viper env
// binding layered on top the way cmd/root.go's initEnvConfig does, and
// joho/godotenv loading a local .env in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/chatmediator/wecom-bridge/domain"
)

// Config is the service's static configuration: everything that is
// fixed for the lifetime of a process, as opposed to domain.Tunables
// which can change while the process runs.
type Config struct {
	AppPort  string
	ServerID string
	Debug    bool

	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string

	AccessDBDriver string // "sqlite" or "postgres"
	AccessDBDSN    string

	AgentBaseURL string
	AgentAPIKey  string
	AgentTimeout time.Duration

	SendEndpoint string
	SendToken    string
	SendTimeout  time.Duration

	DedupTTL   time.Duration
	HistoryTTL time.Duration
	HistoryCap int

	FallbackText     string
	FallbackProvider string // "static" (default), "openai", or "gemini"
	OpenAIAPIKey     string
	OpenAIModel      string
	GeminiAPIKey     string
	GeminiModel      string

	Tunables domain.Tunables
}

// Load reads configuration from the environment (optionally from a
// local .env file first) into a Config. Unset values fall back to the
// same defaults named in the external interface contract.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("[Config] failed to read .env, continuing with process environment only")
	}
	bindEnv()

	cfg := &Config{
		AppPort:  getString("app_port", "3000"),
		ServerID: getString("server_id", ""),
		Debug:    getBool("app_debug", false),

		ValkeyEnabled:   getBool("valkey_enabled", false),
		ValkeyAddress:   getString("valkey_address", "localhost:6379"),
		ValkeyPassword:  getString("valkey_password", ""),
		ValkeyDB:        getInt("valkey_db", 0),
		ValkeyKeyPrefix: getString("valkey_key_prefix", "wecombridge:"),

		AccessDBDriver: getString("access_db_driver", "sqlite"),
		AccessDBDSN:    getString("access_db_dsn", "file:storages/access.db?_foreign_keys=on"),

		AgentBaseURL: getString("agent_base_url", "http://localhost:8090"),
		AgentAPIKey:  getString("agent_api_key", ""),
		AgentTimeout: durationMs("agent_timeout_ms", 20000),

		SendEndpoint: getString("send_endpoint", ""),
		SendToken:    getString("send_token", ""),
		SendTimeout:  durationMs("send_timeout_ms", 10000),

		DedupTTL:   durationMs("dedup_ttl_ms", int(dedupDefaultMs)),
		HistoryTTL: durationMs("history_ttl_ms", int(historyDefaultMs)),
		HistoryCap: getInt("history_cap", 40),

		FallbackText:     getString("fallback_text", ""),
		FallbackProvider: getString("fallback_provider", "static"),
		OpenAIAPIKey:     getString("openai_api_key", ""),
		OpenAIModel:      getString("openai_model", "gpt-4o-mini"),
		GeminiAPIKey:     getString("gemini_api_key", ""),
		GeminiModel:      getString("gemini_model", "gemini-2.0-flash"),

		Tunables: domain.Tunables{
			MergeWindowMs:         int64(getInt("merge_window_ms", 2000)),
			MaxMergedMessages:     getInt("max_merged_messages", 5),
			TypingDelayPerCharMs:  int64(getInt("typing_delay_per_char_ms", 60)),
			ParagraphGapMs:        int64(getInt("paragraph_gap_ms", 400)),
			TypingSpeedCharsPerSec: int64(getInt("typing_speed_chars_per_sec", 16)),
			TypingMinDelayMs:      int64(getInt("typing_min_delay_ms", 300)),
			TypingMaxDelayMs:      int64(getInt("typing_max_delay_ms", 4000)),
			TypingRandomVariation: getFloat("typing_random_variation", 0.15),
			WorkerConcurrency:     getInt("worker_concurrency", 5),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig rejects startup configurations that would otherwise
// fail confusingly deep inside a handler, grounded on
// validations/newsletter_validation.go's ValidateStructWithContext use
// of go-ozzo/ozzo-validation.
func validateConfig(cfg *Config) error {
	if err := validation.Validate(cfg.AccessDBDriver, validation.Required, validation.In("sqlite", "postgres")); err != nil {
		return fmt.Errorf("access_db_driver: %w", err)
	}
	if err := validation.Validate(cfg.FallbackProvider, validation.Required, validation.In("static", "openai", "gemini")); err != nil {
		return fmt.Errorf("fallback_provider: %w", err)
	}
	if cfg.FallbackProvider == "openai" {
		if err := validation.Validate(cfg.OpenAIAPIKey, validation.Required); err != nil {
			return fmt.Errorf("openai_api_key: %w", err)
		}
	}
	if cfg.FallbackProvider == "gemini" {
		if err := validation.Validate(cfg.GeminiAPIKey, validation.Required); err != nil {
			return fmt.Errorf("gemini_api_key: %w", err)
		}
	}
	return nil
}

const dedupDefaultMs = 5 * 60 * 1000
const historyDefaultMs = 2 * 60 * 60 * 1000

// bindEnv binds every env var this config reads to a lowercase viper
// key, mirroring cmd/root.go's initEnvConfig BindEnv calls.
func bindEnv() {
	keys := []string{
		"app_port", "server_id", "app_debug",
		"valkey_enabled", "valkey_address", "valkey_password", "valkey_db", "valkey_key_prefix",
		"access_db_driver", "access_db_dsn",
		"agent_base_url", "agent_api_key", "agent_timeout_ms",
		"send_endpoint", "send_token", "send_timeout_ms",
		"dedup_ttl_ms", "history_ttl_ms", "history_cap",
		"fallback_text", "fallback_provider",
		"openai_api_key", "openai_model", "gemini_api_key", "gemini_model",
		"merge_window_ms", "max_merged_messages", "typing_delay_per_char_ms",
		"paragraph_gap_ms", "typing_speed_chars_per_sec", "typing_min_delay_ms",
		"typing_max_delay_ms", "typing_random_variation", "worker_concurrency",
	}
	for _, k := range keys {
		_ = viper.BindEnv(k, strings.ToUpper(k))
	}
}

func getString(key, fallback string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := viper.GetString(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := viper.GetString(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func durationMs(key string, fallbackMs int) time.Duration {
	return time.Duration(getInt(key, fallbackMs)) * time.Millisecond
}
