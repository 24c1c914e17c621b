package agent

import "fmt"

// InvocationError is raised when the Agent HTTP API responds with
// {success:false, error}, and with Code "network" when the call itself
// fails. The API-error form carries masked diagnostics (never the raw
// API key) so it can be attached to an alert without leaking secrets.
type InvocationError struct {
	Code      string
	Message   string
	Retryable bool
	Masked    map[string]string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("agent: invocation failed (%s): %s", e.Code, e.Message)
}

// Kind classifies an InvocationError for alert-level mapping, per the
// error taxonomy's agent-alert-kind table.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindRateLimit      Kind = "rate_limit"
	KindConfig         Kind = "config"
	KindContextMissing Kind = "context_missing"
	KindOther          Kind = "other"
)

// Classify maps an InvocationError's code onto a Kind.
func Classify(err *InvocationError) Kind {
	switch err.Code {
	case "auth", "unauthorized", "forbidden":
		return KindAuth
	case "rate_limit", "too_many_requests":
		return KindRateLimit
	case "config", "invalid_scenario", "invalid_context":
		return KindConfig
	case "context_missing":
		return KindContextMissing
	default:
		return KindOther
	}
}

// ConfigError signals that scenario/context validation failed before any
// HTTP call was made — a required field was missing or the context
// schema didn't validate.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "agent: config error: " + e.Reason
}
