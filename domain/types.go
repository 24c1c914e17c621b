// Package domain holds the plain data types shared across the mediation
// pipeline: inbound records, history entries, conversation buffers, dedup
// markers, agent request/reply shapes, and monitoring events.
package domain

import "time"

// MessageSource identifies where an inbound message originated.
type MessageSource string

const (
	SourceMobilePush MessageSource = "MOBILE_PUSH"
	SourceOther      MessageSource = "OTHER"
)

// ContactType narrows the contact the message came from.
type ContactType string

const (
	ContactPersonalWeChat ContactType = "PERSONAL_WECHAT"
	ContactEnterprise     ContactType = "ENTERPRISE"
	ContactOther          ContactType = "OTHER"
)

// MessageType enumerates the wire payload types a message can carry.
// Only Text and Location are consumed downstream of the filter; the rest
// exist so normalization can classify and reject them uniformly.
type MessageType int

const (
	MessageTypeFile         MessageType = 1
	MessageTypeVoice        MessageType = 2
	MessageTypeContactCard  MessageType = 3
	MessageTypeEmotion      MessageType = 5
	MessageTypeImage        MessageType = 6
	MessageTypeText         MessageType = 7
	MessageTypeLocation     MessageType = 8
	MessageTypeMiniProgram  MessageType = 9
	MessageTypeLink         MessageType = 12
	MessageTypeVideo        MessageType = 13
	MessageTypeChannels     MessageType = 14
	MessageTypeWecomSystem  MessageType = 10001
)

// APIVariant identifies which on-the-wire webhook shape produced a
// record (§3/§6): enterprise and group normalize different field names
// and carry different outbound-send contracts, so this is a first-class
// discriminator, not incidental metadata.
type APIVariant string

const (
	APIVariantEnterprise APIVariant = "enterprise"
	APIVariantGroup      APIVariant = "group"
)

// InboundRecord is the normalized shape of a single inbound message,
// independent of which webhook shape (enterprise or group) produced it.
type InboundRecord struct {
	MessageID   string            `json:"message_id"`
	ChatID      string            `json:"chat_id"`
	SenderID    string            `json:"sender_id"`
	IsSelf      bool              `json:"is_self"`
	Source      MessageSource     `json:"source"`
	ContactType ContactType       `json:"contact_type"`
	APIVariant  APIVariant        `json:"api_variant"`
	IsRoom      bool              `json:"is_room"`
	GroupID     string            `json:"group_id,omitempty"`
	OrgID       string            `json:"org_id,omitempty"`
	MessageType MessageType       `json:"message_type"`
	Content     string            `json:"content"`
	Location    *LocationPayload  `json:"location,omitempty"`
	Mentioned   []string          `json:"mentioned,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
	Raw         map[string]any    `json:"raw,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// LocationPayload carries the structured fields of a LOCATION message.
type LocationPayload struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// HistoryRole distinguishes who authored a history entry.
type HistoryRole string

const (
	RoleUser      HistoryRole = "user"
	RoleAssistant HistoryRole = "assistant"
)

// HistoryEntry is a single turn persisted to a conversation's history list.
type HistoryEntry struct {
	MessageID string            `json:"message_id"`
	Role      HistoryRole       `json:"role"`
	Content   string            `json:"content"`
	Meta      map[string]string `json:"meta,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ConversationBuffer is the durable state of a conversation's in-flight
// burst-aggregation window: every record accumulated since the last drain.
type ConversationBuffer struct {
	ChatID  string          `json:"chat_id"`
	Records []InboundRecord `json:"records"`
}

// DedupMarker is the at-most-once marker persisted for a processed message.
type DedupMarker struct {
	MessageID   string    `json:"message_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ScenarioID names a configured agent scenario profile.
type ScenarioID string

const (
	ScenarioCandidateConsultation ScenarioID = "CANDIDATE_CONSULTATION"
)

// AgentRequest is what the pipeline asks the agent gateway to answer.
type AgentRequest struct {
	ConversationID string         `json:"conversation_id"`
	UserMessage    string         `json:"user_message"`
	History        []HistoryEntry `json:"history"`
	Scenario       ScenarioID     `json:"scenario"`
	MessageID      string         `json:"message_id"`
}

// AgentUsage mirrors the token usage accounting returned by the agent API.
type AgentUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// AgentReply is the normalized result of an agent invocation.
type AgentReply struct {
	ReplyText        string         `json:"reply_text"`
	Usage            AgentUsage     `json:"usage"`
	ToolsUsed        []string       `json:"tools_used"`
	IsFallback       bool           `json:"is_fallback"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Raw              map[string]any `json:"raw,omitempty"`
}

// MonitoringStage enumerates the lifecycle stages a MonitoringEvent reports.
type MonitoringStage string

const (
	StageReceived  MonitoringStage = "received"
	StageFiltered  MonitoringStage = "filtered"
	StageAIStart   MonitoringStage = "ai_start"
	StageAIEnd     MonitoringStage = "ai_end"
	StageSendStart MonitoringStage = "send_start"
	StageSendEnd   MonitoringStage = "send_end"
	StageSuccess   MonitoringStage = "success"
	StageFailure   MonitoringStage = "failure"
)

// AlertLevel classifies the severity attached to a failure event.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// AlertKind classifies which subsystem raised a failure.
type AlertKind string

const (
	AlertKindAgent     AlertKind = "agent"
	AlertKindDelivery  AlertKind = "delivery"
	AlertKindMessage   AlertKind = "message"
)

// MonitoringEvent is a single fire-and-forget lifecycle observation.
type MonitoringEvent struct {
	EventID    string            `json:"event_id"`
	Timestamp  time.Time         `json:"timestamp"`
	ServerID   string            `json:"server_id"`
	ChatID     string            `json:"chat_id"`
	MessageID  string            `json:"message_id"`
	Stage      MonitoringStage   `json:"stage"`
	IsPrimary  bool              `json:"is_primary,omitempty"`
	AlertKind  AlertKind         `json:"alert_kind,omitempty"`
	AlertLevel AlertLevel        `json:"alert_level,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Tunables collects the hot-reloadable knobs named by the configuration
// surface: burst aggregation, delivery pacing, and worker concurrency.
type Tunables struct {
	MergeWindowMs          int64 `json:"merge_window_ms"`
	MaxMergedMessages       int   `json:"max_merged_messages"`
	TypingDelayPerCharMs    int64 `json:"typing_delay_per_char_ms"`
	ParagraphGapMs          int64 `json:"paragraph_gap_ms"`
	TypingSpeedCharsPerSec  int64 `json:"typing_speed_chars_per_sec"`
	TypingMinDelayMs        int64 `json:"typing_min_delay_ms"`
	TypingMaxDelayMs        int64 `json:"typing_max_delay_ms"`
	TypingRandomVariation   float64 `json:"typing_random_variation"`
	WorkerConcurrency       int   `json:"worker_concurrency"`
}

// DefaultTunables matches the defaults named in the external interface
// contract for the hot-reloadable settings (merge window 2s, burst cap 5,
// pacer knobs, worker concurrency); fixed settings such as the dedup TTL
// live in config.Config instead.
func DefaultTunables() Tunables {
	return Tunables{
		MergeWindowMs:          2000,
		MaxMergedMessages:       5,
		TypingDelayPerCharMs:    60,
		ParagraphGapMs:          400,
		TypingSpeedCharsPerSec:  16,
		TypingMinDelayMs:        300,
		TypingMaxDelayMs:        4000,
		TypingRandomVariation:   0.15,
		WorkerConcurrency:       5,
	}
}
