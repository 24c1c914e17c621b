// Gateway orchestrates a single Agent invocation: load the scenario
// profile, build merged context (with last-known-good brand-config
// fallback), inject current time into the system prompt, call the
// client, and normalize the reply. Grounded on
// integrations/gemini/gemini.go's stage-by-stage shape (build context →
// inject time → call → extract reply → monitor) and
// botengine/providers/openai_provider.go's usage-extraction style.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatmediator/wecom-bridge/domain"
)

// timeLayout is the date-and-time part ("YYYY-MM-DD HH:MM") of the
// substituted current time; currentTimeString appends " 星期X" and
// renders it in Asia/Shanghai.
const timeLayout = "2006-01-02 15:04"

var weekdayNames = [...]string{"日", "一", "二", "三", "四", "五", "六"}

func currentTimeString(now time.Time) string {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*60*60)
	}
	t := now.In(loc)
	return fmt.Sprintf("%s 星期%s", t.Format(timeLayout), weekdayNames[int(t.Weekday())])
}

// Profile describes one configured scenario: the fields its context
// must carry and the system prompt template to fill in.
type Profile struct {
	ID                   domain.ScenarioID
	RequiredContextFields []string
	SystemPromptTemplate  string
	PromptType            string
}

// candidateConsultationProfile is the only scenario currently configured.
var candidateConsultationProfile = Profile{
	ID:                   domain.ScenarioCandidateConsultation,
	RequiredContextFields: []string{"brand_name", "position"},
	SystemPromptTemplate: "You are assisting a candidate inquiry. Current time: " +
		"{{CURRENT_TIME}}. Use the provided brand and position context to answer naturally.",
	PromptType: "candidate_consultation",
}

// BrandConfigProvider supplies the live {config_data, reply_prompts}
// context for a conversation. A nil or empty map signals "no live data
// right now" and triggers the gateway's last-known-good fallback.
type BrandConfigProvider interface {
	GetContext(ctx context.Context, conversationID string) (map[string]any, error)
}

// FallbackProvider supplies a reply when the agent itself reports
// fallback mode. When no usable reply can be extracted the gateway
// returns an error instead of using it.
type FallbackProvider interface {
	FallbackText(ctx context.Context) string
}

// MonitorRecorder is the narrow subset of monitor.Recorder the gateway
// needs, kept local to avoid an import cycle with the monitor package.
type MonitorRecorder interface {
	Record(e domain.MonitoringEvent)
}

// Gateway is the Component G implementation.
type Gateway struct {
	client      *Client
	brandConfig BrandConfigProvider
	fallback    FallbackProvider
	monitor     MonitorRecorder
	serverID    string

	mu            sync.Mutex
	lastKnownGood map[string]map[string]any
}

// NewGateway wires a Gateway from its collaborators.
func NewGateway(client *Client, brandConfig BrandConfigProvider, fallback FallbackProvider, monitor MonitorRecorder) *Gateway {
	return &Gateway{
		client:        client,
		brandConfig:   brandConfig,
		fallback:      fallback,
		monitor:       monitor,
		lastKnownGood: make(map[string]map[string]any),
	}
}

func profileFor(scenario domain.ScenarioID) (Profile, bool) {
	if scenario == domain.ScenarioCandidateConsultation {
		return candidateConsultationProfile, true
	}
	return Profile{}, false
}

// Invoke runs one end-to-end agent call for req.
func (g *Gateway) Invoke(ctx context.Context, req domain.AgentRequest) (domain.AgentReply, error) {
	profile, ok := profileFor(req.Scenario)
	if !ok {
		return domain.AgentReply{}, &ConfigError{Reason: fmt.Sprintf("unknown scenario %q", req.Scenario)}
	}

	mergedContext, synced := g.buildContext(ctx, req.ConversationID)
	for _, field := range profile.RequiredContextFields {
		if _, present := mergedContext[field]; !present {
			return domain.AgentReply{}, &ConfigError{Reason: fmt.Sprintf("missing required context field %q", field)}
		}
	}
	mergedContext["synced"] = synced

	systemPrompt := strings.ReplaceAll(profile.SystemPromptTemplate, "{{CURRENT_TIME}}", currentTimeString(time.Now()))

	messages := make([]SimpleMessage, 0, len(req.History))
	for _, h := range req.History {
		messages = append(messages, SimpleMessage{Role: string(h.Role), Content: h.Content})
	}

	start := time.Now()
	g.emit(domain.StageAIStart, req, 0, "", "")

	apiResp, callErr := g.client.Invoke(ctx, Request{
		ConversationID: req.ConversationID,
		UserMessage:    req.UserMessage,
		Messages:       messages,
		SystemPrompt:   systemPrompt,
		PromptType:     profile.PromptType,
		Context:        mergedContext,
	})

	duration := time.Since(start).Milliseconds()

	if callErr != nil {
		g.emit(domain.StageAIEnd, req, duration, "error", callErr.Error())
		return domain.AgentReply{}, &InvocationError{Code: "network", Message: callErr.Error(), Retryable: true}
	}

	if !apiResp.Success {
		reason := "unknown"
		code := "other"
		retryable := false
		if apiResp.Error != nil {
			reason, code, retryable = apiResp.Error.Message, apiResp.Error.Code, apiResp.Error.Retryable
		}
		g.emit(domain.StageAIEnd, req, duration, "error", reason)
		return domain.AgentReply{}, &InvocationError{
			Code: code, Message: reason, Retryable: retryable,
			Masked: map[string]string{"api_key": g.client.MaskAPIKey()},
		}
	}

	if apiResp.Data != nil && apiResp.Data.FallbackInfo != nil && apiResp.Data.FallbackInfo.Triggered {
		g.emit(domain.StageAIEnd, req, duration, "fallback", apiResp.Data.FallbackInfo.Reason)
		return domain.AgentReply{
			ReplyText:        g.fallback.FallbackText(ctx),
			IsFallback:       true,
			ProcessingTimeMs: duration,
		}, nil
	}

	replyText, tools, usage, err := extractReply(apiResp.Data)
	if err != nil {
		g.emit(domain.StageAIEnd, req, duration, "error", err.Error())
		return domain.AgentReply{}, err
	}

	g.emit(domain.StageAIEnd, req, duration, "ok", "")

	return domain.AgentReply{
		ReplyText:        normalizeMarkdown(replyText),
		Usage:            domain.AgentUsage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens, TotalTokens: usage.TotalTokens},
		ToolsUsed:        tools,
		IsFallback:       false,
		ProcessingTimeMs: duration,
	}, nil
}

func (g *Gateway) emit(stage domain.MonitoringStage, req domain.AgentRequest, durationMs int64, status, reason string) {
	if g.monitor == nil {
		return
	}
	g.monitor.Record(domain.MonitoringEvent{
		ChatID:     req.ConversationID,
		MessageID:  req.MessageID,
		Stage:      stage,
		DurationMs: durationMs,
		Reason:     reason,
		Metadata:   map[string]string{"status": status},
	})
}

// buildContext merges base context with brand-config data, falling back
// to the last successfully fetched config for this conversation when the
// live fetch is empty or errors, and flags synced=false whenever that
// fallback (or an empty default) had to be used.
func (g *Gateway) buildContext(ctx context.Context, conversationID string) (map[string]any, bool) {
	live, err := g.brandConfig.GetContext(ctx, conversationID)
	if err == nil && len(live) > 0 {
		g.mu.Lock()
		g.lastKnownGood[conversationID] = copyContext(live)
		g.mu.Unlock()
		return copyContext(live), true
	}

	g.mu.Lock()
	cached, ok := g.lastKnownGood[conversationID]
	g.mu.Unlock()
	if ok {
		return copyContext(cached), false
	}
	return map[string]any{}, false
}

func copyContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// extractReply concatenates the text parts of the last assistant message
// with a blank line between them, per the reply-extraction rule, and
// returns an error if the result is empty.
func extractReply(resp *ChatResponse) (string, []string, Usage, error) {
	if resp == nil {
		return "", nil, Usage{}, fmt.Errorf("agent: empty response data")
	}
	var lastAssistant *ResponseMessage
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		if resp.Messages[i].Role == "assistant" {
			lastAssistant = &resp.Messages[i]
			break
		}
	}
	if lastAssistant == nil {
		return "", nil, resp.Usage, fmt.Errorf("agent: no assistant message in response")
	}
	var parts []string
	for _, p := range lastAssistant.Parts {
		if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
			parts = append(parts, p.Text)
		}
	}
	text := strings.Join(parts, "\n\n")
	if strings.TrimSpace(text) == "" {
		return "", nil, resp.Usage, fmt.Errorf("agent: assistant message had no text content")
	}
	return text, resp.Tools.Used, resp.Usage, nil
}
