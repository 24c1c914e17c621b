// Package pipeline wires the inbound webhook half (filter, dedup
// pre-check, history, handoff to the burst aggregator) and the worker
// half (agent invocation, paced delivery, mark_processed, alerting) of
// Component I. Grounded on workspace/application/message_processor.go's
// end-to-end ProcessIncomingMessage shape, generalized from its
// single-pass handling into the split inbound/drain-worker halves this
// system's durable aggregation requires.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chatmediator/wecom-bridge/agent"
	"github.com/chatmediator/wecom-bridge/aggregator"
	"github.com/chatmediator/wecom-bridge/dedup"
	"github.com/chatmediator/wecom-bridge/domain"
	"github.com/chatmediator/wecom-bridge/filter"
	"github.com/chatmediator/wecom-bridge/history"
	"github.com/chatmediator/wecom-bridge/monitor"
	"github.com/chatmediator/wecom-bridge/pacer"
)

// Pipeline is the Component I orchestrator.
type Pipeline struct {
	dedup      *dedup.Store
	history    *history.Store
	filter     *filter.Filter
	aggregator *aggregator.Aggregator
	agent      *agent.Gateway
	pacer      *pacer.Pacer
	fallback   agent.FallbackProvider
	monitor    monitor.Recorder
	scenario   domain.ScenarioID
}

// New wires a Pipeline from its collaborators. scenario selects the
// agent profile used for every invocation this pipeline drains. fallback
// supplies the text delivered when an exception path (agent failure or
// total delivery failure) must still give the user something.
func New(d *dedup.Store, h *history.Store, f *filter.Filter, a *aggregator.Aggregator, ag *agent.Gateway, p *pacer.Pacer, fallback agent.FallbackProvider, m monitor.Recorder, scenario domain.ScenarioID) *Pipeline {
	return &Pipeline{dedup: d, history: h, filter: f, aggregator: a, agent: ag, pacer: p, fallback: fallback, monitor: m, scenario: scenario}
}

// InboundOutcome classifies how HandleInbound disposed of a record, so
// the webhook handler can answer the caller with the spec's literal
// per-outcome message (S2's "Duplicate message ignored", S6's "Message
// recorded to history only") instead of a single blanket "accepted".
type InboundOutcome string

const (
	OutcomeAccepted   InboundOutcome = "accepted"
	OutcomeSelfEcho   InboundOutcome = "self_echo"
	OutcomeRejected   InboundOutcome = "rejected"
	OutcomeRecordOnly InboundOutcome = "record_only"
	OutcomeDuplicate  InboundOutcome = "duplicate"
)

// HandleInbound is the webhook handler's entry point. It normalizes
// nothing itself (that's the transport layer's job) — rec arrives
// already normalized. An own-message echo is filed into history and
// answered with no further work; everything else runs the filter chain
// and, on a pass, is deduped, logged to history, and handed to the
// burst aggregator. The caller should return HTTP 200 as soon as this
// returns, regardless of outcome — rejection and record-only are not
// webhook errors.
func (p *Pipeline) HandleInbound(ctx context.Context, rec domain.InboundRecord) (InboundOutcome, error) {
	if rec.IsSelf {
		err := p.history.Append(ctx, rec.ChatID, domain.HistoryEntry{
			MessageID: rec.MessageID,
			Role:      domain.RoleAssistant,
			Content:   rec.Content,
			Timestamp: rec.ReceivedAt,
		})
		return OutcomeSelfEcho, err
	}

	result, err := p.filter.Evaluate(ctx, rec)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("pipeline: filter: %w", err)
	}

	switch result.Verdict {
	case filter.VerdictReject:
		p.record(domain.MonitoringEvent{ChatID: rec.ChatID, MessageID: rec.MessageID, Stage: domain.StageFiltered, Reason: result.Reason})
		return OutcomeRejected, nil
	case filter.VerdictRecordOnly:
		p.record(domain.MonitoringEvent{ChatID: rec.ChatID, MessageID: rec.MessageID, Stage: domain.StageFiltered, Reason: result.Reason})
		err := p.history.Append(ctx, rec.ChatID, domain.HistoryEntry{
			MessageID: rec.MessageID,
			Role:      domain.RoleUser,
			Content:   result.ExtractedContent,
			Timestamp: rec.ReceivedAt,
		})
		return OutcomeRecordOnly, err
	}

	// Advisory pre-check only: a miss here never blocks correctness,
	// MarkProcessed's atomicity at the end of the worker side does that.
	if already, err := p.dedup.IsProcessed(ctx, rec.MessageID); err != nil {
		logrus.Warnf("[Pipeline] dedup pre-check failed for %s: %v", rec.MessageID, err)
	} else if already {
		return OutcomeDuplicate, nil
	}

	rec.Content = result.ExtractedContent
	if err := p.history.Append(ctx, rec.ChatID, domain.HistoryEntry{
		MessageID: rec.MessageID,
		Role:      domain.RoleUser,
		Content:   rec.Content,
		Timestamp: rec.ReceivedAt,
	}); err != nil {
		return OutcomeAccepted, fmt.Errorf("pipeline: history append: %w", err)
	}

	p.record(domain.MonitoringEvent{ChatID: rec.ChatID, MessageID: rec.MessageID, Stage: domain.StageReceived})

	return OutcomeAccepted, p.aggregator.Add(ctx, rec)
}

// Process is the aggregator.ProcessFunc run once per drained batch. Once
// the aggregator has atomically drained a batch, re-running this job
// (via the queue's own retry/backoff) cannot recover it — the pending
// list is already empty — so every failure path here is handled inline
// (alert + best-effort fallback delivery) rather than by propagating an
// error for the queue to retry. Only a read that happens before any of
// that — the history lookup — is returned to the caller, purely so a
// transient KV blip is visible in the queue's own retry/DLQ accounting.
func (p *Pipeline) Process(ctx context.Context, chatID string, batch []domain.InboundRecord) error {
	if len(batch) == 0 {
		return nil
	}
	last := batch[len(batch)-1]

	// Every earlier message in the batch was already appended to history
	// at ingress (HandleInbound), and GetForContext excludes only the
	// last one — so the Agent's user turn is the last message's content
	// alone; the earlier turns arrive through ctxHistory instead.
	userMessage := last.Content

	ctxHistory, err := p.history.GetForContext(ctx, chatID, last.MessageID)
	if err != nil {
		return fmt.Errorf("pipeline: load history: %w", err)
	}

	reply, err := p.agent.Invoke(ctx, domain.AgentRequest{
		ConversationID: chatID,
		UserMessage:    userMessage,
		History:        ctxHistory,
		Scenario:       p.scenario,
		MessageID:      last.MessageID,
	})
	if err != nil {
		p.handleException(ctx, chatID, batch, last, domain.AlertKindAgent, classifyAgentError(err))
		return nil
	}

	if reply.IsFallback {
		p.record(domain.MonitoringEvent{
			ChatID: chatID, MessageID: last.MessageID, Stage: domain.StageFailure,
			AlertKind: domain.AlertKindAgent, AlertLevel: domain.AlertError, Reason: "agent_fallback",
		})
	}

	if err := p.history.Append(ctx, chatID, domain.HistoryEntry{
		MessageID: last.MessageID,
		Role:      domain.RoleAssistant,
		Content:   reply.ReplyText,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		logrus.Warnf("[Pipeline] failed to record assistant reply in history for %s: %v", chatID, err)
	}

	delivery := p.pacer.Deliver(ctx, chatID, last.MessageID, reply.ReplyText, last.APIVariant, true)

	switch {
	case delivery.Success:
		p.markBatchProcessed(ctx, batch, last.MessageID, reply, delivery)
	case delivery.FailedSegments < delivery.SegmentCount:
		p.record(domain.MonitoringEvent{
			ChatID: chatID, MessageID: last.MessageID, Stage: domain.StageFailure,
			AlertKind: domain.AlertKindDelivery, AlertLevel: domain.AlertWarning,
			Reason: fmt.Sprintf("%d/%d segments failed", delivery.FailedSegments, delivery.SegmentCount),
		})
		p.markBatchProcessed(ctx, batch, last.MessageID, reply, delivery)
	default:
		p.handleException(ctx, chatID, batch, last, domain.AlertKindDelivery, domain.AlertError)
	}

	return nil
}

// classifyAgentError maps an agent invocation error onto an alert level
// per the failure-classification table: auth/config errors need human
// action (Error), rate limiting self-recovers (Warning), a missing
// context field is a config gap worth flagging but not urgent (Warning),
// anything else unclassified is treated as Error.
func classifyAgentError(err error) domain.AlertLevel {
	invErr, ok := err.(*agent.InvocationError)
	if !ok {
		return domain.AlertError
	}
	switch agent.Classify(invErr) {
	case agent.KindRateLimit, agent.KindContextMissing:
		return domain.AlertWarning
	default:
		return domain.AlertError
	}
}

// handleException implements step 8 of the worker algorithm: emit a
// failure event for every message in the batch, then attempt to deliver
// the fallback text so the user isn't left with silence. If that
// fallback delivery itself fails completely, escalate to Critical — the
// user received nothing at all.
func (p *Pipeline) handleException(ctx context.Context, chatID string, batch []domain.InboundRecord, last domain.InboundRecord, kind domain.AlertKind, level domain.AlertLevel) {
	for _, r := range batch {
		p.record(domain.MonitoringEvent{
			ChatID: r.ChatID, MessageID: r.MessageID, Stage: domain.StageFailure,
			AlertKind: kind, AlertLevel: level, IsPrimary: r.MessageID == last.MessageID,
		})
	}

	fallbackText := p.fallback.FallbackText(ctx)
	delivery := p.pacer.Deliver(ctx, chatID, last.MessageID, fallbackText, last.APIVariant, true)
	if delivery.SegmentCount > 0 && delivery.FailedSegments == delivery.SegmentCount {
		p.record(domain.MonitoringEvent{
			ChatID: chatID, MessageID: last.MessageID, Stage: domain.StageFailure,
			AlertKind: domain.AlertKindDelivery, AlertLevel: domain.AlertCritical,
			Reason: "fallback delivery also failed; user received nothing",
		})
	}
}

// markBatchProcessed claims every message in batch in the dedup store
// and emits a success event per message carrying the shared outcome
// metadata (reply preview, tools used, token usage, segment count,
// fallback flag, raw payload), flagging only primaryMessageID (the
// batch's last message) as is_primary.
func (p *Pipeline) markBatchProcessed(ctx context.Context, batch []domain.InboundRecord, primaryMessageID string, reply domain.AgentReply, delivery pacer.Result) {
	preview := []rune(reply.ReplyText)
	if len(preview) > 80 {
		preview = append(preview[:80], '…')
	}
	rawJSON, _ := json.Marshal(reply.Raw)

	meta := map[string]string{
		"reply_preview": string(preview),
		"tools_used":    strings.Join(reply.ToolsUsed, ","),
		"input_tokens":  strconv.Itoa(reply.Usage.InputTokens),
		"output_tokens": strconv.Itoa(reply.Usage.OutputTokens),
		"total_tokens":  strconv.Itoa(reply.Usage.TotalTokens),
		"segment_count": strconv.Itoa(delivery.SegmentCount),
		"is_fallback":   strconv.FormatBool(reply.IsFallback),
		"raw_payload":   string(rawJSON),
	}

	for _, r := range batch {
		if _, err := p.dedup.MarkProcessed(ctx, r.MessageID); err != nil {
			logrus.Warnf("[Pipeline] mark_processed failed for %s: %v", r.MessageID, err)
		}
		p.record(domain.MonitoringEvent{
			ChatID: r.ChatID, MessageID: r.MessageID, Stage: domain.StageSuccess,
			IsPrimary: r.MessageID == primaryMessageID, Metadata: meta,
		})
	}
}

func (p *Pipeline) record(e domain.MonitoringEvent) {
	if p.monitor != nil {
		p.monitor.Record(e)
	}
}
