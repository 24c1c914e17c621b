// Package filter implements the ordered rule chain that decides whether
// an inbound record is processed, rejected, or recorded without a reply.
// Rules run in order and the first match wins, mirroring the
// short-circuiting access-rule chain in
// workspace/application/message_processor.go's IsAccessAllowed.
package filter

import (
	"context"
	"strings"

	"github.com/chatmediator/wecom-bridge/domain"
)

// Verdict is the outcome of running the rule chain against a record.
type Verdict string

const (
	VerdictPass       Verdict = "pass"
	VerdictReject     Verdict = "reject"
	VerdictRecordOnly Verdict = "record_only"
)

// Result is the outcome of Evaluate: a verdict, the reason it was
// reached (for monitoring/logging), and — for a Pass — the extracted
// text content to hand downstream.
type Result struct {
	Verdict          Verdict
	Reason           string
	ExtractedContent string
	IsMentioned      bool
}

// AccessChecker answers the access-control questions the filter needs:
// whether a user has paused the bot, whether a chat group is
// blacklisted, and whether a group id is blocked for records that came in
// through the enterprise webhook variant.
// Implemented by the access package against its cache-backed store.
type AccessChecker interface {
	IsUserPaused(ctx context.Context, senderID string) (bool, error)
	IsGroupBlacklisted(ctx context.Context, chatID string) (bool, error)
	IsEnterpriseGroupBlocked(ctx context.Context, groupID string) (bool, error)
}

// Filter runs the ordered rule chain.
type Filter struct {
	access AccessChecker
}

// New returns a Filter backed by access.
func New(access AccessChecker) *Filter {
	return &Filter{access: access}
}

// Evaluate runs every rule, in spec order, against rec and returns the
// first matching verdict.
func (f *Filter) Evaluate(ctx context.Context, rec domain.InboundRecord) (Result, error) {
	if rec.IsSelf {
		return Result{Verdict: VerdictReject, Reason: "is_self"}, nil
	}
	if rec.Source != domain.SourceMobilePush {
		return Result{Verdict: VerdictReject, Reason: "source_not_mobile_push"}, nil
	}
	if rec.ContactType != domain.ContactPersonalWeChat {
		return Result{Verdict: VerdictReject, Reason: "contact_type_not_personal_wechat"}, nil
	}

	paused, err := f.access.IsUserPaused(ctx, rec.SenderID)
	if err != nil {
		return Result{}, err
	}
	if paused {
		return Result{Verdict: VerdictReject, Reason: "user_paused"}, nil
	}

	blacklisted, err := f.access.IsGroupBlacklisted(ctx, rec.ChatID)
	if err != nil {
		return Result{}, err
	}
	if blacklisted {
		return Result{Verdict: VerdictRecordOnly, Reason: "group_blacklisted"}, nil
	}

	if rec.APIVariant == domain.APIVariantEnterprise && rec.GroupID != "" {
		blocked, err := f.access.IsEnterpriseGroupBlocked(ctx, rec.GroupID)
		if err != nil {
			return Result{}, err
		}
		if blocked {
			return Result{Verdict: VerdictReject, Reason: "enterprise_group_blocked"}, nil
		}
	}

	if rec.IsRoom {
		return Result{Verdict: VerdictReject, Reason: "room_or_group_chat", IsMentioned: isMentioned(rec)}, nil
	}

	if rec.MessageType != domain.MessageTypeText && rec.MessageType != domain.MessageTypeLocation {
		return Result{Verdict: VerdictReject, Reason: "unsupported_message_type"}, nil
	}

	content := extractContent(rec)
	if strings.TrimSpace(content) == "" {
		return Result{Verdict: VerdictReject, Reason: "empty_content"}, nil
	}

	return Result{Verdict: VerdictPass, ExtractedContent: content}, nil
}

// isMentioned is a side channel kept for future room/group support: it
// reports whether rec.Mentioned is non-empty; it does not check which
// identity was mentioned. Room messages are currently always rejected
// above.
func isMentioned(rec domain.InboundRecord) bool {
	return len(rec.Mentioned) > 0
}

// extractContent pulls the text to hand downstream out of rec, applying
// the LOCATION-specific synthesis rule: "[位置分享] <name>（<address>）",
// collapsing to "[位置分享] <address>" when name and address are identical.
func extractContent(rec domain.InboundRecord) string {
	if rec.MessageType == domain.MessageTypeLocation && rec.Location != nil {
		name := strings.TrimSpace(rec.Location.Name)
		address := strings.TrimSpace(rec.Location.Address)
		if name == "" || name == address {
			return "[位置分享] " + address
		}
		return "[位置分享] " + name + "（" + address + "）"
	}
	return rec.Content
}
