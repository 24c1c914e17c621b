// Package transport normalizes the two on-the-wire inbound webhook
// shapes into domain.InboundRecord and sends outbound replies through
// the platform's send RPC. Grounded on
// infrastructure/whatsapp/adapter/webhook.go's raw-JSON http.Client
// idiom, generalized from a single outbound webhook shape into a
// detect-then-normalize pair for inbound traffic plus a single-attempt
// outbound sender.
package transport

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/chatmediator/wecom-bridge/domain"
)

// enterpriseSentinelOrgID is synthesized onto group-variant records,
// which never carry an orgId of their own, so OrgID always holds a
// stable, harmless value. The filter's enterprise-group rule keys on
// APIVariant and GroupID, not on OrgID.
const enterpriseSentinelOrgID = "group-variant"

// ErrUnrecognizedShape is returned when neither the enterprise nor the
// group detection rule matches the payload.
var ErrUnrecognizedShape = fmt.Errorf("transport: unrecognized webhook payload shape")

// Normalize detects which on-the-wire shape raw carries and converts it
// to a domain.InboundRecord. Detection rule: top-level orgId+messageType
// means enterprise; data.type+data.messageId means group.
func Normalize(raw map[string]any) (domain.InboundRecord, error) {
	if _, hasOrg := raw["orgId"]; hasOrg {
		if _, hasType := raw["messageType"]; hasType {
			return normalizeEnterprise(raw)
		}
	}
	if data, ok := raw["data"].(map[string]any); ok {
		if _, hasType := data["type"]; hasType {
			if _, hasID := data["messageId"]; hasID {
				return normalizeGroup(data)
			}
		}
	}
	return domain.InboundRecord{}, ErrUnrecognizedShape
}

func normalizeEnterprise(raw map[string]any) (domain.InboundRecord, error) {
	rec := domain.InboundRecord{
		MessageID:   str(raw["messageId"]),
		SenderID:    str(raw["imContactId"]),
		IsSelf:      boolOf(raw["isSelf"]),
		Source:      domain.MessageSource(str(raw["source"])),
		ContactType: domain.ContactType(str(raw["contactType"])),
		GroupID:     str(raw["imRoomId"]),
		OrgID:       str(raw["orgId"]),
		MessageType: domain.MessageType(intOf(raw["messageType"])),
		APIVariant:  domain.APIVariantEnterprise,
		ReceivedAt:  parseTimestamp(raw["timestamp"], true),
		Raw:         raw,
	}
	rec.ChatID = chatIDFor(rec, str(raw["imBotId"]))
	rec.IsRoom = rec.GroupID != ""
	applyPayload(&rec, raw["payload"])
	return rec, nil
}

func normalizeGroup(data map[string]any) (domain.InboundRecord, error) {
	source := domain.SourceMobilePush
	if boolOf(data["isSelf"]) {
		source = domain.SourceOther
	}
	rec := domain.InboundRecord{
		MessageID:   str(data["messageId"]),
		SenderID:    str(data["contactId"]),
		IsSelf:      boolOf(data["isSelf"]),
		Source:      source,
		ContactType: domain.ContactType(str(data["contactType"])),
		GroupID:     str(data["roomId"]),
		OrgID:       enterpriseSentinelOrgID,
		MessageType: domain.MessageType(intOf(data["type"])),
		APIVariant:  domain.APIVariantGroup,
		ReceivedAt:  parseTimestamp(data["timestamp"], false),
		Raw:         data,
	}
	rec.ChatID = chatIDFor(rec, str(data["botWxid"]))
	rec.IsRoom = rec.GroupID != ""
	applyPayload(&rec, data["payload"])
	return rec, nil
}

// chatIDFor derives the canonical per-conversation key: a room id when
// present, otherwise the bot/contact pair so 1:1 conversations are keyed
// independent of which bot identity field each shape used.
func chatIDFor(rec domain.InboundRecord, botID string) string {
	if rec.GroupID != "" {
		return rec.GroupID
	}
	return fmt.Sprintf("%s:%s", botID, rec.SenderID)
}

func applyPayload(rec *domain.InboundRecord, payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}
	switch rec.MessageType {
	case domain.MessageTypeLocation:
		rec.Location = &domain.LocationPayload{
			Name:    str(m["name"]),
			Address: str(m["address"]),
			Lat:     floatOf(m["lat"]),
			Lng:     floatOf(m["lng"]),
		}
	default:
		rec.Content = str(m["text"])
		if rec.Content == "" {
			rec.Content = str(m["content"])
		}
	}
}

func parseTimestamp(v any, asString bool) time.Time {
	if asString {
		s := str(v)
		if s == "" {
			return time.Now().UTC()
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
		return time.Now().UTC()
	}
	ms := int64(floatOf(v))
	if ms == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func boolOf(v any) bool {
	b, _ := v.(bool)
	return b
}

func intOf(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func floatOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
