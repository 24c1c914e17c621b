// Package pacer implements the delivery pacer (spec Component H):
// segmenting a reply into chat-bubble-sized pieces and sending them with
// humanized, config-driven delays between them. Grounded on
// botengine/infrastructure/humanizer.go's SplitIntoBubbles and sleep/
// typing-delay idioms, adapted to a fixed rule order and a tunables-
// driven (rather than typing-profile-driven) delay formula.
package pacer

import (
	"context"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chatmediator/wecom-bridge/domain"
)

// Sender delivers one already-segmented piece of text to a conversation.
// apiVariant selects which wire shape the outbound send RPC uses (§6);
// it is the same api_variant the inbound record carried. Implemented by
// the transport package's outbound send RPC client.
type Sender interface {
	Send(ctx context.Context, chatID, segment string, apiVariant domain.APIVariant) error
}

// TunablesFunc is read once per Deliver call so config hot-reloads apply
// without requiring a new Pacer.
type TunablesFunc func() domain.Tunables

// Pacer sequences segmentation and paced sending.
type Pacer struct {
	sender   Sender
	tunables TunablesFunc
	monitor  func(e domain.MonitoringEvent)
	rng      *rand.Rand
}

// New returns a Pacer.
func New(sender Sender, tunables TunablesFunc, monitor func(domain.MonitoringEvent)) *Pacer {
	return &Pacer{sender: sender, tunables: tunables, monitor: monitor, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Result is what Deliver reports back to the caller.
type Result struct {
	Success       bool
	SegmentCount  int
	FailedSegments int
	TotalTimeMs   int64
}

var chineseChar = `\p{Han}`

var blankLineSplit = regexp.MustCompile(`\n{2,}`)
var questionOrPeriodSplit = regexp.MustCompile(`([？。])(` + chineseChar + `)`)
var emojiSplit = regexp.MustCompile(`(\p{So}|\p{Sk})(` + chineseChar + `)`)

// Segment strips every "*" from text and then splits it into
// delivery-sized pieces in this order: blank-line boundaries first, then
// the "～" separator (dropped entirely), then "？"/"。" immediately
// followed by a Chinese character (the punctuation stays with the
// preceding piece), then an emoji immediately followed by a Chinese
// character (the emoji stays with the preceding piece). If none of this
// split anything, the whole text stays one segment.
func Segment(text string) []string {
	original := text
	text = strings.ReplaceAll(text, "*", "")

	var pieces []string
	for _, block := range blankLineSplit.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		pieces = append(pieces, block)
	}
	if len(pieces) == 0 {
		pieces = []string{strings.TrimSpace(text)}
	}

	pieces = splitOnAll(pieces, "～", func(s string) []string {
		parts := strings.Split(s, "～")
		return parts
	})

	pieces = splitOnAll(pieces, "", func(s string) []string {
		return splitKeepLeft(s, questionOrPeriodSplit)
	})

	pieces = splitOnAll(pieces, "", func(s string) []string {
		return splitKeepLeft(s, emojiSplit)
	})

	var out []string
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(original)}
	}
	if len(out) == 1 {
		return out
	}
	return out
}

// splitOnAll applies split to every existing piece and flattens the result.
func splitOnAll(pieces []string, _ string, split func(string) []string) []string {
	var out []string
	for _, p := range pieces {
		out = append(out, split(p)...)
	}
	return out
}

// splitKeepLeft splits s at every match of pattern (which must have two
// capture groups: the boundary character and the char after it), keeping
// the boundary character attached to the preceding segment.
func splitKeepLeft(s string, pattern *regexp.Regexp) []string {
	locs := pattern.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return []string{s}
	}
	var out []string
	prev := 0
	for _, loc := range locs {
		// loc[0]:loc[1] is the full match; loc[2]:loc[3] the boundary char;
		// the split point is right after the boundary char, before the
		// following rune that triggered the match.
		splitAt := loc[3]
		out = append(out, s[prev:splitAt])
		prev = splitAt
	}
	out = append(out, s[prev:])
	return out
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// delayFor computes the pacing delay before sending segment at index i
// (0 for the first segment), per the tunables-driven formula:
// len(segment)×typing_delay_per_char_ms + paragraph_gap_ms, clamped to
// [typing_min_delay_ms, typing_max_delay_ms], with optional jitter.
func (p *Pacer) delayFor(i int, segment string, t domain.Tunables) time.Duration {
	if i == 0 {
		return 0
	}
	raw := int64(len([]rune(segment)))*t.TypingDelayPerCharMs + t.ParagraphGapMs
	clamped := clamp(raw, t.TypingMinDelayMs, t.TypingMaxDelayMs)
	if t.TypingRandomVariation > 0 {
		jitter := 1 + (p.rng.Float64()*2-1)*t.TypingRandomVariation
		clamped = int64(float64(clamped) * jitter)
	}
	return time.Duration(clamped) * time.Millisecond
}

// Deliver segments replyText and sends each piece to chatID with paced
// delays. When recordMonitoring is true and the Pacer has a monitor func,
// a send_start and a send_end event are recorded around each segment's
// send. A segment send failure is logged and counted but does not
// abort the remaining segments; Result.Success is false if any segment
// failed.
func (p *Pacer) Deliver(ctx context.Context, chatID, messageID, replyText string, apiVariant domain.APIVariant, recordMonitoring bool) Result {
	start := time.Now()
	segments := Segment(replyText)
	t := p.tunables()

	result := Result{SegmentCount: len(segments)}

	for i, seg := range segments {
		delay := p.delayFor(i, seg, t)
		if delay > 0 {
			select {
			case <-ctx.Done():
				result.FailedSegments += len(segments) - i
				result.Success = false
				result.TotalTimeMs = time.Since(start).Milliseconds()
				return result
			case <-time.After(delay):
			}
		}

		if recordMonitoring && p.monitor != nil {
			p.monitor(domain.MonitoringEvent{ChatID: chatID, MessageID: messageID, Stage: domain.StageSendStart})
		}

		err := p.sender.Send(ctx, chatID, seg, apiVariant)

		if recordMonitoring && p.monitor != nil {
			status := "ok"
			reason := ""
			if err != nil {
				status = "error"
				reason = err.Error()
			}
			p.monitor(domain.MonitoringEvent{ChatID: chatID, MessageID: messageID, Stage: domain.StageSendEnd, Metadata: map[string]string{"status": status}, Reason: reason})
		}

		if err != nil {
			logrus.Warnf("[Pacer] segment %d/%d failed for %s: %v", i+1, len(segments), chatID, err)
			result.FailedSegments++
		}
	}

	result.Success = result.FailedSegments == 0
	result.TotalTimeMs = time.Since(start).Milliseconds()
	return result
}
