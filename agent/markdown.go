package agent

import (
	"regexp"
	"strings"
)

// listItemPattern matches a markdown list item bullet: "-", "*", "•", or
// a numbered "1." / "1)" prefix at the start of a line.
var listItemPattern = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+(.*)$`)

var whitespaceRun = regexp.MustCompile(`[ \t]{2,}`)
var blankLineRun = regexp.MustCompile(`\n{3,}`)

// normalizeMarkdown rewrites a markdown-formatted bullet/numbered list
// into colloquial prose — "有X、Y、Z可以选，…" — and strips emphasis
// markers, since delivered replies are plain chat bubbles, not rendered
// markdown. Non-list text passes through unchanged apart from whitespace
// collapsing.
func normalizeMarkdown(text string) string {
	matches := listItemPattern.FindAllStringSubmatch(text, -1)
	if len(matches) >= 2 {
		items := make([]string, 0, len(matches))
		for _, m := range matches {
			item := strings.TrimSpace(m[1])
			if item != "" {
				items = append(items, item)
			}
		}
		if len(items) >= 2 {
			intro := strings.TrimSpace(listItemPattern.ReplaceAllString(text, ""))
			prose := "有" + strings.Join(items, "、") + "可以选，您看看哪个合适"
			if intro != "" {
				text = intro + "，" + prose
			} else {
				text = prose
			}
		}
	}

	text = strings.ReplaceAll(text, "*", "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
