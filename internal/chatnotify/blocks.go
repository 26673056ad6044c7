// Package chatnotify builds and delivers the chat-provider notification
// for a pull request whose summary became ready or whose risk warrants
// a heads-up.
package chatnotify

import (
	"fmt"
	"strings"

	"github.com/prsentry/prsentry/internal/queue"
)

// Message is the chat-provider "blocks" payload plus a plain-text
// fallback. Blocks is []any because block-kit elements have different
// shapes (header/section/context text objects vs. action buttons).
type Message struct {
	Text   string `json:"text"`
	Blocks []any  `json:"blocks"`
}

type textObj struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type button struct {
	Type string  `json:"type"`
	Text textObj `json:"text"`
	URL  string  `json:"url"`
}

// riskEmoji returns the threshold emoji for a risk score: red >= 70,
// yellow >= 40, green otherwise.
func riskEmoji(score int) string {
	switch {
	case score >= 70:
		return "🔴"
	case score >= 40:
		return "🟡"
	default:
		return "🟢"
	}
}

// BuildMessage renders a pr-notify-chat payload into the chat
// provider's blocks format: header, context, divider, risk-score
// section, TL;DR section, labels context, action buttons.
func BuildMessage(p queue.PRNotifyChatPayload) Message {
	flags := "none"
	if len(p.MainRiskFlags) > 0 {
		flags = strings.Join(p.MainRiskFlags, ", ")
	}

	blocks := []any{
		map[string]any{
			"type": "header",
			"text": textObj{Type: "plain_text", Text: fmt.Sprintf("PR #%d · %s", p.Number, p.Title)},
		},
		map[string]any{
			"type":     "context",
			"elements": []textObj{{Type: "mrkdwn", Text: fmt.Sprintf("%s · opened by %s", p.RepoFullName, p.Author)}},
		},
		map[string]any{"type": "divider"},
		map[string]any{
			"type": "section",
			"text": textObj{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Risk Score:* %s %d/100\n*Risk Flags:* %s", riskEmoji(p.RiskScore), p.RiskScore, flags),
			},
		},
		map[string]any{
			"type": "section",
			"text": textObj{Type: "mrkdwn", Text: p.TLDR},
		},
	}

	if len(p.SystemLabels) > 0 {
		blocks = append(blocks, map[string]any{
			"type":     "context",
			"elements": []textObj{{Type: "mrkdwn", Text: "Labels: " + strings.Join(p.SystemLabels, ", ")}},
		})
	}

	buttons := []button{{Type: "button", Text: textObj{Type: "plain_text", Text: "View on GitHub"}, URL: p.HTMLURL}}
	if p.DashboardURL != "" {
		buttons = append(buttons, button{Type: "button", Text: textObj{Type: "plain_text", Text: "Open in Dashboard"}, URL: p.DashboardURL})
	}
	blocks = append(blocks, map[string]any{"type": "actions", "elements": buttons})

	return Message{
		Text:   fmt.Sprintf("PR #%d: %s", p.Number, p.Title),
		Blocks: blocks,
	}
}
