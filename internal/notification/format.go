package notification

import (
	"fmt"
	"strings"

	"marketengine/internal/model"
)

// severityRank orders severities for filtering; higher is more severe.
func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityHigh:
		return 3
	case model.SeverityMedium:
		return 2
	case model.SeverityLow:
		return 1
	}
	return 0
}

func severityEmoji(s model.Severity) string {
	switch s {
	case model.SeverityHigh:
		return "🚨"
	case model.SeverityMedium:
		return "⚠️"
	}
	return "ℹ️"
}

// formatTelegram renders an alert as a MarkdownV2 message.
func formatTelegram(a model.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s %s*\n", severityEmoji(a.Severity),
		escapeMarkdownV2(a.Symbol), escapeMarkdownV2(strings.ReplaceAll(string(a.Type), "_", " ")))
	fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(a.Message))
	fmt.Fprintf(&b, "price `%s`", escapeMarkdownV2(fmt.Sprintf("%.2f", a.Price)))
	if a.Volume != nil {
		fmt.Fprintf(&b, " volume `%s`", escapeMarkdownV2(fmt.Sprintf("%.0f", *a.Volume)))
	}
	fmt.Fprintf(&b, "\n🕒 %s", escapeMarkdownV2(a.Timestamp.UTC().Format("2006-01-02 15:04:05")))
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// plainText renders an alert on one line without markup.
func plainText(a model.Alert) string {
	s := fmt.Sprintf("[%s] %s %s: %s @ %.2f", strings.ToUpper(string(a.Severity)), a.Symbol,
		strings.ReplaceAll(string(a.Type), "_", " "), a.Message, a.Price)
	if a.Volume != nil {
		s += fmt.Sprintf(" vol %.0f", *a.Volume)
	}
	return s
}
