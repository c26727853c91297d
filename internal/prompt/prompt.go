// Package prompt assembles the model prompt and splits model output into
// thinking and answer parts.
package prompt

import (
	"fmt"
	"strings"

	"localchat/internal/chat"
	"localchat/internal/config"
)

// FormatHint is the fixed instruction block placed before the chat context.
const FormatHint = "Use provided SEARCH RESULT and WEB PAGE lines as your only external knowledge. " +
	"You have internet access through those results; rely on them for anything recent. " +
	"Prefer WEB PAGE content when available; cite URLs in the answer."

// FormatHintWithReasoning additionally asks for the reasoning inside think tags.
const FormatHintWithReasoning = FormatHint + " " +
	"Show the whole process that you are reasoning inside <think></think> before the final answer."

const assistantMarker = "\nASSISTANT:"

// Builder assembles prompts with a fixed format hint.
type Builder struct {
	FormatHint string
}

// NewBuilder picks the hint variant.
func NewBuilder(showReasoning bool) Builder {
	if showReasoning {
		return Builder{FormatHint: FormatHintWithReasoning}
	}
	return Builder{FormatHint: FormatHint}
}

// Build joins the non-empty sections (file, search, web, hint, chat) with a
// blank line and ends with the assistant marker.
func (b Builder) Build(fileCtx, searchCtx, webCtx, chatCtx string) string {
	var sections []string
	for _, s := range []string{fileCtx, searchCtx, webCtx, b.FormatHint, chatCtx} {
		if s != "" {
			sections = append(sections, s)
		}
	}
	return strings.Join(sections, "\n\n") + assistantMarker
}

// BuildPrompt uses the default hint.
func BuildPrompt(fileCtx, searchCtx, webCtx, chatCtx string) string {
	return Builder{FormatHint: FormatHint}.Build(fileCtx, searchCtx, webCtx, chatCtx)
}

// BuildChatContext renders the last limit turns as "ROLE: text" lines.
// A limit of zero or less means config.HistoryLimit.
func BuildChatContext(history []chat.Turn, limit int) string {
	if limit <= 0 {
		limit = config.HistoryLimit
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	lines := make([]string, len(history))
	for i, t := range history {
		lines[i] = strings.ToUpper(t.Role) + ": " + t.Text
	}
	return strings.Join(lines, "\n")
}

// LocationContext renders the stored location, or "" when there is none.
func LocationContext(loc *chat.Location) string {
	if loc == nil {
		return ""
	}
	parts := []string{
		"lat=" + chat.FormatFloat(loc.Lat),
		"lon=" + chat.FormatFloat(loc.Lon),
	}
	if loc.Accuracy != nil {
		parts = append(parts, "accuracy_m="+chat.FormatFloat(*loc.Accuracy))
	}
	if loc.Timestamp != "" {
		parts = append(parts, fmt.Sprintf("timestamp=%s", loc.Timestamp))
	}
	return "USER LOCATION: " + strings.Join(parts, ", ")
}

// WithLocation prefixes the file context with the location line.
func WithLocation(locCtx, fileCtx string) string {
	switch {
	case locCtx == "":
		return fileCtx
	case fileCtx == "":
		return locCtx
	}
	return locCtx + "\n\n" + fileCtx
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// SplitThinking separates the first <think>…</think> block from the answer.
// Without a well-formed pair the whole trimmed text is the answer and ok is false.
func SplitThinking(text string) (thinking, answer string, ok bool) {
	start := strings.Index(text, thinkOpen)
	if start >= 0 {
		rest := text[start+len(thinkOpen):]
		if end := strings.Index(rest, thinkClose); end >= 0 {
			thinking = strings.TrimSpace(rest[:end])
			answer = strings.TrimSpace(text[:start] + rest[end+len(thinkClose):])
			return thinking, answer, true
		}
	}
	return "", strings.TrimSpace(text), false
}
