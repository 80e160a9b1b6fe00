package memory

import (
	"github.com/loomhq/loom/pkg/models"
)

// TokenCountFunc estimates the token count of text.
type TokenCountFunc func(string) int

// FitResult is the outcome of context fitting.
type FitResult struct {
	// Messages is the fitted subset, a contiguous suffix of the input.
	Messages []models.Message

	// Dropped is the prefix that was removed.
	Dropped []models.Message

	// DroppedTurns counts complete turns removed.
	DroppedTurns int

	// TotalTurns counts complete turns in the input.
	TotalTurns int
}

// FitContext reduces messages until estimated tokens plus reserve fit the
// context window. The result is always a suffix of the input; a turn's
// assistant message and its adjacent tool messages are never split apart.
func FitContext(messages []models.Message, contextWindow int, cfg models.ContextWindowConfig, count TokenCountFunc) FitResult {
	budget := contextWindow - cfg.ReserveTokens
	turns := splitTurns(messages)
	res := FitResult{Messages: messages, TotalTurns: len(turns)}
	if len(messages) == 0 {
		return res
	}

	switch cfg.PruningStrategy {
	case "token-based":
		return fitTokenBased(messages, turns, budget, count)
	default:
		return fitTurnBased(messages, turns, budget, cfg.MaxTurnsInContext, count)
	}
}

// turn is a contiguous message group: one user message plus the assistant
// and tool messages that answer it.
type turn struct {
	start, end int // half-open index range into the message slice
}

// splitTurns groups messages into turns. A new turn begins at each user
// message; leading non-user messages form their own group.
func splitTurns(messages []models.Message) []turn {
	var turns []turn
	start := 0
	for i, msg := range messages {
		if msg.Role == models.RoleUser && i > start {
			turns = append(turns, turn{start: start, end: i})
			start = i
		}
	}
	if start < len(messages) {
		turns = append(turns, turn{start: start, end: len(messages)})
	}
	return turns
}

func messageTokens(msg *models.Message, count TokenCountFunc) int {
	n := count(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += count(tc.Name) + count(string(tc.Input))
	}
	for _, tr := range msg.ToolResults {
		n += count(tr.Content)
	}
	// Fixed per-message overhead for role and framing.
	return n + 4
}

func totalTokens(messages []models.Message, count TokenCountFunc) int {
	n := 0
	for i := range messages {
		n += messageTokens(&messages[i], count)
	}
	return n
}

func fitTurnBased(messages []models.Message, turns []turn, budget, maxTurns int, count TokenCountFunc) FitResult {
	keepFrom := 0
	if maxTurns > 0 && len(turns) > maxTurns {
		keepFrom = len(turns) - maxTurns
	}

	for keepFrom < len(turns) {
		subset := messages[turns[keepFrom].start:]
		if totalTokens(subset, count) <= budget {
			break
		}
		keepFrom++
	}

	cut := len(messages)
	if keepFrom < len(turns) {
		cut = turns[keepFrom].start
	}
	return FitResult{
		Messages:     messages[cut:],
		Dropped:      messages[:cut],
		DroppedTurns: keepFrom,
		TotalTurns:   len(turns),
	}
}

// fitTokenBased drops oldest messages until under budget, rounding each cut
// up to the nearest boundary that does not separate an assistant message
// from its adjacent tool result messages.
func fitTokenBased(messages []models.Message, turns []turn, budget int, count TokenCountFunc) FitResult {
	cut := 0
	for cut < len(messages) && totalTokens(messages[cut:], count) > budget {
		cut++
		for cut < len(messages) && !safeBoundary(messages, cut) {
			cut++
		}
	}

	dropped := 0
	for _, t := range turns {
		if t.end <= cut {
			dropped++
		}
	}
	return FitResult{
		Messages:     messages[cut:],
		Dropped:      messages[:cut],
		DroppedTurns: dropped,
		TotalTurns:   len(turns),
	}
}

// safeBoundary reports whether cutting before index i keeps tool messages
// and system messages with the assistant message they belong to.
func safeBoundary(messages []models.Message, i int) bool {
	if i <= 0 || i >= len(messages) {
		return true
	}
	cur := messages[i]
	prev := messages[i-1]
	// A tool message answers the assistant message before it.
	if cur.Role == models.RoleTool || len(cur.ToolResults) > 0 {
		return false
	}
	// A system message inserted before an assistant reply stays with it.
	if prev.Role == models.RoleSystem && cur.Role == models.RoleAssistant {
		return false
	}
	return true
}
