package memory

import (
	"testing"

	"github.com/loomhq/loom/pkg/models"
)

// countChars charges one token per byte so budgets are easy to reason about.
func countChars(s string) int { return len(s) }

func msg(role models.Role, content string) models.Message {
	return models.Message{Role: role, Content: content}
}

func toolMsg(callID, content string) models.Message {
	return models.Message{
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{{ToolCallID: callID, Content: content}},
	}
}

func TestSplitTurns(t *testing.T) {
	messages := []models.Message{
		msg(models.RoleUser, "q1"),
		msg(models.RoleAssistant, "a1"),
		msg(models.RoleUser, "q2"),
		msg(models.RoleAssistant, "calls tool"),
		toolMsg("call_1", "result"),
		msg(models.RoleAssistant, "a2"),
		msg(models.RoleUser, "q3"),
	}
	turns := splitTurns(messages)
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	if turns[1].start != 2 || turns[1].end != 6 {
		t.Errorf("turn 1 = %+v, want [2,6)", turns[1])
	}
}

func TestFitContext_NoPruningWhenUnderBudget(t *testing.T) {
	messages := []models.Message{
		msg(models.RoleUser, "hello"),
		msg(models.RoleAssistant, "hi"),
	}
	cfg := models.ContextWindowConfig{ReserveTokens: 10, PruningStrategy: "turn-based"}
	res := FitContext(messages, 10000, cfg, countChars)
	if len(res.Messages) != 2 || res.DroppedTurns != 0 {
		t.Errorf("unexpected fit: kept=%d dropped=%d", len(res.Messages), res.DroppedTurns)
	}
}

func TestFitContext_TurnBasedDropsOldestTurns(t *testing.T) {
	messages := []models.Message{
		msg(models.RoleUser, "first question with plenty of words in it"),
		msg(models.RoleAssistant, "a very long answer that eats the budget up"),
		msg(models.RoleUser, "second"),
		msg(models.RoleAssistant, "short"),
	}
	cfg := models.ContextWindowConfig{PruningStrategy: "turn-based"}
	// Budget only fits the last turn.
	res := FitContext(messages, 40, cfg, countChars)
	if res.DroppedTurns != 1 {
		t.Fatalf("dropped turns = %d, want 1", res.DroppedTurns)
	}
	if len(res.Messages) != 2 || res.Messages[0].Content != "second" {
		t.Errorf("kept = %+v", res.Messages)
	}
	if len(res.Dropped) != 2 {
		t.Errorf("dropped = %d messages, want 2", len(res.Dropped))
	}
}

func TestFitContext_MaxTurnsCap(t *testing.T) {
	var messages []models.Message
	for i := 0; i < 6; i++ {
		messages = append(messages, msg(models.RoleUser, "q"), msg(models.RoleAssistant, "a"))
	}
	cfg := models.ContextWindowConfig{PruningStrategy: "turn-based", MaxTurnsInContext: 2}
	res := FitContext(messages, 100000, cfg, countChars)
	if res.DroppedTurns != 4 {
		t.Errorf("dropped turns = %d, want 4", res.DroppedTurns)
	}
	if len(res.Messages) != 4 {
		t.Errorf("kept = %d messages, want 4", len(res.Messages))
	}
}

func TestFitContext_TokenBasedKeepsToolResultsWithAssistant(t *testing.T) {
	messages := []models.Message{
		msg(models.RoleUser, "a fairly long opening question to drop"),
		msg(models.RoleAssistant, "assistant reply that calls a tool"),
		toolMsg("call_1", "tool output"),
		msg(models.RoleUser, "next"),
		msg(models.RoleAssistant, "ok"),
	}
	cfg := models.ContextWindowConfig{PruningStrategy: "token-based"}
	// Budget forces dropping past the assistant message; the cut must also
	// take its tool result rather than leaving an orphan.
	res := FitContext(messages, 30, cfg, countChars)
	for _, m := range res.Messages {
		if m.Role == models.RoleTool {
			t.Fatalf("orphaned tool message survived the cut: %+v", res.Messages)
		}
	}
	if len(res.Messages) != 2 || res.Messages[0].Content != "next" {
		t.Errorf("kept = %+v", res.Messages)
	}
}

func TestFitContext_ResultIsSuffix(t *testing.T) {
	messages := []models.Message{
		msg(models.RoleUser, "one"),
		msg(models.RoleAssistant, "two"),
		msg(models.RoleUser, "three"),
		msg(models.RoleAssistant, "four"),
	}
	cfg := models.ContextWindowConfig{PruningStrategy: "token-based"}
	res := FitContext(messages, 22, cfg, countChars)
	if len(res.Dropped)+len(res.Messages) != len(messages) {
		t.Fatalf("dropped + kept != input")
	}
	for i, m := range res.Messages {
		if m.Content != messages[len(res.Dropped)+i].Content {
			t.Fatal("kept messages are not a contiguous suffix of the input")
		}
	}
}
