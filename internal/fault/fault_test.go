package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_StatusCodes(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidation, 400},
		{CodeToolNotAllowed, 403},
		{CodeTaskNotFound, 404},
		{CodeBudgetExceeded, 429},
		{CodeRateLimitExceeded, 429},
		{CodeAborted, 499},
		{CodeProviderError, 502},
		{CodeTimeout, 504},
	}
	for _, tt := range tests {
		e := New(tt.code, "boom")
		if e.StatusCode != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.code, e.StatusCode, tt.status)
		}
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	e := Wrap(CodeProviderError, cause, "call failed")

	if !errors.Is(e, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if e.Error() != "PROVIDER_ERROR: call failed: underlying" {
		t.Errorf("unexpected message: %s", e.Error())
	}
}

func TestAs_ThroughChain(t *testing.T) {
	inner := New(CodeBudgetExceeded, "daily limit hit")
	outer := fmt.Errorf("run aborted: %w", inner)

	fe, ok := As(outer)
	if !ok {
		t.Fatal("expected to extract fault.Error from chain")
	}
	if fe.Code != CodeBudgetExceeded {
		t.Errorf("code = %s, want BUDGET_EXCEEDED", fe.Code)
	}
	if !Is(outer, CodeBudgetExceeded) {
		t.Error("Is should match through the chain")
	}
	if Is(outer, CodeTimeout) {
		t.Error("Is should not match a different code")
	}
}

func TestWith_Context(t *testing.T) {
	e := New(CodeToolHallucination, "unknown tool").
		With("tool_id", "frobnicate").
		With("known", []string{"get_weather"})

	if e.Context["tool_id"] != "frobnicate" {
		t.Errorf("context tool_id = %v", e.Context["tool_id"])
	}
}

func TestStatusOf_Default(t *testing.T) {
	if got := StatusOf(errors.New("plain")); got != 500 {
		t.Errorf("StatusOf(plain) = %d, want 500", got)
	}
	if got := StatusOf(New(CodeProviderError, "x").WithStatus(503)); got != 503 {
		t.Errorf("StatusOf(override) = %d, want 503", got)
	}
}
