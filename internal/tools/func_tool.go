package tools

import (
	"context"
	"encoding/json"

	"github.com/loomhq/loom/pkg/models"
)

// Spec declares a tool built from plain functions. Useful for wiring tools
// at startup without a dedicated type per tool.
type Spec struct {
	// ID is the tool name.
	ID string

	// Description tells the model what the tool does.
	Description string

	// Schema is the JSON Schema for the input.
	Schema json.RawMessage

	// Risk classifies the tool. Defaults to low.
	Risk models.RiskLevel

	// NeedsApproval routes execution through the approval gate.
	NeedsApproval bool

	// HasSideEffects marks the tool as mutating external state.
	HasSideEffects bool

	// Run executes the tool.
	Run func(ctx context.Context, input json.RawMessage, ec *ExecContext) (*Result, error)

	// Simulate, when set, enables dry-run support.
	Simulate func(ctx context.Context, input json.RawMessage, ec *ExecContext) (*Result, error)
}

// New builds a Tool from a Spec.
func New(spec Spec) Tool {
	if spec.Risk == "" {
		spec.Risk = models.RiskLow
	}
	t := &funcTool{spec: spec}
	if spec.Simulate != nil {
		return &dryRunFuncTool{funcTool: t}
	}
	return t
}

type funcTool struct {
	spec Spec
}

func (t *funcTool) Name() string                 { return t.spec.ID }
func (t *funcTool) Description() string          { return t.spec.Description }
func (t *funcTool) InputSchema() json.RawMessage { return t.spec.Schema }
func (t *funcTool) RiskLevel() models.RiskLevel  { return t.spec.Risk }
func (t *funcTool) RequiresApproval() bool       { return t.spec.NeedsApproval }
func (t *funcTool) SideEffects() bool            { return t.spec.HasSideEffects }

func (t *funcTool) Execute(ctx context.Context, input json.RawMessage, ec *ExecContext) (*Result, error) {
	return t.spec.Run(ctx, input, ec)
}

type dryRunFuncTool struct {
	*funcTool
}

func (t *dryRunFuncTool) DryRun(ctx context.Context, input json.RawMessage, ec *ExecContext) (*Result, error) {
	return t.spec.Simulate(ctx, input, ec)
}
