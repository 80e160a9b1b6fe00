package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// Registry holds the declared tools and enforces the resolution contract:
// existence, RBAC, input validation, approval, then execution.
//
// Registration happens at startup; lookups are read-mostly and take only a
// read lock.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	gate    ApprovalGate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// SetApprovalGate wires the gate consulted for tools that require approval.
func (r *Registry) SetApprovalGate(gate ApprovalGate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = gate
}

// Register adds a tool, compiling its input schema. A tool with the same
// name is replaced. Schema compilation failure rejects the registration.
func (r *Registry) Register(tool Tool) error {
	schema, err := compileSchema(tool.Name(), tool.InputSchema())
	if err != nil {
		return fault.Wrap(fault.CodeValidation, err, "tool %q has invalid input schema", tool.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	return nil
}

// Unregister removes a tool by ID.
func (r *Registry) Unregister(toolID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, toolID)
	delete(r.schemas, toolID)
}

// Get returns a tool by ID.
func (r *Registry) Get(toolID string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[toolID]
	return tool, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(toolID string) bool {
	_, ok := r.Get(toolID)
	return ok
}

// ListAll returns every registered tool ID, sorted.
func (r *Registry) ListAll() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListForContext returns the tools the context's allowlist permits, sorted
// by ID.
func (r *Registry) ListForContext(ec *ExecContext) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for id, tool := range r.tools {
		if ec.allows(id) {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// FormatForProvider emits provider-neutral tool definitions for the allowed
// tools. Discriminated-union schemas are flattened to one object so that
// providers rejecting top-level anyOf still accept them.
func (r *Registry) FormatForProvider(ec *ExecContext) []models.ToolDefinition {
	allowed := r.ListForContext(ec)
	defs := make([]models.ToolDefinition, 0, len(allowed))
	for _, tool := range allowed {
		defs = append(defs, models.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: FlattenSchema(tool.InputSchema()),
		})
	}
	return defs
}

// Resolve runs the resolution contract for one tool call and executes the
// tool. Failures come back as *fault.Error; tool-level soft failures come
// back as a Result with IsError set.
func (r *Registry) Resolve(ctx context.Context, toolID string, input json.RawMessage, ec *ExecContext) (*Result, error) {
	return r.resolve(ctx, toolID, input, ec, false)
}

// ResolveDryRun is Resolve but invokes the tool's DryRun when supported.
// Tools without dry-run support fail with VALIDATION_ERROR.
func (r *Registry) ResolveDryRun(ctx context.Context, toolID string, input json.RawMessage, ec *ExecContext) (*Result, error) {
	return r.resolve(ctx, toolID, input, ec, true)
}

func (r *Registry) resolve(ctx context.Context, toolID string, input json.RawMessage, ec *ExecContext, dryRun bool) (*Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[toolID]
	schema := r.schemas[toolID]
	gate := r.gate
	r.mu.RUnlock()

	if !ok {
		return nil, fault.New(fault.CodeToolHallucination, "unknown tool %q", toolID).
			With("known_tools", r.ListAll())
	}

	if !ec.allows(toolID) {
		return nil, fault.New(fault.CodeToolNotAllowed, "tool %q is not allowed for project %s", toolID, ec.ProjectID)
	}

	if err := validateInput(schema, input); err != nil {
		return nil, fault.Wrap(fault.CodeValidation, err, "invalid input for tool %q", toolID)
	}

	if tool.RequiresApproval() && !dryRun {
		if gate == nil {
			return nil, fault.New(fault.CodeApprovalRequired, "tool %q requires approval and no gate is configured", toolID).
				With("approval_id", UnroutedApprovalID)
		}
		approved, approvalID, err := gate.Request(ctx, toolID, input, ec)
		if err != nil {
			return nil, fault.Wrap(fault.CodeToolExecution, err, "approval gate failed for tool %q", toolID)
		}
		if !approved {
			return nil, fault.New(fault.CodeApprovalRequired, "tool %q awaits approval", toolID).
				With("approval_id", approvalID)
		}
	}

	if dryRun {
		dr, ok := tool.(DryRunner)
		if !ok {
			return nil, fault.New(fault.CodeValidation, "tool %q does not support dry run", toolID)
		}
		res, err := dr.DryRun(ctx, input, ec)
		return res, wrapExecErr(toolID, err)
	}

	res, err := tool.Execute(ctx, input, ec)
	if err != nil {
		ec.logger().Warn("tool execution failed", "tool", toolID, "error", err)
	}
	return res, wrapExecErr(toolID, err)
}

func wrapExecErr(toolID string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := fault.As(err); ok {
		return err
	}
	return fault.Wrap(fault.CodeToolExecution, err, "tool %q execution failed", toolID)
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return jsonschema.CompileString("tool_"+name, string(raw))
}

func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if schema == nil {
		return nil
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var payload any
	if err := json.Unmarshal(input, &payload); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	return schema.Validate(payload)
}
