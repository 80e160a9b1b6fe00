package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/pkg/models"
)

// RuntimeContext carries the per-stimulus details appended to the prompt.
type RuntimeContext struct {
	// ContactName is who the agent is talking to.
	ContactName string

	// Channel is where the conversation happens (e.g., "telegram").
	Channel string

	// Role is the agent role from the project config.
	Role string

	// Language is the contact's preferred language code.
	Language string
}

// Built is the output of prompt assembly: the system prompt text plus the
// snapshot attached to the trace for replay and audit.
type Built struct {
	SystemPrompt string
	Snapshot     models.PromptSnapshot
}

// Builder composes the three active layers, tool docs, and runtime context
// into one system prompt.
type Builder struct {
	layers   LayerStore
	registry *tools.Registry
}

// NewBuilder creates a prompt builder.
func NewBuilder(layers LayerStore, registry *tools.Registry) *Builder {
	return &Builder{layers: layers, registry: registry}
}

// Build assembles the system prompt for a run. Layers concatenate in
// canonical order identity, instructions, safety; missing layers are
// skipped. Tool docs cover the context's allowed tools only.
func (b *Builder) Build(ctx context.Context, projectID string, ec *tools.ExecContext, rc RuntimeContext) (*Built, error) {
	active, err := b.layers.Active(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var sections []string
	snapshot := models.PromptSnapshot{}
	for _, kind := range []models.LayerKind{models.LayerIdentity, models.LayerInstructions, models.LayerSafety} {
		layer, ok := active[kind]
		if !ok {
			continue
		}
		sections = append(sections, strings.TrimSpace(layer.Content))
		switch kind {
		case models.LayerIdentity:
			snapshot.IdentityLayerID = layer.ID
			snapshot.IdentityVersion = layer.Version
		case models.LayerInstructions:
			snapshot.InstructionsLayerID = layer.ID
			snapshot.InstructionsVersion = layer.Version
		case models.LayerSafety:
			snapshot.SafetyLayerID = layer.ID
			snapshot.SafetyVersion = layer.Version
		}
	}

	toolDocs := b.toolDocs(ec)
	if toolDocs != "" {
		sections = append(sections, toolDocs)
	}
	snapshot.ToolDocsHash = hash(toolDocs)

	runtime := runtimeSection(rc)
	if runtime != "" {
		sections = append(sections, runtime)
	}
	snapshot.RuntimeContextHash = hash(runtime)

	return &Built{
		SystemPrompt: strings.Join(sections, "\n\n"),
		Snapshot:     snapshot,
	}, nil
}

func (b *Builder) toolDocs(ec *tools.ExecContext) string {
	if b.registry == nil {
		return ""
	}
	allowed := b.registry.ListForContext(ec)
	if len(allowed) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available tools\n")
	for _, t := range allowed {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func runtimeSection(rc RuntimeContext) string {
	var lines []string
	if rc.ContactName != "" {
		lines = append(lines, "Contact: "+rc.ContactName)
	}
	if rc.Channel != "" {
		lines = append(lines, "Channel: "+rc.Channel)
	}
	if rc.Role != "" {
		lines = append(lines, "Role: "+rc.Role)
	}
	if rc.Language != "" {
		lines = append(lines, "Language: "+rc.Language)
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Context\n" + strings.Join(lines, "\n")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
