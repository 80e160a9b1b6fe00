// Package config loads project configuration files and the runtime
// environment.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

// envPattern matches a string that is exactly "${VAR}". Partial patterns
// like "prefix-${VAR}" are left untouched.
var envPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// LoadProject reads, substitutes, and validates a project config file.
func LoadProject(path string) (*models.Project, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.CodeConfig, err, "cannot read project config %q", path)
	}
	return ParseProject(raw)
}

// ParseProject parses a project config document. String values matching
// ${VAR} exactly are replaced from the environment before decoding.
func ParseProject(raw []byte) (*models.Project, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fault.Wrap(fault.CodeConfig, err, "project config is not valid JSON")
	}
	tree, err := substituteEnv(tree)
	if err != nil {
		return nil, err
	}
	resolved, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}

	var project models.Project
	if err := json.Unmarshal(resolved, &project); err != nil {
		return nil, fault.Wrap(fault.CodeConfig, err, "project config does not match the schema")
	}
	if err := ValidateProject(&project); err != nil {
		return nil, err
	}
	return &project, nil
}

// substituteEnv walks the decoded document and resolves ${VAR} leaves.
func substituteEnv(node any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			resolved, err := substituteEnv(child)
			if err != nil {
				return nil, err
			}
			v[key] = resolved
		}
		return v, nil
	case []any:
		for i, child := range v {
			resolved, err := substituteEnv(child)
			if err != nil {
				return nil, err
			}
			v[i] = resolved
		}
		return v, nil
	case string:
		m := envPattern.FindStringSubmatch(v)
		if m == nil {
			return v, nil
		}
		value, ok := os.LookupEnv(m[1])
		if !ok {
			return nil, fault.New(fault.CodeConfig, "environment variable %s referenced by config is not set", m[1])
		}
		return value, nil
	default:
		return node, nil
	}
}

// ValidateProject checks the invariants a loaded project must satisfy.
// Failures name the offending path.
func ValidateProject(p *models.Project) error {
	fail := func(path, msg string, args ...any) error {
		return fault.New(fault.CodeConfig, "%s: %s", path, fmt.Sprintf(msg, args...))
	}
	if p.ID == "" {
		return fail("id", "is required")
	}
	if p.Name == "" {
		return fail("name", "is required")
	}
	cfg := &p.AgentConfig
	if cfg.ProjectID != p.ID {
		return fail("agentConfig.projectId", "must match project id %q, got %q", p.ID, cfg.ProjectID)
	}
	if cfg.Provider.Provider == "" {
		return fail("agentConfig.provider.provider", "is required")
	}
	if cfg.Provider.Model == "" {
		return fail("agentConfig.provider.model", "is required")
	}
	if cfg.FallbackProvider != nil {
		if cfg.FallbackProvider.Provider == "" {
			return fail("agentConfig.fallbackProvider.provider", "is required when fallbackProvider is set")
		}
		if cfg.FallbackProvider.Model == "" {
			return fail("agentConfig.fallbackProvider.model", "is required when fallbackProvider is set")
		}
	}
	if cfg.MaxTurnsPerSession < 0 {
		return fail("agentConfig.maxTurnsPerSession", "must not be negative")
	}
	cw := cfg.MemoryConfig.ContextWindow
	switch cw.PruningStrategy {
	case "", "turn-based", "token-based":
	default:
		return fail("agentConfig.memoryConfig.contextWindow.pruningStrategy",
			"must be turn-based or token-based, got %q", cw.PruningStrategy)
	}
	cost := cfg.CostConfig
	if cost.DailyBudgetUSD < 0 || cost.MonthlyBudgetUSD < 0 {
		return fail("agentConfig.costConfig", "budgets must not be negative")
	}
	if cost.AlertThresholdPct < 0 || cost.AlertThresholdPct > 100 {
		return fail("agentConfig.costConfig.alertThresholdPercent", "must be in [0,100], got %v", cost.AlertThresholdPct)
	}
	if cost.HardLimitPct < 0 {
		return fail("agentConfig.costConfig.hardLimitPercent", "must not be negative")
	}
	return nil
}

// LoadProjectsDir loads every *.json project file in dir.
func LoadProjectsDir(ctx context.Context, dir string) ([]*models.Project, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fault.Wrap(fault.CodeConfig, err, "cannot read project config dir %q", dir)
	}
	var projects []*models.Project
	for _, entry := range entries {
		if entry.IsDir() || len(entry.Name()) < 6 || entry.Name()[len(entry.Name())-5:] != ".json" {
			continue
		}
		p, err := LoadProject(dir + "/" + entry.Name())
		if err != nil {
			return nil, fault.Wrap(fault.CodeConfig, err, "project config %q is invalid", entry.Name())
		}
		projects = append(projects, p)
	}
	return projects, nil
}
