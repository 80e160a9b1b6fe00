package config

import (
	"strings"
	"testing"

	"github.com/loomhq/loom/internal/fault"
)

func validDoc() string {
	return `{
		"id": "proj-1",
		"name": "Support Bot",
		"environment": "production",
		"agent_config": {
			"project_id": "proj-1",
			"agent_role": "support",
			"provider": {"provider": "anthropic", "model": "claude-sonnet-4-20250514", "api_key_env_var": "ANTHROPIC_API_KEY"},
			"failover": {"on_rate_limit": true, "on_server_error": true, "on_timeout": false},
			"allowed_tools": ["get_weather"],
			"memory_config": {
				"long_term": {"enabled": true, "retrieval_top_k": 3},
				"context_window": {"reserve_tokens": 1000, "pruning_strategy": "turn-based", "compaction": {"enabled": false}}
			},
			"cost_config": {"daily_budget_usd": 10, "monthly_budget_usd": 100, "max_tokens_per_turn": 4096, "max_tool_calls_per_turn": 5},
			"max_turns_per_session": 10
		}
	}`
}

func TestParseProjectValid(t *testing.T) {
	project, err := ParseProject([]byte(validDoc()))
	if err != nil {
		t.Fatalf("ParseProject: %v", err)
	}
	if project.ID != "proj-1" || project.AgentConfig.Provider.Model != "claude-sonnet-4-20250514" {
		t.Errorf("project = %+v", project)
	}
}

func TestEnvSubstitutionExactPattern(t *testing.T) {
	t.Setenv("SUPPORT_MODEL", "claude-sonnet-4-20250514")
	doc := strings.Replace(validDoc(), `"model": "claude-sonnet-4-20250514"`, `"model": "${SUPPORT_MODEL}"`, 1)

	project, err := ParseProject([]byte(doc))
	if err != nil {
		t.Fatalf("ParseProject: %v", err)
	}
	if project.AgentConfig.Provider.Model != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q, want substituted value", project.AgentConfig.Provider.Model)
	}
}

func TestEnvSubstitutionPartialPatternUntouched(t *testing.T) {
	t.Setenv("REGION", "eu")
	doc := strings.Replace(validDoc(), `"environment": "production"`, `"environment": "prod-${REGION}"`, 1)

	project, err := ParseProject([]byte(doc))
	if err != nil {
		t.Fatalf("ParseProject: %v", err)
	}
	if project.Environment != "prod-${REGION}" {
		t.Errorf("environment = %q, partial patterns must not substitute", project.Environment)
	}
}

func TestEnvSubstitutionMissingVariable(t *testing.T) {
	doc := strings.Replace(validDoc(), `"model": "claude-sonnet-4-20250514"`, `"model": "${LOOM_TEST_UNSET_VAR}"`, 1)

	_, err := ParseProject([]byte(doc))
	if fault.CodeOf(err) != fault.CodeConfig {
		t.Fatalf("err = %v, want CONFIG_ERROR", err)
	}
	if !strings.Contains(err.Error(), "LOOM_TEST_UNSET_VAR") {
		t.Errorf("error must name the variable: %v", err)
	}
}

func TestValidationNamesThePath(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(string) string
		wantPath string
	}{
		{
			"project id mismatch",
			func(doc string) string {
				return strings.Replace(doc, `"project_id": "proj-1"`, `"project_id": "other"`, 1)
			},
			"agentConfig.projectId",
		},
		{
			"missing provider",
			func(doc string) string {
				return strings.Replace(doc, `"provider": "anthropic"`, `"provider": ""`, 1)
			},
			"agentConfig.provider.provider",
		},
		{
			"bad pruning strategy",
			func(doc string) string {
				return strings.Replace(doc, `"pruning_strategy": "turn-based"`, `"pruning_strategy": "lru"`, 1)
			},
			"agentConfig.memoryConfig.contextWindow.pruningStrategy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProject([]byte(tt.mutate(validDoc())))
			if fault.CodeOf(err) != fault.CodeConfig {
				t.Fatalf("err = %v, want CONFIG_ERROR", err)
			}
			if !strings.Contains(err.Error(), tt.wantPath) {
				t.Errorf("error %q must name path %q", err.Error(), tt.wantPath)
			}
		})
	}
}

func TestParseProjectRejectsGarbage(t *testing.T) {
	if _, err := ParseProject([]byte("{not json")); fault.CodeOf(err) != fault.CodeConfig {
		t.Errorf("err = %v, want CONFIG_ERROR", err)
	}
}
