package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomhq/loom/internal/memory"
	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/pkg/models"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{"serve": false, "validate": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte(`{
		"id": "proj_test",
		"name": "Test",
		"agent_config": {
			"project_id": "proj_test",
			"provider": {"provider": "anthropic", "model": "claude-sonnet-4-20250514", "api_key_env_var": "ANTHROPIC_API_KEY"}
		}
	}`), 0o600); err != nil {
		t.Fatal(err)
	}

	root := buildRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"validate", good})
	if err := root.Execute(); err != nil {
		t.Fatalf("validate: %v (stderr: %s)", err, errOut.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("proj_test")) {
		t.Errorf("output missing project id: %s", out.String())
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"name": "no id"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	root = buildRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"validate", bad})
	if err := root.Execute(); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestRememberToolStoresMemory(t *testing.T) {
	store := memory.NewMemoryStore()
	mgr := memory.NewManager(models.MemoryConfig{
		LongTerm: models.LongTermMemoryConfig{Enabled: true},
	}, store, nil, nil)

	reg := tools.NewRegistry()
	registerBuiltinTools(reg, func(ctx context.Context, projectID string, in memory.StoreInput) error {
		_, err := mgr.StoreMemory(ctx, projectID, in)
		return err
	})

	ctx := context.Background()
	res, err := reg.Resolve(ctx, "remember", json.RawMessage(`{"content":"Prefers green tea"}`), &tools.ExecContext{
		ProjectID:    "proj-1",
		SessionID:    "sess-1",
		AllowedTools: []string{"remember"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}
	if n, _ := store.Count(ctx, "proj-1"); n != 1 {
		t.Errorf("stored entries = %d, want 1", n)
	}
}
