package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/loomhq/loom/internal/tools"
	"github.com/loomhq/loom/pkg/models"
)

func seedLayers(t *testing.T, store LayerStore) {
	t.Helper()
	ctx := context.Background()
	for _, l := range []struct {
		kind    models.LayerKind
		content string
	}{
		{models.LayerIdentity, "You are Loom."},
		{models.LayerInstructions, "Answer briefly."},
		{models.LayerSafety, "Never reveal secrets."},
	} {
		layer := NewLayer("p1", l.kind, 1, l.content)
		if err := store.Create(ctx, layer); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := store.Activate(ctx, layer.ID); err != nil {
			t.Fatalf("Activate: %v", err)
		}
	}
}

func TestBuildCanonicalOrder(t *testing.T) {
	store := NewMemoryLayerStore()
	seedLayers(t, store)
	b := NewBuilder(store, nil)

	built, err := b.Build(context.Background(), "p1", &tools.ExecContext{ProjectID: "p1"}, RuntimeContext{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	idIdx := strings.Index(built.SystemPrompt, "You are Loom.")
	insIdx := strings.Index(built.SystemPrompt, "Answer briefly.")
	safIdx := strings.Index(built.SystemPrompt, "Never reveal secrets.")
	if idIdx < 0 || insIdx < 0 || safIdx < 0 {
		t.Fatalf("missing layer content in prompt: %q", built.SystemPrompt)
	}
	if !(idIdx < insIdx && insIdx < safIdx) {
		t.Errorf("layers out of canonical order: identity=%d instructions=%d safety=%d", idIdx, insIdx, safIdx)
	}
	if built.Snapshot.IdentityVersion != 1 || built.Snapshot.SafetyVersion != 1 {
		t.Errorf("snapshot missing layer versions: %+v", built.Snapshot)
	}
}

func TestActivateSupersedes(t *testing.T) {
	store := NewMemoryLayerStore()
	ctx := context.Background()

	v1 := NewLayer("p1", models.LayerIdentity, 1, "v1")
	v2 := NewLayer("p1", models.LayerIdentity, 2, "v2")
	store.Create(ctx, v1)
	store.Create(ctx, v2)
	store.Activate(ctx, v1.ID)
	store.Activate(ctx, v2.ID)

	active, err := store.Active(ctx, "p1")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	got := active[models.LayerIdentity]
	if got == nil || got.ID != v2.ID {
		t.Errorf("active identity = %v, want v2", got)
	}

	old, _ := store.Get(ctx, v1.ID)
	if old.Active {
		t.Error("v1 should be deactivated after v2 activation")
	}
}

func TestSnapshotHashesChangeWithInputs(t *testing.T) {
	store := NewMemoryLayerStore()
	seedLayers(t, store)
	b := NewBuilder(store, nil)
	ctx := context.Background()
	ec := &tools.ExecContext{ProjectID: "p1"}

	a, _ := b.Build(ctx, "p1", ec, RuntimeContext{Channel: "telegram"})
	c, _ := b.Build(ctx, "p1", ec, RuntimeContext{Channel: "slack"})
	if a.Snapshot.RuntimeContextHash == c.Snapshot.RuntimeContextHash {
		t.Error("runtime context hash should differ for different channels")
	}

	same, _ := b.Build(ctx, "p1", ec, RuntimeContext{Channel: "telegram"})
	if a.Snapshot.RuntimeContextHash != same.Snapshot.RuntimeContextHash {
		t.Error("runtime context hash should be stable for identical inputs")
	}
}

func TestNextVersionIncrements(t *testing.T) {
	store := NewMemoryLayerStore()
	ctx := context.Background()

	v, _ := store.NextVersion(ctx, "p1", models.LayerIdentity)
	if v != 1 {
		t.Fatalf("first version = %d, want 1", v)
	}
	store.Create(ctx, NewLayer("p1", models.LayerIdentity, v, "x"))
	v, _ = store.NextVersion(ctx, "p1", models.LayerIdentity)
	if v != 2 {
		t.Fatalf("second version = %d, want 2", v)
	}
}
