package channels

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/pkg/models"
)

type stubAdapter struct{ provider string }

func (s *stubAdapter) Provider() string { return s.provider }
func (s *stubAdapter) Send(ctx context.Context, msg *models.OutboundMessage) (string, error) {
	return "msg-1", nil
}
func (s *stubAdapter) Parse(payload []byte) (*models.InboundMessage, error) { return nil, nil }
func (s *stubAdapter) Handoff(ctx context.Context, conversationID, reason string) error {
	return nil
}

type stubSecrets struct{}

func (stubSecrets) Get(ctx context.Context, projectID, key string) (string, error) {
	return "token", nil
}

func putIntegration(t *testing.T, store IntegrationStore, projectID, provider string) *models.ChannelIntegration {
	t.Helper()
	ci := &models.ChannelIntegration{
		ID:        "ci-" + provider,
		ProjectID: projectID,
		Provider:  provider,
		Config:    json.RawMessage(`{"bot_token_secret":"TOKEN"}`),
		Status:    models.IntegrationActive,
	}
	if err := store.Put(context.Background(), ci); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return ci
}

func TestResolveCachesPerIntegrationVersion(t *testing.T) {
	store := NewMemoryIntegrationStore()
	resolver := NewResolver(store, stubSecrets{}, nil)
	ctx := context.Background()

	builds := 0
	resolver.Register("telegram", func(ctx context.Context, ci *models.ChannelIntegration, secrets SecretGetter) (Adapter, error) {
		builds++
		return &stubAdapter{provider: "telegram"}, nil
	})
	putIntegration(t, store, "proj-1", "telegram")

	first, err := resolver.Resolve(ctx, "proj-1", "telegram")
	if err != nil || first == nil {
		t.Fatalf("Resolve: %v, %v", first, err)
	}
	second, _ := resolver.Resolve(ctx, "proj-1", "telegram")
	if builds != 1 || first != second {
		t.Errorf("builds = %d, want cached adapter", builds)
	}

	// A config update produces a new UpdatedAt and a fresh adapter.
	time.Sleep(time.Millisecond)
	putIntegration(t, store, "proj-1", "telegram")
	resolver.Resolve(ctx, "proj-1", "telegram")
	if builds != 2 {
		t.Errorf("builds after update = %d, want 2", builds)
	}
}

func TestResolveMissingIntegration(t *testing.T) {
	resolver := NewResolver(NewMemoryIntegrationStore(), stubSecrets{}, nil)
	adapter, err := resolver.Resolve(context.Background(), "proj-1", "telegram")
	if err != nil || adapter != nil {
		t.Errorf("Resolve = %v, %v, want nil, nil", adapter, err)
	}
}

func TestResolveDisabledIntegration(t *testing.T) {
	store := NewMemoryIntegrationStore()
	resolver := NewResolver(store, stubSecrets{}, nil)
	ci := putIntegration(t, store, "proj-1", "telegram")
	ci.Status = models.IntegrationDisabled
	store.Put(context.Background(), ci)

	adapter, err := resolver.Resolve(context.Background(), "proj-1", "telegram")
	if err != nil || adapter != nil {
		t.Errorf("disabled integration must resolve to nil, got %v, %v", adapter, err)
	}
}

func TestResolveUnregisteredProvider(t *testing.T) {
	store := NewMemoryIntegrationStore()
	resolver := NewResolver(store, stubSecrets{}, nil)
	putIntegration(t, store, "proj-1", "whatsapp")

	_, err := resolver.Resolve(context.Background(), "proj-1", "whatsapp")
	if fault.CodeOf(err) != fault.CodeConfig {
		t.Errorf("err = %v, want CONFIG_ERROR", err)
	}
}

func TestInvalidateForcesRebuild(t *testing.T) {
	store := NewMemoryIntegrationStore()
	resolver := NewResolver(store, stubSecrets{}, nil)
	ctx := context.Background()

	builds := 0
	resolver.Register("slack", func(ctx context.Context, ci *models.ChannelIntegration, secrets SecretGetter) (Adapter, error) {
		builds++
		return &stubAdapter{provider: "slack"}, nil
	})
	putIntegration(t, store, "proj-1", "slack")

	resolver.Resolve(ctx, "proj-1", "slack")
	resolver.Invalidate("proj-1", "slack")
	resolver.Resolve(ctx, "proj-1", "slack")
	if builds != 2 {
		t.Errorf("builds = %d, want rebuild after invalidate", builds)
	}
}

func TestStripHandoff(t *testing.T) {
	tests := []struct {
		in       string
		wantText string
		wantFlag bool
	}{
		{"All set! [HANDOFF]", "All set!", true},
		{"[HANDOFF] escalating", "escalating", true},
		{"No marker here", "No marker here", false},
	}
	for _, tt := range tests {
		got, flag := StripHandoff(tt.in)
		if got != tt.wantText || flag != tt.wantFlag {
			t.Errorf("StripHandoff(%q) = %q, %v", tt.in, got, flag)
		}
	}
}

func TestWantsEscalation(t *testing.T) {
	if !WantsEscalation("I want to TALK TO A HUMAN now") {
		t.Error("explicit escalation request not detected")
	}
	if WantsEscalation("what are your opening hours?") {
		t.Error("ordinary question misdetected as escalation")
	}
}
