package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AgentRunCounter.WithLabelValues("proj-1", "completed").Inc()
	m.AgentRunCounter.WithLabelValues("proj-1", "completed").Inc()
	m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "input").Add(120)
	m.QueueDepth.WithLabelValues("webhooks").Set(3)

	if got := testutil.ToFloat64(m.AgentRunCounter.WithLabelValues("proj-1", "completed")); got != 2 {
		t.Errorf("agent runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("webhooks")); got != 3 {
		t.Errorf("queue depth = %v, want 3", got)
	}
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	// Two instances must be registerable as long as they use distinct
	// registries; a panic here means a collector leaked to the default one.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
