package runner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/loomhq/loom/internal/metrics"
	"github.com/loomhq/loom/internal/provider/mock"
	"github.com/loomhq/loom/internal/trace"
	"github.com/loomhq/loom/pkg/models"
)

func TestRunReportsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	p := mock.New(
		mock.Turn{
			ToolCalls: []models.ToolCall{{
				ID: "t1", Name: "get_weather", Input: json.RawMessage(`{"location":"NYC"}`),
			}},
			Usage: models.TokenUsage{InputTokens: 10, OutputTokens: 5},
		},
		mock.Turn{
			Text:  "It is sunny in NYC.",
			Usage: models.TokenUsage{InputTokens: 7, OutputTokens: 3},
		},
	)
	r := New(Config{Provider: p, Registry: weatherRegistry(t), Traces: trace.NewMemoryStore(), Metrics: m})

	_, err := r.Run(context.Background(), &Input{
		ProjectID:   "p1",
		SessionID:   "s1",
		Message:     "Weather in NYC?",
		AgentConfig: baseConfig("get_weather"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ToFloat64(m.AgentRunCounter.WithLabelValues("p1", string(models.TraceCompleted))); got != 1 {
		t.Errorf("agent runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("get_weather", "success")); got != 1 {
		t.Errorf("tool executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("mock", "mock-model", "input")); got != 17 {
		t.Errorf("input tokens = %v, want 17", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("mock", "mock-model", "output")); got != 8 {
		t.Errorf("output tokens = %v, want 8", got)
	}
}
