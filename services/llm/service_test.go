package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, adapters map[Provider]Adapter) *Service {
	t.Helper()
	svc := NewService(adapters, zap.NewNop())
	t.Cleanup(svc.Close)
	return svc
}

func allStubAdapters() (map[Provider]Adapter, map[Provider]*stubAdapter) {
	stubs := make(map[Provider]*stubAdapter)
	adapters := make(map[Provider]Adapter)
	for _, p := range AllProviders() {
		s := &stubAdapter{provider: p, result: "ok", healthy: true, latencyMs: 100}
		stubs[p] = s
		adapters[p] = s
	}
	return adapters, stubs
}

func TestService_ExecuteTextRecordsMetrics(t *testing.T) {
	adapters, _ := allStubAdapters()
	svc := newTestService(t, adapters)

	resp, err := svc.ExecuteText(context.Background(), Task{TaskType: TaskFastAgentic, Prompt: "scan"})

	require.NoError(t, err)
	assert.Equal(t, GeminiFlashLite, resp.Provider)

	tasks := svc.TaskMetrics()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskFastAgentic, tasks[0].TaskType)
	assert.Equal(t, 1, tasks[0].TotalCalls)
}

func TestService_ExecuteTextValidation(t *testing.T) {
	adapters, stubs := allStubAdapters()
	svc := newTestService(t, adapters)

	tests := []struct {
		name string
		task Task
	}{
		{"missing prompt", Task{TaskType: TaskFastAgentic}},
		{"unknown task type", Task{TaskType: "telepathy", Prompt: "hi"}},
		{"temperature too high", Task{TaskType: TaskFastAgentic, Prompt: "hi", Temperature: 3}},
		{"unknown forced provider", Task{TaskType: TaskFastAgentic, Prompt: "hi", ForceProvider: "gpt-4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ExecuteText(context.Background(), tt.task)
			assert.Error(t, err)
		})
	}

	for _, s := range stubs {
		assert.Zero(t, s.textCalls, "invalid tasks must never reach an adapter")
	}
	assert.Empty(t, svc.TaskMetrics(), "invalid tasks are not recorded")
}

func TestService_TerminalFailureRecorded(t *testing.T) {
	adapters, stubs := allStubAdapters()
	stubs[GeminiPro].err = errors.New("down")
	stubs[ClaudeSonnet].err = errors.New("also down")
	svc := newTestService(t, adapters)

	_, err := svc.ExecuteText(context.Background(), Task{TaskType: TaskComplexReasoning, Prompt: "think"})
	require.Error(t, err)

	providers := svc.ProviderMetrics()
	require.Len(t, providers, 1)
	assert.Equal(t, GeminiPro, providers[0].Provider, "terminal failure is charged to the routed primary")
	assert.Equal(t, 1, providers[0].ErrorCalls)
}

func TestService_ExecuteStructured(t *testing.T) {
	adapters, stubs := allStubAdapters()
	stubs[ClaudeSonnet].result = `{"title":"Access Policy"}`
	svc := newTestService(t, adapters)

	var out struct {
		Title string `json:"title"`
	}

	resp, err := svc.ExecuteStructured(context.Background(), Task{
		TaskType: TaskPolicyGeneration,
		Prompt:   "draft",
	}, map[string]interface{}{"type": "object"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "Access Policy", out.Title)
	assert.Equal(t, ClaudeSonnet, resp.Provider)
}

func TestService_EstimateCost(t *testing.T) {
	adapters, _ := allStubAdapters()
	svc := newTestService(t, adapters)

	// policy-generation routes to claude.
	want := EstimateCost(ClaudeSonnet, 10_000, 2_000)
	assert.InDelta(t, want, svc.EstimateCost(TaskPolicyGeneration, 10_000, 2_000), 1e-12)

	// fast-agentic routes to the cheapest tier.
	want = EstimateCost(GeminiFlashLite, 10_000, 2_000)
	assert.InDelta(t, want, svc.EstimateCost(TaskFastAgentic, 10_000, 2_000), 1e-12)
}

func TestService_HealthStatus(t *testing.T) {
	adapters, _ := allStubAdapters()
	svc := newTestService(t, adapters)

	statuses := svc.HealthStatus()
	require.Len(t, statuses, len(AllProviders()))
	for _, h := range statuses {
		assert.True(t, h.Healthy)
	}
}

func TestService_ResetMetrics(t *testing.T) {
	adapters, _ := allStubAdapters()
	svc := newTestService(t, adapters)

	_, err := svc.ExecuteText(context.Background(), Task{TaskType: TaskConversational, Prompt: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, svc.TaskMetrics())

	svc.ResetMetrics()
	assert.Empty(t, svc.TaskMetrics())
	assert.Empty(t, svc.ProviderMetrics())
}

func TestGenerateHelpers(t *testing.T) {
	adapters, stubs := allStubAdapters()
	stubs[GeminiFlash].result = `{"summary":"fine"}`
	svc := newTestService(t, adapters)

	text, err := GenerateText(context.Background(), svc, TaskConversational, "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"fine"}`, text)

	var out struct {
		Summary string `json:"summary"`
	}
	err = GenerateStructured(context.Background(), svc, TaskVision, "describe", map[string]interface{}{"type": "object"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "fine", out.Summary)
}

func TestService_CostBreakdownThroughFacade(t *testing.T) {
	adapters, _ := allStubAdapters()
	svc := newTestService(t, adapters)

	_, err := svc.ExecuteText(context.Background(), Task{TaskType: TaskFastAgentic, Prompt: "a"})
	require.NoError(t, err)

	breakdown := svc.CostBreakdownFor(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	assert.InDelta(t, 0.001, breakdown.Total, 1e-12, "stub cost per call")
}
