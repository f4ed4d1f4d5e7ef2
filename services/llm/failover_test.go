package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubAdapter is a controllable in-memory adapter.
type stubAdapter struct {
	provider  Provider
	err       error
	result    string
	latencyMs int64
	healthy   bool

	textCalls       int
	structuredCalls int
	healthCalls     int
}

func (s *stubAdapter) GenerateText(ctx context.Context, task Task) (*Response, error) {
	s.textCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.response(), nil
}

func (s *stubAdapter) GenerateStructured(ctx context.Context, task Task, schema map[string]interface{}, out interface{}) (*Response, error) {
	s.structuredCalls++
	if s.err != nil {
		return nil, s.err
	}
	if out != nil {
		if err := json.Unmarshal([]byte(s.result), out); err != nil {
			return nil, err
		}
	}
	return s.response(), nil
}

func (s *stubAdapter) HealthCheck(ctx context.Context) bool {
	s.healthCalls++
	return s.healthy
}

func (s *stubAdapter) Name() string {
	return string(s.provider)
}

func (s *stubAdapter) response() *Response {
	return &Response{
		Result:    s.result,
		Provider:  s.provider,
		Model:     "stub-model",
		Usage:     TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, Cost: 0.001},
		LatencyMs: s.latencyMs,
		Timestamp: time.Now().UTC(),
	}
}

func newTestFailover(t *testing.T, adapters map[Provider]Adapter) *Failover {
	t.Helper()
	f := NewFailover(adapters, zap.NewNop())
	t.Cleanup(f.Close)
	return f
}

func TestFailover_PrimarySucceeds(t *testing.T) {
	primary := &stubAdapter{provider: GeminiFlashLite, result: "primary answer", healthy: true}
	fallback := &stubAdapter{provider: GeminiFlash, result: "fallback answer", healthy: true}

	f := newTestFailover(t, map[Provider]Adapter{
		GeminiFlashLite: primary,
		GeminiFlash:     fallback,
	})

	resp, err := f.ExecuteText(context.Background(), Task{TaskType: TaskFastAgentic, Prompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "primary answer", resp.Result)
	assert.False(t, resp.UsedFallback)
	assert.Equal(t, 1, primary.textCalls)
	assert.Zero(t, fallback.textCalls, "fallback must not be touched when primary succeeds")
}

func TestFailover_FallbackUsed(t *testing.T) {
	primary := &stubAdapter{provider: GeminiFlashLite, err: errors.New("quota exceeded"), healthy: true}
	fallback := &stubAdapter{provider: GeminiFlash, result: "fallback answer", healthy: true}

	f := newTestFailover(t, map[Provider]Adapter{
		GeminiFlashLite: primary,
		GeminiFlash:     fallback,
	})

	resp, err := f.ExecuteText(context.Background(), Task{TaskType: TaskFastAgentic, Prompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "fallback answer", resp.Result)
	assert.True(t, resp.UsedFallback)
	assert.Equal(t, 1, primary.textCalls)
	assert.Equal(t, 1, fallback.textCalls)
}

func TestFailover_DualFailureNamesBothProviders(t *testing.T) {
	primary := &stubAdapter{provider: GeminiPro, err: errors.New("pro is down")}
	fallback := &stubAdapter{provider: ClaudeSonnet, err: errors.New("claude is down")}

	f := newTestFailover(t, map[Provider]Adapter{
		GeminiPro:    primary,
		ClaudeSonnet: fallback,
	})

	_, err := f.ExecuteText(context.Background(), Task{TaskType: TaskComplexReasoning, Prompt: "analyze"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), string(GeminiPro))
	assert.Contains(t, err.Error(), string(ClaudeSonnet))
	assert.Contains(t, err.Error(), "pro is down")
	assert.Contains(t, err.Error(), "claude is down")
}

func TestFailover_ForcedProvider(t *testing.T) {
	claude := &stubAdapter{provider: ClaudeSonnet, result: "claude answer", healthy: true}
	flashLite := &stubAdapter{provider: GeminiFlashLite, result: "lite answer", healthy: true}

	f := newTestFailover(t, map[Provider]Adapter{
		ClaudeSonnet:    claude,
		GeminiFlashLite: flashLite,
	})

	resp, err := f.ExecuteText(context.Background(), Task{
		TaskType:      TaskFastAgentic,
		Prompt:        "hi",
		ForceProvider: ClaudeSonnet,
	})

	require.NoError(t, err)
	assert.Equal(t, "claude answer", resp.Result)
	assert.Equal(t, 1, claude.textCalls)
	assert.Zero(t, flashLite.textCalls)
}

func TestFailover_MissingAdapter(t *testing.T) {
	fallback := &stubAdapter{provider: GeminiFlash, result: "fallback answer", healthy: true}

	f := newTestFailover(t, map[Provider]Adapter{
		GeminiFlash: fallback,
	})

	// fast-agentic routes to flash-lite first, which is not registered; the
	// fallback still serves the call.
	resp, err := f.ExecuteText(context.Background(), Task{TaskType: TaskFastAgentic, Prompt: "hi"})

	require.NoError(t, err)
	assert.True(t, resp.UsedFallback)
}

func TestFailover_ExecuteStructured(t *testing.T) {
	primary := &stubAdapter{provider: ClaudeSonnet, result: `{"severity":"low"}`, healthy: true}
	fallback := &stubAdapter{provider: GeminiPro, result: `{"severity":"high"}`, healthy: true}

	f := newTestFailover(t, map[Provider]Adapter{
		ClaudeSonnet: primary,
		GeminiPro:    fallback,
	})

	var out struct {
		Severity string `json:"severity"`
	}

	resp, err := f.ExecuteStructured(context.Background(), Task{
		TaskType: TaskPolicyGeneration,
		Prompt:   "assess",
	}, map[string]interface{}{"type": "object"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "low", out.Severity)
	assert.False(t, resp.UsedFallback)
	assert.Equal(t, 1, primary.structuredCalls)
	assert.Zero(t, primary.textCalls)
}

func TestFailover_HealthDecayAndRecovery(t *testing.T) {
	adapter := &stubAdapter{provider: GeminiFlash, result: "ok", healthy: true, latencyMs: 100}

	f := newTestFailover(t, map[Provider]Adapter{GeminiFlash: adapter})

	health := func() ProviderHealth {
		for _, h := range f.HealthStatus() {
			if h.Provider == GeminiFlash {
				return h
			}
		}
		t.Fatal("provider health missing")
		return ProviderHealth{}
	}

	// One failure pushes the error rate to 0.1, above the 0.05 threshold.
	f.recordFailure(GeminiFlash)
	h := health()
	assert.InDelta(t, 0.1, h.ErrorRate, 1e-9)
	assert.False(t, h.Healthy)

	// Error rate never exceeds 1 regardless of failure count.
	for i := 0; i < 20; i++ {
		f.recordFailure(GeminiFlash)
	}
	assert.InDelta(t, 1.0, health().ErrorRate, 1e-9)

	// Each success multiplies the error rate by 0.95, strictly decreasing.
	prev := health().ErrorRate
	for i := 0; i < 60; i++ {
		f.recordSuccess(GeminiFlash, 100)
		cur := health().ErrorRate
		assert.Less(t, cur, prev)
		prev = cur
	}
	assert.True(t, health().Healthy, "error rate should decay below 0.05 after enough successes")
}

func TestFailover_LatencyEWMA(t *testing.T) {
	adapter := &stubAdapter{provider: GeminiPro, result: "ok", healthy: true}
	f := newTestFailover(t, map[Provider]Adapter{GeminiPro: adapter})

	f.recordSuccess(GeminiPro, 1000)

	var got float64
	for _, h := range f.HealthStatus() {
		if h.Provider == GeminiPro {
			got = h.AvgLatency
		}
	}
	assert.InDelta(t, 100, got, 1e-9, "first sample blends against a zero baseline")

	f.recordSuccess(GeminiPro, 1000)
	for _, h := range f.HealthStatus() {
		if h.Provider == GeminiPro {
			got = h.AvgLatency
		}
	}
	assert.InDelta(t, 190, got, 1e-9)
}

func TestFailover_ProbeRefreshesHealth(t *testing.T) {
	adapter := &stubAdapter{provider: ClaudeSonnet, result: "ok", healthy: false}
	f := newTestFailover(t, map[Provider]Adapter{ClaudeSonnet: adapter})

	before := f.HealthStatus()[0].LastCheck
	time.Sleep(5 * time.Millisecond)

	f.probeAll()

	h := f.HealthStatus()[0]
	assert.Equal(t, 1, adapter.healthCalls)
	assert.False(t, h.Healthy)
	assert.True(t, h.LastCheck.After(before))

	adapter.healthy = true
	f.probeAll()
	assert.True(t, f.HealthStatus()[0].Healthy)
}

func TestFailover_CloseIsIdempotent(t *testing.T) {
	f := NewFailover(map[Provider]Adapter{}, zap.NewNop())

	f.Close()
	f.Close()
}

func TestFailover_HealthStatusSorted(t *testing.T) {
	f := newTestFailover(t, map[Provider]Adapter{
		ClaudeSonnet:    &stubAdapter{provider: ClaudeSonnet},
		GeminiFlashLite: &stubAdapter{provider: GeminiFlashLite},
		GeminiPro:       &stubAdapter{provider: GeminiPro},
	})

	statuses := f.HealthStatus()
	require.Len(t, statuses, 3)
	for i := 1; i < len(statuses); i++ {
		assert.Less(t, string(statuses[i-1].Provider), string(statuses[i].Provider))
	}
}
