package llm

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grcflow/llm-gateway/internal/observability"
)

// MaxRecentCalls bounds the windowed call buffer.
const MaxRecentCalls = 1000

const (
	// costPerCallThreshold is the average spend above which a task type is
	// flagged for a cheaper tier.
	costPerCallThreshold = 0.01

	// errorRateThreshold is the failure share above which a provider is
	// flagged for review.
	errorRateThreshold = 0.10
)

// TaskMetrics aggregates completed calls for one (task type, provider) pair.
type TaskMetrics struct {
	TaskType      TaskType `json:"task_type"`
	Provider      Provider `json:"provider"`
	TotalCalls    int      `json:"total_calls"`
	TotalTokens   int      `json:"total_tokens"`
	TotalCost     float64  `json:"total_cost"`
	AvgLatencyMs  float64  `json:"avg_latency_ms"`
	FallbackCalls int      `json:"fallback_calls"`
}

// ProviderMetrics aggregates outcomes per provider, including terminal
// failures that produced no response envelope.
type ProviderMetrics struct {
	Provider     Provider `json:"provider"`
	TotalCalls   int      `json:"total_calls"`
	SuccessCalls int      `json:"success_calls"`
	ErrorCalls   int      `json:"error_calls"`
	TotalTokens  int      `json:"total_tokens"`
	TotalCost    float64  `json:"total_cost"`
	AvgLatencyMs float64  `json:"avg_latency_ms"`
	ErrorRate    float64  `json:"error_rate"`
}

// CostBreakdown summarizes spend over a time window. ByProvider and Total
// come from the windowed buffer; ByTaskType is cumulative since the last
// reset and may cover a longer horizon than the requested window.
type CostBreakdown struct {
	Total      float64              `json:"total"`
	ByProvider map[Provider]float64 `json:"by_provider"`
	ByTaskType map[TaskType]float64 `json:"by_task_type"`
}

// recordedCall is one entry in the windowed buffer.
type recordedCall struct {
	Timestamp    time.Time
	TaskType     TaskType
	Provider     Provider
	TotalTokens  int
	Cost         float64
	LatencyMs    int64
	UsedFallback bool
}

type taskKey struct {
	taskType TaskType
	provider Provider
}

// Monitoring accumulates in-memory usage aggregates and mirrors them into
// Prometheus. Recording never fails and never blocks the caller path beyond
// a short mutex hold.
type Monitoring struct {
	logger *zap.Logger

	mu              sync.Mutex
	taskMetrics     map[taskKey]*TaskMetrics
	providerMetrics map[Provider]*ProviderMetrics
	recentCalls     []recordedCall
}

// NewMonitoring creates an empty monitoring sink.
func NewMonitoring(logger *zap.Logger) *Monitoring {
	return &Monitoring{
		logger:          logger,
		taskMetrics:     make(map[taskKey]*TaskMetrics),
		providerMetrics: make(map[Provider]*ProviderMetrics),
		recentCalls:     make([]recordedCall, 0, MaxRecentCalls),
	}
}

// RecordCall records a completed call envelope.
func (m *Monitoring) RecordCall(taskType TaskType, resp *Response) {
	if resp == nil {
		return
	}

	m.mu.Lock()

	tm := m.taskMetricsLocked(taskType, resp.Provider)
	tm.TotalCalls++
	tm.TotalTokens += resp.Usage.TotalTokens
	tm.TotalCost += resp.Usage.Cost
	tm.AvgLatencyMs = incrementalMean(tm.AvgLatencyMs, tm.TotalCalls, float64(resp.LatencyMs))
	if resp.UsedFallback {
		tm.FallbackCalls++
	}

	pm := m.providerMetricsLocked(resp.Provider)
	pm.TotalCalls++
	pm.SuccessCalls++
	pm.TotalTokens += resp.Usage.TotalTokens
	pm.TotalCost += resp.Usage.Cost
	pm.AvgLatencyMs = incrementalMean(pm.AvgLatencyMs, pm.SuccessCalls, float64(resp.LatencyMs))
	pm.ErrorRate = float64(pm.ErrorCalls) / float64(pm.TotalCalls)

	m.recentCalls = append(m.recentCalls, recordedCall{
		Timestamp:    resp.Timestamp,
		TaskType:     taskType,
		Provider:     resp.Provider,
		TotalTokens:  resp.Usage.TotalTokens,
		Cost:         resp.Usage.Cost,
		LatencyMs:    resp.LatencyMs,
		UsedFallback: resp.UsedFallback,
	})
	if len(m.recentCalls) > MaxRecentCalls {
		m.recentCalls = m.recentCalls[len(m.recentCalls)-MaxRecentCalls:]
	}

	m.mu.Unlock()

	observability.LLMCallsTotal.WithLabelValues(
		string(taskType), string(resp.Provider), strconv.FormatBool(resp.UsedFallback)).Inc()
	observability.LLMLatencySeconds.WithLabelValues(
		string(taskType), string(resp.Provider)).Observe(float64(resp.LatencyMs) / 1000)
	observability.LLMTokensTotal.WithLabelValues(string(resp.Provider), "input").Add(float64(resp.Usage.InputTokens))
	observability.LLMTokensTotal.WithLabelValues(string(resp.Provider), "output").Add(float64(resp.Usage.OutputTokens))
	observability.LLMCostUSDTotal.WithLabelValues(string(resp.Provider)).Add(resp.Usage.Cost)
}

// RecordFailure records a call that produced no envelope at all: both the
// primary and fallback provider failed. The provider is the routed primary.
func (m *Monitoring) RecordFailure(taskType TaskType, provider Provider) {
	m.mu.Lock()

	pm := m.providerMetricsLocked(provider)
	pm.TotalCalls++
	pm.ErrorCalls++
	pm.ErrorRate = float64(pm.ErrorCalls) / float64(pm.TotalCalls)

	m.mu.Unlock()

	observability.LLMFailuresTotal.WithLabelValues(string(taskType), string(provider)).Inc()
}

// TaskMetricsSnapshot returns all task aggregates, ordered for stable output.
func (m *Monitoring) TaskMetricsSnapshot() []TaskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TaskMetrics, 0, len(m.taskMetrics))
	for _, tm := range m.taskMetrics {
		out = append(out, *tm)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskType != out[j].TaskType {
			return out[i].TaskType < out[j].TaskType
		}
		return out[i].Provider < out[j].Provider
	})

	return out
}

// ProviderMetricsSnapshot returns all provider aggregates, ordered by name.
func (m *Monitoring) ProviderMetricsSnapshot() []ProviderMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ProviderMetrics, 0, len(m.providerMetrics))
	for _, pm := range m.providerMetrics {
		out = append(out, *pm)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Provider < out[j].Provider
	})

	return out
}

// CostBreakdownFor reports spend between start and end (inclusive).
func (m *Monitoring) CostBreakdownFor(start, end time.Time) CostBreakdown {
	m.mu.Lock()
	defer m.mu.Unlock()

	breakdown := CostBreakdown{
		ByProvider: make(map[Provider]float64),
		ByTaskType: make(map[TaskType]float64),
	}

	for _, call := range m.recentCalls {
		if call.Timestamp.Before(start) || call.Timestamp.After(end) {
			continue
		}
		breakdown.Total += call.Cost
		breakdown.ByProvider[call.Provider] += call.Cost
	}

	for _, tm := range m.taskMetrics {
		breakdown.ByTaskType[tm.TaskType] += tm.TotalCost
	}

	return breakdown
}

// CostOptimizationSuggestions flags task types that average more than one
// cent per call on a non-cheapest tier, and providers whose failure share
// exceeds ten percent.
func (m *Monitoring) CostOptimizationSuggestions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var suggestions []string

	taskOrder := make([]TaskMetrics, 0, len(m.taskMetrics))
	for _, tm := range m.taskMetrics {
		taskOrder = append(taskOrder, *tm)
	}
	sort.Slice(taskOrder, func(i, j int) bool {
		if taskOrder[i].TaskType != taskOrder[j].TaskType {
			return taskOrder[i].TaskType < taskOrder[j].TaskType
		}
		return taskOrder[i].Provider < taskOrder[j].Provider
	})

	for _, tm := range taskOrder {
		if tm.TotalCalls == 0 || tm.Provider == CheapestProvider() {
			continue
		}
		costPerCall := tm.TotalCost / float64(tm.TotalCalls)
		if costPerCall > costPerCallThreshold {
			suggestions = append(suggestions, fmt.Sprintf(
				"Task type %q averages $%.4f per call on %s; consider routing to %s",
				tm.TaskType, costPerCall, tm.Provider, CheapestProvider()))
		}
	}

	providerOrder := make([]ProviderMetrics, 0, len(m.providerMetrics))
	for _, pm := range m.providerMetrics {
		providerOrder = append(providerOrder, *pm)
	}
	sort.Slice(providerOrder, func(i, j int) bool {
		return providerOrder[i].Provider < providerOrder[j].Provider
	})

	for _, pm := range providerOrder {
		if pm.TotalCalls > 0 && pm.ErrorRate > errorRateThreshold {
			suggestions = append(suggestions, fmt.Sprintf(
				"Provider %s has a %.0f%% error rate over %d calls; review its health",
				pm.Provider, pm.ErrorRate*100, pm.TotalCalls))
		}
	}

	return suggestions
}

// Reset clears all aggregates and the windowed buffer.
func (m *Monitoring) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.taskMetrics = make(map[taskKey]*TaskMetrics)
	m.providerMetrics = make(map[Provider]*ProviderMetrics)
	m.recentCalls = m.recentCalls[:0]

	m.logger.Info("monitoring metrics reset")
}

func (m *Monitoring) taskMetricsLocked(taskType TaskType, provider Provider) *TaskMetrics {
	key := taskKey{taskType: taskType, provider: provider}
	tm, ok := m.taskMetrics[key]
	if !ok {
		tm = &TaskMetrics{TaskType: taskType, Provider: provider}
		m.taskMetrics[key] = tm
	}
	return tm
}

func (m *Monitoring) providerMetricsLocked(provider Provider) *ProviderMetrics {
	pm, ok := m.providerMetrics[provider]
	if !ok {
		pm = &ProviderMetrics{Provider: provider}
		m.providerMetrics[provider] = pm
	}
	return pm
}

// incrementalMean folds a new sample into a running mean of n samples,
// where n already includes the new sample.
func incrementalMean(oldMean float64, n int, sample float64) float64 {
	return (oldMean*float64(n-1) + sample) / float64(n)
}
