package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/grcflow/llm-gateway/internal/observability"
)

// Service is the single entry point for LLM invocation. It owns one failover
// orchestrator and one monitoring sink; build it once at startup and inject
// it wherever generation is needed.
type Service struct {
	failover   *Failover
	monitoring *Monitoring
	logger     *zap.Logger
}

// NewService creates a service over the given adapters. Callers must Close it.
func NewService(adapters map[Provider]Adapter, logger *zap.Logger) *Service {
	return &Service{
		failover:   NewFailover(adapters, logger),
		monitoring: NewMonitoring(logger),
		logger:     logger,
	}
}

// Close stops the background health probe.
func (s *Service) Close() {
	s.failover.Close()
}

// ExecuteText runs a text generation task. Every call is recorded: completed
// envelopes through RecordCall, terminal failures through RecordFailure
// against the routed primary.
func (s *Service) ExecuteText(ctx context.Context, task Task) (resp *Response, err error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	route := RouteTask(task.TaskType, task.ForceProvider)

	defer func() {
		s.record(task.TaskType, route.Primary, resp, err)
	}()

	resp, err = s.failover.ExecuteText(ctx, task)
	return resp, err
}

// ExecuteStructured runs a structured generation task; see ExecuteText.
func (s *Service) ExecuteStructured(ctx context.Context, task Task, schema map[string]interface{}, out interface{}) (resp *Response, err error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	route := RouteTask(task.TaskType, task.ForceProvider)

	defer func() {
		s.record(task.TaskType, route.Primary, resp, err)
	}()

	resp, err = s.failover.ExecuteStructured(ctx, task, schema, out)
	return resp, err
}

func (s *Service) record(taskType TaskType, primary Provider, resp *Response, err error) {
	if err != nil {
		s.monitoring.RecordFailure(taskType, primary)
		s.logger.Error("llm task failed on all providers",
			zap.String("task_type", string(taskType)),
			zap.String("primary", string(primary)),
			zap.Error(err))
	} else {
		s.monitoring.RecordCall(taskType, resp)
		s.logger.Info("llm task completed",
			zap.String("task_type", string(taskType)),
			zap.String("provider", string(resp.Provider)),
			zap.Bool("used_fallback", resp.UsedFallback),
			zap.Int64("latency_ms", resp.LatencyMs),
			zap.Float64("cost_usd", resp.Usage.Cost))
	}

	s.syncHealthGauges()
}

// syncHealthGauges mirrors the failover health map into Prometheus.
func (s *Service) syncHealthGauges() {
	for _, h := range s.failover.HealthStatus() {
		healthy := 0.0
		if h.Healthy {
			healthy = 1.0
		}
		observability.ProviderHealthy.WithLabelValues(string(h.Provider)).Set(healthy)
		observability.ProviderErrorRate.WithLabelValues(string(h.Provider)).Set(h.ErrorRate)
	}
}

// EstimateCost prices a hypothetical call: it routes the task type and
// applies the primary provider's rates.
func (s *Service) EstimateCost(taskType TaskType, inputTokens, outputTokens int) float64 {
	route := RouteTask(taskType, "")
	return EstimateCost(route.Primary, inputTokens, outputTokens)
}

// HealthStatus reports every provider's rolling health.
func (s *Service) HealthStatus() []ProviderHealth {
	return s.failover.HealthStatus()
}

// TaskMetrics returns the per task type aggregates.
func (s *Service) TaskMetrics() []TaskMetrics {
	return s.monitoring.TaskMetricsSnapshot()
}

// ProviderMetrics returns the per provider aggregates.
func (s *Service) ProviderMetrics() []ProviderMetrics {
	return s.monitoring.ProviderMetricsSnapshot()
}

// CostBreakdownFor reports spend between start and end.
func (s *Service) CostBreakdownFor(start, end time.Time) CostBreakdown {
	return s.monitoring.CostBreakdownFor(start, end)
}

// CostOptimizationSuggestions returns human-readable saving hints.
func (s *Service) CostOptimizationSuggestions() []string {
	return s.monitoring.CostOptimizationSuggestions()
}

// ResetMetrics clears the monitoring aggregates.
func (s *Service) ResetMetrics() {
	s.monitoring.Reset()
}

// GenerateText is a convenience helper for the common text case.
func GenerateText(ctx context.Context, svc *Service, taskType TaskType, prompt string) (string, error) {
	resp, err := svc.ExecuteText(ctx, Task{TaskType: taskType, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Result, nil
}

// GenerateStructured is a convenience helper for the common structured case.
func GenerateStructured(ctx context.Context, svc *Service, taskType TaskType, prompt string, schema map[string]interface{}, out interface{}) error {
	_, err := svc.ExecuteStructured(ctx, Task{TaskType: taskType, Prompt: prompt}, schema, out)
	return err
}
