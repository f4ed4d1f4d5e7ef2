package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultProbeInterval = 5 * time.Minute

// Failover executes tasks against the routed primary provider and falls back
// to the secondary when the primary exhausts its retries. It also maintains
// the rolling health estimate for every registered provider.
type Failover struct {
	adapters map[Provider]Adapter
	logger   *zap.Logger

	mu     sync.Mutex
	health map[Provider]*ProviderHealth

	probeInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewFailover creates a failover orchestrator over the given adapters and
// starts the background health probe. Callers must Close it.
func NewFailover(adapters map[Provider]Adapter, logger *zap.Logger) *Failover {
	f := &Failover{
		adapters:      adapters,
		logger:        logger,
		health:        make(map[Provider]*ProviderHealth, len(adapters)),
		probeInterval: defaultProbeInterval,
		stopCh:        make(chan struct{}),
	}

	now := time.Now().UTC()
	for provider := range adapters {
		f.health[provider] = &ProviderHealth{
			Provider:  provider,
			Healthy:   true,
			LastCheck: now,
		}
	}

	f.wg.Add(1)
	go f.probeLoop()

	return f
}

// Close stops the background health probe.
func (f *Failover) Close() {
	f.stopOnce.Do(func() {
		close(f.stopCh)
	})
	f.wg.Wait()
}

// ExecuteText runs a text generation task with failover.
func (f *Failover) ExecuteText(ctx context.Context, task Task) (*Response, error) {
	return f.execute(ctx, task, func(ctx context.Context, adapter Adapter) (*Response, error) {
		return adapter.GenerateText(ctx, task)
	})
}

// ExecuteStructured runs a structured generation task with failover.
func (f *Failover) ExecuteStructured(ctx context.Context, task Task, schema map[string]interface{}, out interface{}) (*Response, error) {
	return f.execute(ctx, task, func(ctx context.Context, adapter Adapter) (*Response, error) {
		return adapter.GenerateStructured(ctx, task, schema, out)
	})
}

// execute routes the task and tries primary then fallback. Health is
// advisory: an unhealthy provider is still attempted when routed to.
func (f *Failover) execute(ctx context.Context, task Task, call func(context.Context, Adapter) (*Response, error)) (*Response, error) {
	route := RouteTask(task.TaskType, task.ForceProvider)

	resp, primaryErr := f.tryProvider(ctx, route.Primary, call)
	if primaryErr == nil {
		return resp, nil
	}

	f.logger.Warn("primary provider failed, trying fallback",
		zap.String("task_type", string(task.TaskType)),
		zap.String("primary", string(route.Primary)),
		zap.String("fallback", string(route.Fallback)),
		zap.Error(primaryErr))

	resp, fallbackErr := f.tryProvider(ctx, route.Fallback, call)
	if fallbackErr == nil {
		resp.UsedFallback = true
		return resp, nil
	}

	return nil, fmt.Errorf("all providers failed for task %s: %s: %v; %s (fallback): %v",
		task.TaskType, route.Primary, primaryErr, route.Fallback, fallbackErr)
}

func (f *Failover) tryProvider(ctx context.Context, provider Provider, call func(context.Context, Adapter) (*Response, error)) (*Response, error) {
	adapter, ok := f.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", provider)
	}

	resp, err := call(ctx, adapter)
	if err != nil {
		f.recordFailure(provider)
		return nil, err
	}

	f.recordSuccess(provider, float64(resp.LatencyMs))
	return resp, nil
}

// recordSuccess updates the rolling latency average and decays the error rate.
func (f *Failover) recordSuccess(provider Provider, latencyMs float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.health[provider]
	if !ok {
		return
	}

	h.AvgLatency = 0.9*h.AvgLatency + 0.1*latencyMs
	h.ErrorRate *= 0.95
	h.Healthy = h.ErrorRate < 0.05
}

// recordFailure bumps the error rate, capped at 1.
func (f *Failover) recordFailure(provider Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.health[provider]
	if !ok {
		return
	}

	h.ErrorRate += 0.1
	if h.ErrorRate > 1 {
		h.ErrorRate = 1
	}
	h.Healthy = h.ErrorRate < 0.05
}

// HealthStatus returns a snapshot of every provider's health, ordered by
// provider name.
func (f *Failover) HealthStatus() []ProviderHealth {
	f.mu.Lock()
	defer f.mu.Unlock()

	statuses := make([]ProviderHealth, 0, len(f.health))
	for _, h := range f.health {
		statuses = append(statuses, *h)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Provider < statuses[j].Provider
	})

	return statuses
}

func (f *Failover) probeLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.probeAll()
		case <-f.stopCh:
			return
		}
	}
}

// probeAll refreshes Healthy and LastCheck for every provider via a live
// health-check call.
func (f *Failover) probeAll() {
	for provider, adapter := range f.adapters {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		ok := adapter.HealthCheck(ctx)
		cancel()

		f.mu.Lock()
		if h, exists := f.health[provider]; exists {
			h.Healthy = ok && h.ErrorRate < 0.05
			h.LastCheck = time.Now().UTC()
		}
		f.mu.Unlock()

		if !ok {
			f.logger.Warn("provider health check failed", zap.String("provider", string(provider)))
		}
	}
}
