package llm

import (
	"context"
	"time"

	"github.com/grcflow/llm-gateway/utils"
)

// Provider identifies a (vendor, capability tier) pair the router can select.
type Provider string

const (
	// GeminiFlashLite is the cheapest, fastest Gemini tier.
	GeminiFlashLite Provider = "gemini-2.5-flash-lite"

	// GeminiFlash is the balanced Gemini tier with vision support.
	GeminiFlash Provider = "gemini-2.5-flash"

	// GeminiPro is the high-reasoning Gemini tier.
	GeminiPro Provider = "gemini-2.5-pro"

	// ClaudeSonnet is the Anthropic tier, strongest for long-form content.
	ClaudeSonnet Provider = "claude-sonnet-4-5"
)

// AllProviders returns every defined provider identity.
func AllProviders() []Provider {
	return []Provider{GeminiFlashLite, GeminiFlash, GeminiPro, ClaudeSonnet}
}

// TaskType classifies a request by shape and stakes; it drives routing.
type TaskType string

const (
	// TaskFastAgentic covers high-volume, low-stakes work (discovery, scanning).
	TaskFastAgentic TaskType = "fast-agentic"

	// TaskVision covers image-grounded work (screenshot analysis).
	TaskVision TaskType = "vision"

	// TaskComplexReasoning covers gap analysis and similar deep work.
	TaskComplexReasoning TaskType = "complex-reasoning"

	// TaskPolicyGeneration covers long-form document generation.
	TaskPolicyGeneration TaskType = "policy-generation"

	// TaskCodeAnalysis covers static code review.
	TaskCodeAnalysis TaskType = "code-analysis"

	// TaskConversational covers copilot-style chat.
	TaskConversational TaskType = "conversational"
)

// AllTaskTypes returns every defined task type.
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskFastAgentic,
		TaskVision,
		TaskComplexReasoning,
		TaskPolicyGeneration,
		TaskCodeAnalysis,
		TaskConversational,
	}
}

const (
	// DefaultTemperature is applied when a task does not set one.
	DefaultTemperature = 0.7

	// DefaultMaxTokens is applied when a task does not set a limit.
	DefaultMaxTokens = 4096
)

// Task is a single, immutable generation request. Created fresh per call;
// never persisted.
type Task struct {
	// TaskType selects the routing tier
	TaskType TaskType `json:"task_type" validate:"required,oneof=fast-agentic vision complex-reasoning policy-generation code-analysis conversational"`

	// Prompt is the user prompt
	Prompt string `json:"prompt" validate:"required,min=1"`

	// SystemPrompt is optional system instructions
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Temperature controls randomness (0.0 to 2.0); 0 means default
	Temperature float64 `json:"temperature,omitempty" validate:"gte=0,lte=2"`

	// MaxTokens limits the response length; 0 means default
	MaxTokens int `json:"max_tokens,omitempty" validate:"gte=0,lte=100000"`

	// ForceProvider overrides routing when set
	ForceProvider Provider `json:"force_provider,omitempty" validate:"omitempty,oneof=gemini-2.5-flash-lite gemini-2.5-flash gemini-2.5-pro claude-sonnet-4-5"`
}

// Validate checks the task against its field constraints.
func (t *Task) Validate() error {
	return utils.ValidateStruct(t)
}

// EffectiveTemperature returns the configured temperature or the default.
func (t *Task) EffectiveTemperature() float64 {
	if t.Temperature == 0 {
		return DefaultTemperature
	}
	return t.Temperature
}

// EffectiveMaxTokens returns the configured token limit or the default.
func (t *Task) EffectiveMaxTokens() int {
	if t.MaxTokens == 0 {
		return DefaultMaxTokens
	}
	return t.MaxTokens
}

// TokenUsage holds token counts and their derived cost in USD.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

// Response is the vendor-agnostic envelope returned for every completed call.
// Result holds the generated text; for structured calls it is the raw JSON
// the vendor produced, additionally decoded into the caller's target.
type Response struct {
	Result       string     `json:"result"`
	Provider     Provider   `json:"provider"`
	Model        string     `json:"model"`
	Usage        TokenUsage `json:"usage"`
	LatencyMs    int64      `json:"latency_ms"`
	UsedFallback bool       `json:"used_fallback"`
	Timestamp    time.Time  `json:"timestamp"`
}

// ProviderHealth is the rolling reliability estimate for one provider.
// Health is advisory only: an unhealthy provider is still attempted when
// routed to (observability, not a circuit breaker).
type ProviderHealth struct {
	Provider   Provider  `json:"provider"`
	Healthy    bool      `json:"healthy"`
	ErrorRate  float64   `json:"error_rate"`
	AvgLatency float64   `json:"avg_latency_ms"`
	LastCheck  time.Time `json:"last_check"`
}

// Adapter is the uniform call surface every vendor adapter implements.
// Adapters own model-name mapping, retries and per-attempt timeouts; they
// always return envelopes with UsedFallback=false (the failover layer flips
// it when it chose the fallback).
type Adapter interface {
	// GenerateText produces a free-text completion for the task.
	GenerateText(ctx context.Context, task Task) (*Response, error)

	// GenerateStructured produces JSON conforming to schema and decodes it
	// into out (a pointer). The envelope's Result holds the raw JSON.
	GenerateStructured(ctx context.Context, task Task, schema map[string]interface{}, out interface{}) (*Response, error)

	// HealthCheck issues a minimal generation call. It reports false on any
	// failure and never panics.
	HealthCheck(ctx context.Context) bool

	// Name returns the adapter name for logging.
	Name() string
}
