package llm

import "fmt"

// Route is an ordered primary/fallback provider pair for one task type.
type Route struct {
	Primary  Provider `json:"primary"`
	Fallback Provider `json:"fallback"`
}

// taskRouting maps every task type to its cost/capability tier. Each fallback
// is a different vendor or tier than its primary, so a single outage never
// blocks a category.
var taskRouting = map[TaskType]Route{
	TaskFastAgentic:      {Primary: GeminiFlashLite, Fallback: GeminiFlash},
	TaskVision:           {Primary: GeminiFlash, Fallback: ClaudeSonnet},
	TaskComplexReasoning: {Primary: GeminiPro, Fallback: ClaudeSonnet},
	TaskPolicyGeneration: {Primary: ClaudeSonnet, Fallback: GeminiPro},
	TaskCodeAnalysis:     {Primary: GeminiPro, Fallback: ClaudeSonnet},
	TaskConversational:   {Primary: GeminiFlash, Fallback: GeminiFlashLite},
}

// providerPricing is the static USD price table per million tokens.
var providerPricing = map[Provider]struct {
	Input  float64
	Output float64
}{
	GeminiFlashLite: {Input: 0.10, Output: 0.40},
	GeminiFlash:     {Input: 0.30, Output: 2.50},
	GeminiPro:       {Input: 1.25, Output: 10.0},
	ClaudeSonnet:    {Input: 3.0, Output: 15.0},
}

// RouteTask returns the primary/fallback pair for a task type. When force is
// set it becomes the primary and the category's natural primary becomes the
// fallback, so a forced call keeps the category's own safety net. If force
// equals the natural primary the natural fallback is kept instead, preserving
// primary != fallback.
func RouteTask(taskType TaskType, force Provider) Route {
	route, ok := taskRouting[taskType]
	if !ok {
		panic(fmt.Sprintf("llm: no route defined for task type %q", taskType))
	}

	if force != "" {
		fallback := route.Primary
		if force == route.Primary {
			fallback = route.Fallback
		}
		return Route{Primary: force, Fallback: fallback}
	}

	return route
}

// EstimateCost computes the USD cost of a call from token counts and the
// static price table. Zero tokens cost zero; there is no minimum charge.
// An unknown provider is a programming error and panics.
func EstimateCost(provider Provider, inputTokens, outputTokens int) float64 {
	pricing, ok := providerPricing[provider]
	if !ok {
		panic(fmt.Sprintf("llm: no pricing defined for provider %q", provider))
	}

	inputCost := float64(inputTokens) / 1_000_000 * pricing.Input
	outputCost := float64(outputTokens) / 1_000_000 * pricing.Output

	return inputCost + outputCost
}

// CheapestProvider returns the tier with the lowest input price, used by the
// cost-optimization suggestions.
func CheapestProvider() Provider {
	return GeminiFlashLite
}
