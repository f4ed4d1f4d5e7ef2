package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/grcflow/llm-gateway/services/llm"
	"github.com/grcflow/llm-gateway/services/llm/providers"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	modelName      = "claude-sonnet-4-5-20250929"
)

// Adapter calls the Anthropic Messages API for the Claude tier.
type Adapter struct {
	config     providers.Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates an Anthropic adapter.
func New(config providers.Config, logger *zap.Logger) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &Adapter{
		config:     config,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "anthropic"
}

// GenerateText performs a free-text generation request
func (a *Adapter) GenerateText(ctx context.Context, task llm.Task) (*llm.Response, error) {
	return a.generate(ctx, "anthropic.GenerateText", task, nil, nil)
}

// GenerateStructured instructs the model to emit JSON matching schema and
// decodes the result into out. The Messages API has no native schema mode,
// so the schema is inlined into the system prompt.
func (a *Adapter) GenerateStructured(ctx context.Context, task llm.Task, schema map[string]interface{}, out interface{}) (*llm.Response, error) {
	return a.generate(ctx, "anthropic.GenerateStructured", task, schema, out)
}

// HealthCheck issues a minimal generation call
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	cfg := a.config
	cfg.MaxRetries = 1

	req := a.buildRequest(llm.Task{Prompt: "ping", MaxTokens: 10, Temperature: llm.DefaultTemperature}, nil)

	err := providers.WithRetry(ctx, cfg, "anthropic.HealthCheck", func(ctx context.Context) error {
		_, err := a.doCall(ctx, req)
		return err
	})

	return err == nil
}

func (a *Adapter) generate(ctx context.Context, operation string, task llm.Task, schema map[string]interface{}, out interface{}) (*llm.Response, error) {
	startTime := time.Now()

	req := a.buildRequest(task, schema)

	var apiResp *messagesResponse

	err := providers.WithRetry(ctx, a.config, operation, func(ctx context.Context) error {
		resp, err := a.doCall(ctx, req)
		if err != nil {
			return err
		}

		if out != nil {
			// The model occasionally wraps JSON in prose; treat a decode
			// failure as transient and let the retry loop re-ask.
			if err := json.Unmarshal([]byte(resp.text()), out); err != nil {
				return providers.NewProviderError(a.Name(), "DECODE_ERROR",
					"response is not valid JSON for the requested schema", 0, true, err)
			}
		}

		apiResp = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	inputTokens := apiResp.Usage.InputTokens
	outputTokens := apiResp.Usage.OutputTokens

	a.logger.Debug("anthropic call completed",
		zap.String("model", modelName),
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens))

	return &llm.Response{
		Result:   apiResp.text(),
		Provider: llm.ClaudeSonnet,
		Model:    modelName,
		Usage: llm.TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
			Cost:         llm.EstimateCost(llm.ClaudeSonnet, inputTokens, outputTokens),
		},
		LatencyMs:    time.Since(startTime).Milliseconds(),
		UsedFallback: false,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// doCall executes one Messages API request
func (a *Adapter) doCall(ctx context.Context, req *messagesRequest) (*messagesResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, true, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var apiResp messagesResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	if len(apiResp.Content) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no content blocks", httpResp.StatusCode, true, nil)
	}

	return &apiResp, nil
}

// buildRequest converts a task into the Messages API wire format
func (a *Adapter) buildRequest(task llm.Task, schema map[string]interface{}) *messagesRequest {
	systemPrompt := task.SystemPrompt

	if schema != nil {
		schemaJSON, _ := json.Marshal(schema)
		instruction := fmt.Sprintf(
			"Respond with a single JSON object matching this JSON schema, and nothing else: %s", schemaJSON)
		if systemPrompt != "" {
			systemPrompt = systemPrompt + "\n\n" + instruction
		} else {
			systemPrompt = instruction
		}
	}

	req := &messagesRequest{
		Model:       modelName,
		MaxTokens:   task.EffectiveMaxTokens(),
		Temperature: task.EffectiveTemperature(),
		Messages: []message{
			{Role: "user", Content: task.Prompt},
		},
	}

	if systemPrompt != "" {
		req.System = systemPrompt
	}

	return req
}

// handleErrorResponse maps Anthropic error envelopes to provider errors
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", string(body), statusCode, statusCode >= 500, err)
	}

	// 529 is Anthropic's overloaded status, also transient.
	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests

	return providers.NewProviderError(
		a.Name(),
		errResp.Error.Type,
		errResp.Error.Message,
		statusCode,
		retryable,
		nil,
	)
}

// Anthropic-specific request/response types

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

func (r *messagesResponse) text() string {
	for _, block := range r.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
