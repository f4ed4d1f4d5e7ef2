package gemini

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// modelNames maps routing tiers to concrete Gemini model identifiers.
var modelNames = map[llm.Provider]string{
	llm.GeminiFlashLite: "gemini-2.0-flash-lite",
	llm.GeminiFlash:     "gemini-2.0-flash-8b",
	llm.GeminiPro:       "gemini-2.0-pro",
}

// Adapter calls the Google Generative Language API for one routing tier.
type Adapter struct {
	provider   llm.Provider
	model      string
	config     providers.Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Gemini adapter bound to one tier.
func New(provider llm.Provider, config providers.Config, logger *zap.Logger) (*Adapter, error) {
	model, ok := modelNames[provider]
	if !ok {
		return nil, fmt.Errorf("gemini: provider %q is not a Gemini tier", provider)
	}

	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	return &Adapter{
		provider:   provider,
		model:      model,
		config:     config,
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "gemini"
}

// GenerateText performs a free-text generation request
func (a *Adapter) GenerateText(ctx context.Context, task llm.Task) (*llm.Response, error) {
	req := a.buildRequest(task, nil)
	return a.generate(ctx, "gemini.GenerateText", req, nil)
}

// GenerateStructured performs a generation request constrained to JSON
// matching schema, decoding the result into out.
func (a *Adapter) GenerateStructured(ctx context.Context, task llm.Task, schema map[string]interface{}, out interface{}) (*llm.Response, error) {
	req := a.buildRequest(task, schema)
	return a.generate(ctx, "gemini.GenerateStructured", req, out)
}

// HealthCheck issues a minimal generation call
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	cfg := a.config
	cfg.MaxRetries = 1

	req := a.buildRequest(llm.Task{Prompt: "ping", MaxTokens: 10, Temperature: llm.DefaultTemperature}, nil)

	err := providers.WithRetry(ctx, cfg, "gemini.HealthCheck", func(ctx context.Context) error {
		_, err := a.doCall(ctx, req)
		return err
	})

	return err == nil
}

func (a *Adapter) generate(ctx context.Context, operation string, req *generateContentRequest, out interface{}) (*llm.Response, error) {
	startTime := time.Now()

	var apiResp *generateContentResponse

	err := providers.WithRetry(ctx, a.config, operation, func(ctx context.Context) error {
		resp, err := a.doCall(ctx, req)
		if err != nil {
			return err
		}

		if out != nil {
			// A malformed JSON body is treated as transient so the
			// retry loop can re-ask the model.
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

	inputTokens := apiResp.UsageMetadata.PromptTokenCount
	outputTokens := apiResp.UsageMetadata.CandidatesTokenCount

	a.logger.Debug("gemini call completed",
		zap.String("model", a.model),
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens))

	return &llm.Response{
		Result:   apiResp.text(),
		Provider: a.provider,
		Model:    a.model,
		Usage: llm.TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
			Cost:         llm.EstimateCost(a.provider, inputTokens, outputTokens),
		},
		LatencyMs:    time.Since(startTime).Milliseconds(),
		UsedFallback: false,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// doCall executes one generateContent request
func (a *Adapter) doCall(ctx context.Context, req *generateContentRequest) (*generateContentResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.config.BaseURL, a.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.config.APIKey)
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

	var apiResp generateContentResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	if len(apiResp.Candidates) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no candidates", httpResp.StatusCode, true, nil)
	}

	return &apiResp, nil
}

// buildRequest converts a task into the Gemini wire format. A non-nil schema
// switches the generation into constrained JSON mode.
func (a *Adapter) buildRequest(task llm.Task, schema map[string]interface{}) *generateContentRequest {
	req := &generateContentRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: task.Prompt}}},
		},
		GenerationConfig: generationConfig{
			Temperature:     task.EffectiveTemperature(),
			MaxOutputTokens: task.EffectiveMaxTokens(),
		},
	}

	if task.SystemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: task.SystemPrompt}}}
	}

	if schema != nil {
		req.GenerationConfig.ResponseMimeType = "application/json"
		req.GenerationConfig.ResponseSchema = schema
	}

	return req
}

// handleErrorResponse maps Gemini error envelopes to provider errors
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", string(body), statusCode, statusCode >= 500, err)
	}

	retryable := statusCode >= 500 || statusCode == http.StatusTooManyRequests

	return providers.NewProviderError(
		a.Name(),
		errResp.Error.Status,
		errResp.Error.Message,
		statusCode,
		retryable,
		nil,
	)
}

// Gemini-specific request/response types

type generateContentRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64                `json:"temperature"`
	MaxOutputTokens  int                    `json:"maxOutputTokens"`
	ResponseMimeType string                 `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]interface{} `json:"responseSchema,omitempty"`
}

type generateContentResponse struct {
	Candidates    []candidate   `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
}

func (r *generateContentResponse) text() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
