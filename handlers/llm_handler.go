package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grcflow/llm-gateway/middleware"
	"github.com/grcflow/llm-gateway/models"
	"github.com/grcflow/llm-gateway/repositories"
	"github.com/grcflow/llm-gateway/services/llm"
	"github.com/grcflow/llm-gateway/utils"
)

// GenerateRequest is the request body for text and structured generation
type GenerateRequest struct {
	AgentName     string                 `json:"agent_name" validate:"required,min=1,max=255"`
	TaskType      llm.TaskType           `json:"task_type" validate:"required"`
	Prompt        string                 `json:"prompt" validate:"required,min=1"`
	SystemPrompt  string                 `json:"system_prompt,omitempty"`
	Temperature   float64                `json:"temperature,omitempty" validate:"gte=0,lte=2"`
	MaxTokens     int                    `json:"max_tokens,omitempty" validate:"gte=0,lte=100000"`
	ForceProvider llm.Provider           `json:"force_provider,omitempty"`
	Schema        map[string]interface{} `json:"schema,omitempty"` // required for structured generation only
}

// GenerateResponse is the response body for generation endpoints
type GenerateResponse struct {
	Result       string          `json:"result"`
	Data         json.RawMessage `json:"data,omitempty"` // structured generation only
	Provider     llm.Provider    `json:"provider"`
	Model        string          `json:"model"`
	Usage        llm.TokenUsage  `json:"usage"`
	LatencyMs    int64           `json:"latency_ms"`
	UsedFallback bool            `json:"used_fallback"`
	Timestamp    time.Time       `json:"timestamp"`
}

// EstimateRequest is the request body for cost estimation
type EstimateRequest struct {
	TaskType     llm.TaskType `json:"task_type" validate:"required"`
	InputTokens  int          `json:"input_tokens" validate:"gte=0"`
	OutputTokens int          `json:"output_tokens" validate:"gte=0"`
}

// EstimateResponse is the response body for cost estimation
type EstimateResponse struct {
	TaskType     llm.TaskType `json:"task_type"`
	Provider     llm.Provider `json:"provider"`
	EstimatedUSD float64      `json:"estimated_usd"`
}

// MetricsResponse bundles the task and provider aggregates
type MetricsResponse struct {
	Tasks     []llm.TaskMetrics     `json:"tasks"`
	Providers []llm.ProviderMetrics `json:"providers"`
}

// LLMHandler handles generation and monitoring HTTP requests.
// The execution repository is optional; when nil the call log endpoints
// report 503 and completed calls are simply not persisted.
type LLMHandler struct {
	service    *llm.Service
	executions repositories.AgentExecutionRepository
	logger     *zap.Logger
}

// NewLLMHandler creates a new LLMHandler
func NewLLMHandler(service *llm.Service, executions repositories.AgentExecutionRepository, logger *zap.Logger) *LLMHandler {
	return &LLMHandler{
		service:    service,
		executions: executions,
		logger:     logger,
	}
}

// HandleGenerate handles POST /api/v1/llm/generate
func (h *LLMHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	genReq, ok := h.parseRequest(w, r, requestID)
	if !ok {
		return
	}

	task := genReq.toTask()
	resp, err := h.service.ExecuteText(ctx, task)
	if err != nil {
		h.handleGenerationError(w, genReq, err, requestID)
		return
	}

	h.recordExecution(ctx, models.NewCompletedExecution(genReq.AgentName, genReq.TaskType, resp))

	if err := utils.WriteOK(w, buildGenerateResponse(resp, nil)); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleGenerateStructured handles POST /api/v1/llm/generate/structured
func (h *LLMHandler) HandleGenerateStructured(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	genReq, ok := h.parseRequest(w, r, requestID)
	if !ok {
		return
	}
	if len(genReq.Schema) == 0 {
		_ = utils.WriteBadRequest(w, "schema is required for structured generation", nil)
		return
	}

	task := genReq.toTask()
	var out json.RawMessage
	resp, err := h.service.ExecuteStructured(ctx, task, genReq.Schema, &out)
	if err != nil {
		h.handleGenerationError(w, genReq, err, requestID)
		return
	}

	h.recordExecution(ctx, models.NewCompletedExecution(genReq.AgentName, genReq.TaskType, resp))

	if err := utils.WriteOK(w, buildGenerateResponse(resp, out)); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleEstimateCost handles POST /api/v1/llm/estimate
func (h *LLMHandler) HandleEstimateCost(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if !isKnownTaskType(req.TaskType) {
		_ = utils.WriteBadRequest(w, "unknown task type: "+string(req.TaskType), nil)
		return
	}

	route := llm.RouteTask(req.TaskType, "")
	_ = utils.WriteOK(w, EstimateResponse{
		TaskType:     req.TaskType,
		Provider:     route.Primary,
		EstimatedUSD: h.service.EstimateCost(req.TaskType, req.InputTokens, req.OutputTokens),
	})
}

// HandleHealthStatus handles GET /api/v1/llm/health
func (h *LLMHandler) HandleHealthStatus(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.service.HealthStatus())
}

// HandleMetrics handles GET /api/v1/llm/metrics
func (h *LLMHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, MetricsResponse{
		Tasks:     h.service.TaskMetrics(),
		Providers: h.service.ProviderMetrics(),
	})
}

// HandleCostBreakdown handles GET /api/v1/llm/costs?hours=24
func (h *LLMHandler) HandleCostBreakdown(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			_ = utils.WriteBadRequest(w, "hours must be a positive integer", nil)
			return
		}
		hours = parsed
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	_ = utils.WriteOK(w, h.service.CostBreakdownFor(start, end))
}

// HandleSuggestions handles GET /api/v1/llm/suggestions
func (h *LLMHandler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.service.CostOptimizationSuggestions())
}

// HandleResetMetrics handles POST /api/v1/llm/metrics/reset
func (h *LLMHandler) HandleResetMetrics(w http.ResponseWriter, r *http.Request) {
	h.service.ResetMetrics()
	h.logger.Info("monitoring metrics reset",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
	_ = utils.WriteOK(w, map[string]string{"status": "reset"})
}

// HandleListExecutions handles GET /api/v1/llm/executions?limit=50&offset=0
func (h *LLMHandler) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		_ = utils.WriteServiceUnavailable(w, "execution log not configured")
		return
	}

	limit := 50
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and 500", nil)
			return
		}
		limit = parsed
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			_ = utils.WriteBadRequest(w, "offset must be a non-negative integer", nil)
			return
		}
		offset = parsed
	}

	executions, err := h.executions.ListRecent(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if executions == nil {
		executions = []*models.AgentExecution{}
	}
	_ = utils.WriteOK(w, executions)
}

// HandleGetExecution handles GET /api/v1/llm/executions/{id}
func (h *LLMHandler) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		_ = utils.WriteServiceUnavailable(w, "execution log not configured")
		return
	}

	rawID := chi.URLParam(r, "id")
	if err := utils.ValidateUUID(rawID); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	exec, err := h.executions.GetByID(r.Context(), uuid.MustParse(rawID))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, exec)
}

// parseRequest decodes and validates a generation request body. It writes the
// error response itself and reports ok=false on failure.
func (h *LLMHandler) parseRequest(w http.ResponseWriter, r *http.Request, requestID string) (*GenerateRequest, bool) {
	var genReq GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&genReq); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return nil, false
	}

	if err := utils.ValidateStruct(&genReq); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return nil, false
	}

	return &genReq, true
}

// handleGenerationError writes the error response for a failed generation and
// records the failure in the execution log. Task validation failures surface
// as 400; everything else means the providers could not serve the call.
func (h *LLMHandler) handleGenerationError(w http.ResponseWriter, genReq *GenerateRequest, err error, requestID string) {
	if utils.IsValidationError(err) {
		HandleValidationError(w, err, h.logger)
		return
	}

	route := llm.RouteTask(genReq.TaskType, genReq.ForceProvider)
	h.recordExecution(context.Background(),
		models.NewFailedExecution(genReq.AgentName, genReq.TaskType, route.Primary, err))

	h.logger.Error("generation failed",
		zap.String("request_id", requestID),
		zap.String("agent_name", genReq.AgentName),
		zap.String("task_type", string(genReq.TaskType)),
		zap.Error(err))
	_ = utils.WriteBadGateway(w, err.Error())
}

// recordExecution persists the call log entry. Best effort: a storage failure
// is logged and never propagated to the caller.
func (h *LLMHandler) recordExecution(ctx context.Context, exec *models.AgentExecution) {
	if h.executions == nil {
		return
	}

	// Outlive the request so a client disconnect does not lose the record
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := h.executions.Create(ctx, exec); err != nil {
		h.logger.Warn("failed to record execution",
			zap.String("agent_name", exec.AgentName),
			zap.String("task_type", string(exec.TaskType)),
			zap.Error(err))
	}
}

func (r *GenerateRequest) toTask() llm.Task {
	return llm.Task{
		TaskType:      r.TaskType,
		Prompt:        r.Prompt,
		SystemPrompt:  r.SystemPrompt,
		Temperature:   r.Temperature,
		MaxTokens:     r.MaxTokens,
		ForceProvider: r.ForceProvider,
	}
}

func buildGenerateResponse(resp *llm.Response, data json.RawMessage) GenerateResponse {
	return GenerateResponse{
		Result:       resp.Result,
		Data:         data,
		Provider:     resp.Provider,
		Model:        resp.Model,
		Usage:        resp.Usage,
		LatencyMs:    resp.LatencyMs,
		UsedFallback: resp.UsedFallback,
		Timestamp:    resp.Timestamp,
	}
}

func isKnownTaskType(taskType llm.TaskType) bool {
	for _, t := range llm.AllTaskTypes() {
		if t == taskType {
			return true
		}
	}
	return false
}
