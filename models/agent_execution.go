package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/grcflow/llm-gateway/services/llm"
)

// ExecutionStatus represents the outcome of a gateway call
type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// AgentExecution records a single gateway call for the audit trail and cost
// reporting. Prompt content is deliberately not stored.
type AgentExecution struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	AgentName string          `json:"agent_name" db:"agent_name"`
	TaskType  llm.TaskType    `json:"task_type" db:"task_type"`
	Status    ExecutionStatus `json:"status" db:"status"`

	// Provider details
	Provider llm.Provider `json:"provider" db:"provider"`
	Model    string       `json:"model" db:"model"`

	// Metrics
	InputTokens  int     `json:"input_tokens" db:"input_tokens"`
	OutputTokens int     `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int     `json:"total_tokens" db:"total_tokens"`
	Cost         float64 `json:"cost" db:"cost"`
	LatencyMs    int64   `json:"latency_ms" db:"latency_ms"`
	UsedFallback bool    `json:"used_fallback" db:"used_fallback"`

	// Error handling
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AgentExecution model
func (AgentExecution) TableName() string {
	return "agent_executions"
}

// NewCompletedExecution builds an execution record from a response envelope.
func NewCompletedExecution(agentName string, taskType llm.TaskType, resp *llm.Response) *AgentExecution {
	return &AgentExecution{
		ID:           uuid.New(),
		AgentName:    agentName,
		TaskType:     taskType,
		Status:       ExecutionStatusCompleted,
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		Cost:         resp.Usage.Cost,
		LatencyMs:    resp.LatencyMs,
		UsedFallback: resp.UsedFallback,
		CreatedAt:    time.Now().UTC(),
	}
}

// NewFailedExecution builds an execution record for a call that failed on
// every provider. The provider is the routed primary.
func NewFailedExecution(agentName string, taskType llm.TaskType, provider llm.Provider, callErr error) *AgentExecution {
	msg := callErr.Error()
	return &AgentExecution{
		ID:           uuid.New(),
		AgentName:    agentName,
		TaskType:     taskType,
		Status:       ExecutionStatusFailed,
		Provider:     provider,
		ErrorMessage: &msg,
		CreatedAt:    time.Now().UTC(),
	}
}
