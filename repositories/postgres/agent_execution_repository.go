package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grcflow/llm-gateway/models"
	"github.com/grcflow/llm-gateway/repositories"
	"github.com/grcflow/llm-gateway/services"
)

// AgentExecutionRepository implements the repositories.AgentExecutionRepository interface
type AgentExecutionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAgentExecutionRepository creates a new agent execution repository
func NewAgentExecutionRepository(db *DB, logger *zap.Logger) repositories.AgentExecutionRepository {
	return &AgentExecutionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new execution record
func (r *AgentExecutionRepository) Create(ctx context.Context, exec *models.AgentExecution) error {
	query := `
		INSERT INTO agent_executions (
			id, agent_name, task_type, status, provider, model,
			input_tokens, output_tokens, total_tokens, cost, latency_ms,
			used_fallback, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		exec.ID,
		exec.AgentName,
		exec.TaskType,
		exec.Status,
		exec.Provider,
		exec.Model,
		exec.InputTokens,
		exec.OutputTokens,
		exec.TotalTokens,
		exec.Cost,
		exec.LatencyMs,
		exec.UsedFallback,
		exec.ErrorMessage,
		exec.CreatedAt,
	)

	if err != nil {
		return services.WrapInternal("failed to create agent execution", err)
	}

	r.logger.Debug("agent execution recorded",
		zap.String("id", exec.ID.String()),
		zap.String("task_type", string(exec.TaskType)),
		zap.String("status", string(exec.Status)))
	return nil
}

// GetByID retrieves an execution by ID
func (r *AgentExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AgentExecution, error) {
	query := `
		SELECT id, agent_name, task_type, status, provider, model,
		       input_tokens, output_tokens, total_tokens, cost, latency_ms,
		       used_fallback, error_message, created_at
		FROM agent_executions
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	exec := &models.AgentExecution{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&exec.ID,
		&exec.AgentName,
		&exec.TaskType,
		&exec.Status,
		&exec.Provider,
		&exec.Model,
		&exec.InputTokens,
		&exec.OutputTokens,
		&exec.TotalTokens,
		&exec.Cost,
		&exec.LatencyMs,
		&exec.UsedFallback,
		&exec.ErrorMessage,
		&exec.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrExecutionNotFound.WithDetail("id", id.String())
		}
		return nil, services.WrapInternal("failed to get agent execution", err)
	}

	return exec, nil
}

// ListRecent retrieves the most recent executions with pagination
func (r *AgentExecutionRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.AgentExecution, error) {
	query := `
		SELECT id, agent_name, task_type, status, provider, model,
		       input_tokens, output_tokens, total_tokens, cost, latency_ms,
		       used_fallback, error_message, created_at
		FROM agent_executions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to query agent executions", err)
	}
	defer rows.Close()

	var executions []*models.AgentExecution
	for rows.Next() {
		exec := &models.AgentExecution{}
		err := rows.Scan(
			&exec.ID,
			&exec.AgentName,
			&exec.TaskType,
			&exec.Status,
			&exec.Provider,
			&exec.Model,
			&exec.InputTokens,
			&exec.OutputTokens,
			&exec.TotalTokens,
			&exec.Cost,
			&exec.LatencyMs,
			&exec.UsedFallback,
			&exec.ErrorMessage,
			&exec.CreatedAt,
		)
		if err != nil {
			return nil, services.WrapInternal("failed to scan agent execution", err)
		}
		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent execution rows: %w", err)
	}

	return executions, nil
}

// TotalCostSince sums the cost of completed executions since the given time
func (r *AgentExecutionRepository) TotalCostSince(ctx context.Context, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM agent_executions
		WHERE status = 'completed' AND created_at >= $1
	`

	executor := GetExecutor(ctx, r.db)

	var total float64
	if err := executor.QueryRowContext(ctx, query, since).Scan(&total); err != nil {
		return 0, services.WrapInternal("failed to sum execution cost", err)
	}

	return total, nil
}
