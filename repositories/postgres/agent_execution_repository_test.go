package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grcflow/llm-gateway/models"
	"github.com/grcflow/llm-gateway/services"
	"github.com/grcflow/llm-gateway/services/llm"
)

func newMockRepo(t *testing.T) (*AgentExecutionRepository, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := &DB{DB: sqlDB, logger: zap.NewNop()}
	repo := NewAgentExecutionRepository(db, zap.NewNop()).(*AgentExecutionRepository)
	return repo, mock
}

func executionColumns() []string {
	return []string{
		"id", "agent_name", "task_type", "status", "provider", "model",
		"input_tokens", "output_tokens", "total_tokens", "cost", "latency_ms",
		"used_fallback", "error_message", "created_at",
	}
}

func TestAgentExecutionRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)

	exec := models.NewCompletedExecution("gap-analyzer", llm.TaskComplexReasoning, &llm.Response{
		Provider:  llm.GeminiPro,
		Model:     "gemini-2.0-pro",
		Usage:     llm.TokenUsage{InputTokens: 100, OutputTokens: 200, TotalTokens: 300, Cost: 0.0021},
		LatencyMs: 850,
		Timestamp: time.Now().UTC(),
	})

	mock.ExpectExec("INSERT INTO agent_executions").
		WithArgs(
			exec.ID, exec.AgentName, exec.TaskType, exec.Status, exec.Provider, exec.Model,
			exec.InputTokens, exec.OutputTokens, exec.TotalTokens, exec.Cost, exec.LatencyMs,
			exec.UsedFallback, exec.ErrorMessage, exec.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), exec)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentExecutionRepository_CreateFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO agent_executions").
		WillReturnError(errors.New("connection refused"))

	exec := models.NewFailedExecution("scanner", llm.TaskFastAgentic, llm.GeminiFlashLite, errors.New("all providers failed"))
	err := repo.Create(context.Background(), exec)

	require.Error(t, err)
	assert.True(t, services.IsInternalError(err))
}

func TestAgentExecutionRepository_GetByID(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	created := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM agent_executions").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(executionColumns()).AddRow(
			id, "policy-writer", "policy-generation", "completed", "claude-sonnet-4-5",
			"claude-sonnet-4-5-20250929", 500, 900, 1400, 0.015, 1200, false, nil, created,
		))

	exec, err := repo.GetByID(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, id, exec.ID)
	assert.Equal(t, "policy-writer", exec.AgentName)
	assert.Equal(t, llm.TaskPolicyGeneration, exec.TaskType)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, llm.ClaudeSonnet, exec.Provider)
	assert.Equal(t, 1400, exec.TotalTokens)
	assert.Nil(t, exec.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentExecutionRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM agent_executions").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(executionColumns()))

	_, err := repo.GetByID(context.Background(), id)

	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}

func TestAgentExecutionRepository_ListRecent(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	errMsg := "all providers failed"

	mock.ExpectQuery("SELECT (.+) FROM agent_executions").
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(executionColumns()).
			AddRow(uuid.New(), "scanner", "fast-agentic", "completed", "gemini-2.5-flash-lite",
				"gemini-2.0-flash-lite", 50, 20, 70, 0.00001, 150, false, nil, now).
			AddRow(uuid.New(), "scanner", "fast-agentic", "failed", "gemini-2.5-flash-lite",
				"", 0, 0, 0, 0.0, 0, false, &errMsg, now.Add(-time.Minute)))

	executions, err := repo.ListRecent(context.Background(), 10, 0)

	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, models.ExecutionStatusCompleted, executions[0].Status)
	assert.Equal(t, models.ExecutionStatusFailed, executions[1].Status)
	require.NotNil(t, executions[1].ErrorMessage)
	assert.Equal(t, errMsg, *executions[1].ErrorMessage)
}

func TestAgentExecutionRepository_TotalCostSince(t *testing.T) {
	repo, mock := newMockRepo(t)

	since := time.Now().UTC().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1.2345))

	total, err := repo.TotalCostSince(context.Background(), since)

	require.NoError(t, err)
	assert.InDelta(t, 1.2345, total, 1e-9)
}
