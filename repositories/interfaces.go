package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/grcflow/llm-gateway/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// AgentExecutionRepository handles the gateway call log
type AgentExecutionRepository interface {
	// Create inserts a new execution record
	Create(ctx context.Context, exec *models.AgentExecution) error

	// GetByID retrieves an execution by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AgentExecution, error)

	// ListRecent retrieves the most recent executions with pagination
	ListRecent(ctx context.Context, limit, offset int) ([]*models.AgentExecution, error)

	// TotalCostSince sums the cost of completed executions since the given time
	TotalCostSince(ctx context.Context, since time.Time) (float64, error)
}
