package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. Legs are kept as JSONB on
// the execution row.
type ExecutionStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool, logger *slog.Logger) *ExecutionStore {
	return &ExecutionStore{
		pool:   pool,
		logger: logger.With(slog.String("component", "execution_store")),
	}
}

// Create inserts exec.
func (s *ExecutionStore) Create(ctx context.Context, exec domain.Execution) error {
	legs, err := json.Marshal(exec.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution legs: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (id, strategy, direction, spread, status, legs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		exec.ID, exec.Strategy, exec.Direction, exec.Spread, string(exec.Status), legs, exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", exec.ID, err)
	}
	return nil
}

// ListRecent returns up to limit executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy, direction, spread, status, legs, created_at
		FROM executions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		var (
			e      domain.Execution
			status string
			legs   []byte
		)
		if err := rows.Scan(&e.ID, &e.Strategy, &e.Direction, &e.Spread, &status, &legs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		e.Status = domain.ExecutionStatus(status)
		if len(legs) > 0 {
			if err := json.Unmarshal(legs, &e.Legs); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal execution legs %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return out, nil
}

// RecordExecution persists exec, logging instead of returning failures.
func (s *ExecutionStore) RecordExecution(ctx context.Context, exec domain.Execution) {
	if err := s.Create(ctx, exec); err != nil {
		s.logger.Warn("persist execution failed", slog.String("id", exec.ID), slog.String("error", err.Error()))
	}
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
