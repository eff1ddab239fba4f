// Package store provides durable, transactional access to every pipeline
// entity. Each stage's output is a committed checkpoint keyed by
// (execution_id, indicator_id), which makes the pipeline idempotent and
// resumable. Local deployments use a single SQLite file; cluster
// deployments point at a Postgres endpoint. Both speak database/sql.
package store

import (
	"context"
	"errors"

	"econoclass/internal/types"
)

// Sentinel errors for the storage taxonomy.
var (
	// ErrStorageUnavailable marks transient storage failures. Retriable.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConflict marks constraint conflicts. Not retriable.
	ErrConflict = errors.New("storage conflict")

	// ErrNotFound is returned for missing rows.
	ErrNotFound = errors.New("not found")
)

// Store is the persistence contract shared by every stage. Each stage
// exclusively owns writes to its own result table for a given
// (execution_id, indicator_id); other stages read but never mutate
// another stage's rows.
type Store interface {
	// Source indicators
	UpsertIndicators(ctx context.Context, indicators []types.Indicator) error
	GetIndicator(ctx context.Context, id string) (*types.Indicator, error)
	ListIndicators(ctx context.Context, limit int) ([]types.Indicator, error)

	// Stage results, all scanned in indicator_id order for a given execution
	PutRouterResults(ctx context.Context, executionID string, rows []types.RouterResult) error
	GetRouterResults(ctx context.Context, executionID string) ([]types.RouterResult, error)

	PutSpecialistResults(ctx context.Context, executionID string, rows []types.SpecialistResult) error
	GetSpecialistResults(ctx context.Context, executionID string) ([]types.SpecialistResult, error)

	PutValidationResults(ctx context.Context, executionID string, rows []types.ValidationResult) error
	GetValidationResults(ctx context.Context, executionID string) ([]types.ValidationResult, error)

	PutOrientationResults(ctx context.Context, executionID string, rows []types.OrientationResult) error
	GetOrientationResults(ctx context.Context, executionID string) ([]types.OrientationResult, error)

	PutFlags(ctx context.Context, executionID string, flags []types.FlaggedIndicator) error
	GetFlags(ctx context.Context, executionID string) ([]types.FlaggedIndicator, error)

	PutReviewDecisions(ctx context.Context, executionID string, rows []types.ReviewDecision) error
	GetReviewDecisions(ctx context.Context, executionID string) ([]types.ReviewDecision, error)

	PutClassifications(ctx context.Context, executionID string, rows []types.Classification) error
	GetClassifications(ctx context.Context, executionID string) ([]types.Classification, error)

	// Execution telemetry
	PutExecution(ctx context.Context, exec types.PipelineExecution) error
	HasExecution(ctx context.Context, executionID string) (bool, error)
	DeleteExecution(ctx context.Context, executionID string) error

	// Stats returns per-table row counts.
	Stats(ctx context.Context) (map[string]int64, error)

	Close() error
}
