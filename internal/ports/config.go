package ports

import (
	"context"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
)

// PipelineLoader loads a pipeline definition from an external source such as
// the filesystem or an admin API payload. Implementations must be
// deterministic, respect context cancellation, and translate infrastructure
// failures into domain-friendly error codes.
//
// Error mapping expectations:
//   - io/fs.ErrNotExist -> pipeline.ErrCodeNotFound
//   - YAML/schema parsing failures -> pipeline.ErrCodeValidation
//   - context cancellation/deadline -> pipeline.ErrCodeCancelled / ErrCodeTimeout
//   - unexpected I/O issues -> pipeline.ErrCodeInternal with wrapped cause
type PipelineLoader interface {
	// Load materialises a fully validated pipeline from the provided path.
	Load(ctx context.Context, path string) (pipeline.Pipeline, error)

	// Validate performs a syntactic and structural check without requiring
	// the caller to keep the result, so the CLI can surface errors quickly
	// (e.g. `pipelinectl validate pipeline.yaml`).
	Validate(ctx context.Context, path string) error
}
