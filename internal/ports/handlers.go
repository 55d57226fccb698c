package ports

import (
	"context"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
)

// StageInput is what a handler receives: its own configuration plus the
// result of its first dependency (empty when the stage has none), per
// spec §4.7 step 3.
type StageInput struct {
	Config           map[string]interface{}
	DependencyResult map[string]interface{}
}

// Handler executes one stage kind. Implementations must be safe to call
// with a context that is already carrying a deadline equal to the stage's
// configured timeout; they should not retry internally -- retries are the
// Stage Runner's responsibility.
type Handler interface {
	Kind() pipeline.StageKind
	Run(ctx context.Context, input StageInput) (map[string]interface{}, error)
}

// HandlerRegistry resolves a Handler by stage kind. The built-in set is
// closed (input/transform/validation/output) but the registry itself is
// open so tests and future kinds can register additional handlers without
// touching the Stage Runner.
type HandlerRegistry interface {
	Register(h Handler) error
	Get(kind pipeline.StageKind) (Handler, error)
	List() []Handler
}
