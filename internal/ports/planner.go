package ports

import (
	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
)

// ExecutionPlan is the deterministic stage order produced by the DAG
// Planner (C6): a flat, dependency-respecting sequence. Unlike the
// teacher's level-parallel planner, stages here execute strictly
// sequentially within one execution (spec §4.8 "Concurrency guarantees"),
// so the plan is a single ordered list rather than a list of levels.
type ExecutionPlan struct {
	StageIDs []string
}

// Planner validates a pipeline snapshot and emits its execution order:
// reject empty/duplicate/dangling-dependency stage lists, detect cycles via
// DFS, and topologically sort with index tie-breaking for reproducibility
// (spec §4.6).
type Planner interface {
	Plan(p pipeline.Pipeline) (ExecutionPlan, error)
}
