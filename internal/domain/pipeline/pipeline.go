package pipeline

import "fmt"

// Pipeline is an immutable-by-version, named DAG of stages. An Execution
// takes a definitional snapshot of a Pipeline at admission time; later
// updates to the stored Pipeline never mutate in-flight executions (see
// spec.md §3 "Ownership & lifecycle").
type Pipeline struct {
	ID          string
	Name        string
	Version     string
	Description string
	Active      bool
	Schedule    string // optional cron-style expression; empty means manual-trigger-only
	Stages      []Stage
}

// Validate ensures the pipeline satisfies all invariants: stage id
// uniqueness, dependency existence, and acyclicity.
func (p Pipeline) Validate() error {
	if p.Name == "" {
		return newMissingFieldError("name")
	}
	if len(p.Stages) == 0 {
		return newValidationError("pipeline requires at least one stage", nil)
	}

	seen := make(map[string]struct{}, len(p.Stages))
	for _, stage := range p.Stages {
		if err := stage.Validate(); err != nil {
			return err
		}
		if _, ok := seen[stage.ID]; ok {
			return newDuplicateError(stage.ID)
		}
		seen[stage.ID] = struct{}{}
	}

	return p.ValidateDependencies()
}

// ValidateDependencies ensures all dependencies reference an existing stage
// in the same pipeline and that the dependency graph is acyclic. This runs a
// DFS with recursion-stack coloring independent of the DAG planner's Kahn's
// algorithm pass so a cyclic pipeline is rejected at registration time, not
// merely when a planner later tries to order it (spec.md §4.6 step 2).
func (p Pipeline) ValidateDependencies() error {
	lookup := make(map[string]Stage, len(p.Stages))
	for _, stage := range p.Stages {
		lookup[stage.ID] = stage
	}

	for _, stage := range p.Stages {
		for _, dep := range stage.DependsOn {
			if dep == stage.ID {
				return newDependencyError("stage cannot depend on itself", map[string]interface{}{"stage_id": stage.ID})
			}
			if _, ok := lookup[dep]; !ok {
				return newDependencyError("dependency not found", map[string]interface{}{"stage_id": stage.ID, "missing_dependency": dep})
			}
		}
	}

	visited := make(map[string]bool, len(p.Stages))
	stack := make(map[string]bool, len(p.Stages))
	var path []string
	var detect func(string) *DomainError
	detect = func(id string) *DomainError {
		visited[id] = true
		stack[id] = true
		path = append(path, id)

		for _, dep := range lookup[id].DependsOn {
			if !visited[dep] {
				if err := detect(dep); err != nil {
					return err
				}
			} else if stack[dep] {
				cycle := append([]string(nil), path...)
				cycle = append(cycle, dep)
				return newCycleError(cycle)
			}
		}

		stack[id] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, stage := range p.Stages {
		if !visited[stage.ID] {
			if err := detect(stage.ID); err != nil {
				return err
			}
		}
	}

	return nil
}

// GetStage retrieves a stage by identifier, returning a defensive copy.
func (p Pipeline) GetStage(id string) (*Stage, error) {
	for i := range p.Stages {
		if p.Stages[i].ID == id {
			clone := p.Stages[i].Clone()
			return &clone, nil
		}
	}
	return nil, newDomainError(ErrCodeNotFound, "stage not found", nil, map[string]interface{}{"stage_id": id})
}

// MustStage panics if the stage does not exist; reserved for internal call
// sites where absence indicates a programmer error (e.g. iterating a plan
// built from this same pipeline).
func (p Pipeline) MustStage(id string) Stage {
	stage, err := p.GetStage(id)
	if err != nil {
		panic(fmt.Sprintf("stage %s not found in pipeline %s", id, p.ID))
	}
	return *stage
}

// Snapshot returns a defensive deep copy of the pipeline, taken by the
// Execution Supervisor at admission time so later updates to the stored
// definition cannot affect an in-flight execution.
func (p Pipeline) Snapshot() Pipeline {
	stages := make([]Stage, len(p.Stages))
	for i, stage := range p.Stages {
		stages[i] = stage.Clone()
	}
	clone := p
	clone.Stages = stages
	return clone
}
