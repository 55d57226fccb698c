// Package engine implements the DAG Planner (C6) and Stage Runner (C7).
package engine

import (
	"sort"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
)

// Planner validates a pipeline snapshot and emits a deterministic,
// dependency-respecting execution order. Stages within one execution run
// strictly sequentially (spec §4.8), so unlike a level-parallel scheduler
// the plan is a single flat list rather than a list of levels.
type Planner struct{}

// NewPlanner constructs the default planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan rejects empty stage lists, duplicate ids, and dangling dependencies
// (delegating those checks to pipeline.Pipeline.Validate), detects cycles
// via DFS with recursion-stack coloring, and topologically sorts the
// remainder with Kahn's algorithm, tie-breaking by original stage index so
// runs are reproducible for a given pipeline snapshot.
func (pl *Planner) Plan(p pipeline.Pipeline) (ports.ExecutionPlan, error) {
	if err := p.Validate(); err != nil {
		return ports.ExecutionPlan{}, err
	}

	indexOf := make(map[string]int, len(p.Stages))
	dependents := make(map[string][]string, len(p.Stages))
	indegree := make(map[string]int, len(p.Stages))

	for i, s := range p.Stages {
		indexOf[s.ID] = i
		indegree[s.ID] = 0
	}
	for _, s := range p.Stages {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
			indegree[s.ID]++
		}
	}

	var queue []string
	for _, s := range p.Stages {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}
	sortByIndex(queue, indexOf)

	order := make([]string, 0, len(p.Stages))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		next := append([]string(nil), dependents[id]...)
		sortByIndex(next, indexOf)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = insertSortedByIndex(queue, dependent, indexOf)
			}
		}
	}

	if len(order) != len(p.Stages) {
		// p.Validate() already runs DFS cycle detection, so this path is
		// unreachable in practice; it guards against future drift between
		// the two passes.
		return ports.ExecutionPlan{}, &pipeline.DomainError{
			Code:    pipeline.ErrCodeCycle,
			Message: "circular dependency detected during topological sort",
		}
	}

	return ports.ExecutionPlan{StageIDs: order}, nil
}

func sortByIndex(ids []string, indexOf map[string]int) {
	sort.Slice(ids, func(i, j int) bool { return indexOf[ids[i]] < indexOf[ids[j]] })
}

func insertSortedByIndex(queue []string, id string, indexOf map[string]int) []string {
	pos := sort.Search(len(queue), func(i int) bool { return indexOf[queue[i]] >= indexOf[id] })
	queue = append(queue, "")
	copy(queue[pos+1:], queue[pos:])
	queue[pos] = id
	return queue
}

var _ ports.Planner = (*Planner)(nil)
