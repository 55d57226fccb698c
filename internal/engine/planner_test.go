package engine

import (
	"reflect"
	"testing"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
)

func stageFixture(id string, deps ...string) pipeline.Stage {
	return pipeline.Stage{
		ID:           id,
		Name:         id,
		Kind:         pipeline.StageKindTransform,
		Timeout:      30,
		MaxRetries:   1,
		RetryBase:    1,
		RetryBackoff: 2,
		DependsOn:    deps,
	}
}

func TestPlannerLinearOrder(t *testing.T) {
	p := pipeline.Pipeline{
		Name: "linear",
		Stages: []pipeline.Stage{
			stageFixture("a"),
			stageFixture("b", "a"),
			stageFixture("c", "b"),
		},
	}

	plan, err := NewPlanner().Plan(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(plan.StageIDs, want) {
		t.Fatalf("got %v, want %v", plan.StageIDs, want)
	}
}

func TestPlannerTieBreaksByOriginalIndex(t *testing.T) {
	p := pipeline.Pipeline{
		Name: "fanout",
		Stages: []pipeline.Stage{
			stageFixture("root"),
			stageFixture("z", "root"),
			stageFixture("a", "root"),
			stageFixture("m", "root"),
		},
	}

	plan, err := NewPlanner().Plan(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"root", "z", "a", "m"}
	if !reflect.DeepEqual(plan.StageIDs, want) {
		t.Fatalf("got %v, want %v (tie-break must follow original stage index, not lexical order)", plan.StageIDs, want)
	}
}

func TestPlannerRejectsCycle(t *testing.T) {
	p := pipeline.Pipeline{
		Name: "cycle",
		Stages: []pipeline.Stage{
			stageFixture("a", "b"),
			stageFixture("b", "a"),
		},
	}

	if _, err := NewPlanner().Plan(p); err == nil {
		t.Fatal("expected error for cyclic pipeline")
	}
}

func TestPlannerRejectsEmptyPipeline(t *testing.T) {
	p := pipeline.Pipeline{Name: "empty"}
	if _, err := NewPlanner().Plan(p); err == nil {
		t.Fatal("expected error for pipeline with no stages")
	}
}

func TestPlannerIsDeterministic(t *testing.T) {
	p := pipeline.Pipeline{
		Name: "diamond",
		Stages: []pipeline.Stage{
			stageFixture("a"),
			stageFixture("b", "a"),
			stageFixture("c", "a"),
			stageFixture("d", "b", "c"),
		},
	}

	first, err := NewPlanner().Plan(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := NewPlanner().Plan(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first.StageIDs, second.StageIDs) {
		t.Fatalf("plan was not deterministic: %v vs %v", first.StageIDs, second.StageIDs)
	}
}
