package agentloop

import "testing"

func TestParsePlanDecodesWellFormedJSON(t *testing.T) {
	raw := `{"tasks":[{"id":"t1","description":"fetch data","worker_type":"reader"}]}`
	plan := parsePlan(raw)
	if len(plan.Tasks) != 1 || plan.Tasks[0].ID != "t1" {
		t.Fatalf("expected one parsed task, got %+v", plan.Tasks)
	}
}

func TestParsePlanFallsBackOnInvalidJSON(t *testing.T) {
	raw := "not json at all"
	plan := parsePlan(raw)
	if len(plan.Tasks) != 1 || plan.Tasks[0].WorkerType != "general" {
		t.Fatalf("expected single fallback general task, got %+v", plan.Tasks)
	}
	if plan.Tasks[0].Description != raw {
		t.Fatalf("expected fallback task description to carry the raw planner text, got %q", plan.Tasks[0].Description)
	}
}

func TestParsePlanFallsBackOnEmptyTaskList(t *testing.T) {
	plan := parsePlan(`{"tasks":[]}`)
	if len(plan.Tasks) != 1 || plan.Tasks[0].WorkerType != "general" {
		t.Fatalf("expected fallback task for empty task list, got %+v", plan.Tasks)
	}
}

func TestParsePlanTrimsSurroundingProse(t *testing.T) {
	raw := "Here is the plan:\n```json\n{\"tasks\":[{\"id\":\"t1\",\"description\":\"x\",\"worker_type\":\"coder\"}]}\n```\nLet me know if that works."
	plan := parsePlan(raw)
	if len(plan.Tasks) != 1 || plan.Tasks[0].WorkerType != "coder" {
		t.Fatalf("expected JSON extracted from surrounding prose, got %+v", plan.Tasks)
	}
}

func TestPlanReadyRespectsDependencies(t *testing.T) {
	plan := Plan{Tasks: []Task{
		{ID: "a", Done: false},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}}
	ready := plan.ready()
	if len(ready) != 1 || plan.Tasks[ready[0]].ID != "a" {
		t.Fatalf("expected only task a ready, got indices %v", ready)
	}

	plan.Tasks[0].Done = true
	ready = plan.ready()
	if len(ready) != 1 || plan.Tasks[ready[0]].ID != "b" {
		t.Fatalf("expected only task b ready once a is done, got indices %v", ready)
	}

	plan.Tasks[1].Done = true
	ready = plan.ready()
	if len(ready) != 1 || plan.Tasks[ready[0]].ID != "c" {
		t.Fatalf("expected task c ready once both deps done, got indices %v", ready)
	}
}

func TestPlanReadyExcludesAlreadyDone(t *testing.T) {
	plan := Plan{Tasks: []Task{{ID: "a", Done: true}, {ID: "b", Done: false}}}
	ready := plan.ready()
	if len(ready) != 1 || plan.Tasks[ready[0]].ID != "b" {
		t.Fatalf("expected only the not-done task, got indices %v", ready)
	}
}

func TestPlanAllDone(t *testing.T) {
	plan := Plan{Tasks: []Task{{ID: "a", Done: true}, {ID: "b", Done: true}}}
	if !plan.allDone() {
		t.Fatalf("expected allDone true when every task is done")
	}
	plan.Tasks[1].Done = false
	if plan.allDone() {
		t.Fatalf("expected allDone false when a task remains incomplete")
	}
}
