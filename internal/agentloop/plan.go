package agentloop

import (
	"encoding/json"
	"strings"
)

// Task is one unit of work in a Plan, assigned to a worker type.
type Task struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	WorkerType  string   `json:"worker_type"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Done        bool     `json:"done"`
	Result      string   `json:"result,omitempty"`
}

// Plan is the planner's structured output from UNDERSTAND.
type Plan struct {
	Tasks []Task `json:"tasks"`
}

// parsePlan decodes the planner's JSON output, falling back to a single
// "general" task when parsing fails so a planner hiccup never blocks
// progress entirely.
func parsePlan(raw string) Plan {
	var plan Plan
	if err := json.Unmarshal([]byte(extractJSON(raw)), &plan); err != nil || len(plan.Tasks) == 0 {
		return Plan{Tasks: []Task{{ID: "t1", Description: raw, WorkerType: "general"}}}
	}
	return plan
}

// extractJSON trims leading/trailing prose around a JSON object, tolerating
// planners that wrap their output in a code fence or commentary.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

// ready returns the tasks in plan whose dependencies are all Done and
// which are not yet themselves Done.
func (p *Plan) ready() []int {
	var idx []int
	doneByID := make(map[string]bool)
	for _, t := range p.Tasks {
		if t.Done {
			doneByID[t.ID] = true
		}
	}
	for i, t := range p.Tasks {
		if t.Done {
			continue
		}
		blocked := false
		for _, dep := range t.DependsOn {
			if !doneByID[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			idx = append(idx, i)
		}
	}
	return idx
}

func (p *Plan) allDone() bool {
	for _, t := range p.Tasks {
		if !t.Done {
			return false
		}
	}
	return true
}
