package contextbuilder

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
)

func TestBuildOmitsEmptySections(t *testing.T) {
	b := NewBuilder(Config{MemorySimilarityThreshold: 0.3})
	out := b.Build(Input{})
	if out != "" {
		t.Fatalf("expected empty output for empty input, got %q", out)
	}
}

func TestBuildOrdersSections(t *testing.T) {
	b := NewBuilder(Config{MemorySimilarityThreshold: 0.3})
	out := b.Build(Input{
		Memories:       []repository.SimilarResult{{Text: "likes go", Distance: 0.1}},
		ActiveProjects: "whatsclaw refactor",
		RecentActivity: "pushed 3 commits",
		Capabilities:   []string{"web_search"},
	})

	memIdx := strings.Index(out, "<user_memories>")
	projIdx := strings.Index(out, "<active_projects>")
	activityIdx := strings.Index(out, "<recent_activity>")
	capsIdx := strings.Index(out, "<capabilities>")

	if memIdx == -1 || projIdx == -1 || activityIdx == -1 || capsIdx == -1 {
		t.Fatalf("missing expected sections in output: %s", out)
	}
	if !(memIdx < projIdx && projIdx < activityIdx && activityIdx < capsIdx) {
		t.Fatalf("sections out of order: %s", out)
	}
}

func TestBuildMemoriesFallsBackToTopThree(t *testing.T) {
	b := NewBuilder(Config{MemorySimilarityThreshold: 0.1})
	memories := []repository.SimilarResult{
		{Text: "a", Distance: 0.9},
		{Text: "b", Distance: 0.8},
		{Text: "c", Distance: 0.7},
		{Text: "d", Distance: 0.6},
	}
	out := b.buildMemories(memories)
	if got := strings.Count(out, "- "); got != 3 {
		t.Fatalf("expected top-3 fallback (3 lines), got %d in %q", got, out)
	}
}

func TestBuildMemoriesKeepsUnderThreshold(t *testing.T) {
	b := NewBuilder(Config{MemorySimilarityThreshold: 0.5})
	memories := []repository.SimilarResult{
		{Text: "close", Distance: 0.1},
		{Text: "far", Distance: 0.9},
	}
	out := b.buildMemories(memories)
	if !strings.Contains(out, "close") || strings.Contains(out, "far") {
		t.Fatalf("expected only under-threshold memory kept, got %q", out)
	}
}

func TestBuildUserFactsExtraction(t *testing.T) {
	memories := []repository.SimilarResult{
		{Text: "my name is Dana, github.com/danadev, timezone: America/New_York"},
	}
	out := buildUserFacts(memories)
	if !strings.Contains(out, "name: Dana") {
		t.Fatalf("expected name fact extracted, got %q", out)
	}
	if !strings.Contains(out, "github_username") {
		t.Fatalf("expected github fact extracted, got %q", out)
	}
}

func TestBuildCapabilitiesOmittedWhenNil(t *testing.T) {
	b := NewBuilder(Config{})
	out := b.Build(Input{ActiveProjects: "x", Capabilities: nil})
	if strings.Contains(out, "<capabilities>") {
		t.Fatalf("capabilities section should be omitted when Capabilities is nil: %s", out)
	}
}

func TestBuildCapabilitiesOmittedWhenEmptySlice(t *testing.T) {
	b := NewBuilder(Config{})
	out := b.Build(Input{ActiveProjects: "x", Capabilities: []string{}})
	if strings.Contains(out, "<capabilities>") {
		t.Fatalf("capabilities section should render nothing for an empty (non-nil) slice: %s", out)
	}
}
