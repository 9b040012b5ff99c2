// Package contextbuilder produces the single consolidated system message
// injected into every LLM call (spec C10). It performs no I/O of its own —
// every section is built from data the orchestrator already fetched in its
// parallel phases.
package contextbuilder

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
)

// Config controls selection thresholds.
type Config struct {
	MemorySimilarityThreshold float64
	HistoryVerbatimCount      int
	TokenBudget               int
}

// Input bundles the pre-fetched sections the orchestrator gathered in
// Phase A/B; the builder performs no DB calls of its own.
type Input struct {
	Memories        []repository.SimilarResult
	Notes           []repository.Note
	ActiveProjects  string
	RecentActivity  string
	HistoryTail     []repository.Message
	OlderSummary    *repository.Summary
	Capabilities    []string // tool names of the active categories; nil when classifier returned none
	ScratchpadText  string
	Onboarding      string // first-contact seeding text; empty after the cleanup window
}

// Builder renders Input into one system message.
type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	if cfg.HistoryVerbatimCount <= 0 {
		cfg.HistoryVerbatimCount = 12
	}
	return &Builder{cfg: cfg}
}

// Build assembles the ordered, optional XML-tagged sections into a single
// system message, logging a token-budget estimate but never dropping
// content automatically.
func (b *Builder) Build(in Input) string {
	var sections []string

	if memSection := b.buildMemories(in.Memories); memSection != "" {
		sections = append(sections, wrap("user_memories", memSection))
	}
	if factsSection := buildUserFacts(in.Memories); factsSection != "" {
		sections = append(sections, wrap("user_facts", factsSection))
	}
	if in.ActiveProjects != "" {
		sections = append(sections, wrap("active_projects", in.ActiveProjects))
	}
	if notesSection := buildNotes(in.Notes); notesSection != "" {
		sections = append(sections, wrap("relevant_notes", notesSection))
	}
	if in.RecentActivity != "" {
		sections = append(sections, wrap("recent_activity", in.RecentActivity))
	}
	if summarySection := buildHistorySummary(in.OlderSummary); summarySection != "" {
		sections = append(sections, wrap("conversation_summary", summarySection))
	}
	if in.Capabilities != nil {
		if capSection := buildCapabilities(in.Capabilities); capSection != "" {
			sections = append(sections, wrap("capabilities", capSection))
		}
	}
	if in.ScratchpadText != "" {
		sections = append(sections, wrap("scratchpad_context", in.ScratchpadText))
	}
	if in.Onboarding != "" {
		sections = append(sections, wrap("onboarding", in.Onboarding))
	}

	result := strings.Join(sections, "\n\n")
	b.logBudget(result)
	return result
}

// buildMemories keeps memories below the similarity threshold; if none
// pass, falls back to the top-3 regardless of distance.
func (b *Builder) buildMemories(memories []repository.SimilarResult) string {
	if len(memories) == 0 {
		return ""
	}
	var kept []repository.SimilarResult
	for _, m := range memories {
		if m.Distance < b.cfg.MemorySimilarityThreshold {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		n := 3
		if len(memories) < n {
			n = len(memories)
		}
		kept = memories[:n]
	}
	var lines []string
	for _, m := range kept {
		lines = append(lines, "- "+m.Text)
	}
	return strings.Join(lines, "\n")
}

var factPatterns = map[string]*regexp.Regexp{
	"github_username": regexp.MustCompile(`(?i)github(?:\.com)?[:/]?\s*([a-zA-Z0-9\-_]+)`),
	"timezone":         regexp.MustCompile(`(?i)timezone[:\s]+([A-Za-z_/]+)`),
	"name":             regexp.MustCompile(`(?i)my name is ([A-Za-z ]+)`),
}

// buildUserFacts extracts a stable dictionary from memory text via regex,
// injected verbatim into the prompt.
func buildUserFacts(memories []repository.SimilarResult) string {
	facts := make(map[string]string)
	for _, m := range memories {
		for key, re := range factPatterns {
			if _, exists := facts[key]; exists {
				continue
			}
			if match := re.FindStringSubmatch(m.Text); len(match) > 1 {
				facts[key] = strings.TrimSpace(match[1])
			}
		}
	}
	if len(facts) == 0 {
		return ""
	}
	var lines []string
	for _, key := range []string{"name", "github_username", "timezone"} {
		if v, ok := facts[key]; ok {
			lines = append(lines, fmt.Sprintf("%s: %s", key, v))
		}
	}
	return strings.Join(lines, "\n")
}

func buildNotes(notes []repository.Note) string {
	if len(notes) == 0 {
		return ""
	}
	var lines []string
	for _, n := range notes {
		lines = append(lines, "- "+n.Title+": "+n.Content)
	}
	return strings.Join(lines, "\n")
}

// buildHistorySummary renders the latest existing summary for anything
// older than the verbatim window — no extra LLM call is made here.
func buildHistorySummary(summary *repository.Summary) string {
	if summary == nil {
		return ""
	}
	return summary.Text
}

func buildCapabilities(toolNames []string) string {
	if len(toolNames) == 0 {
		return ""
	}
	return strings.Join(toolNames, ", ")
}

func wrap(tag, content string) string {
	return fmt.Sprintf("<%s>\n%s\n</%s>", tag, content, tag)
}

// logBudget estimates token usage with the chars/4 proxy and logs at
// WARNING >80% and ERROR >100% of TokenBudget. Nothing is dropped
// automatically; the log is the surface for manual tuning.
func (b *Builder) logBudget(rendered string) {
	if b.cfg.TokenBudget <= 0 {
		return
	}
	estimate := len(rendered) / 4
	ratio := float64(estimate) / float64(b.cfg.TokenBudget)
	switch {
	case ratio > 1.0:
		slog.Error("context builder token budget exceeded", "estimate", estimate, "budget", b.cfg.TokenBudget)
	case ratio > 0.8:
		slog.Warn("context builder token budget nearly exceeded", "estimate", estimate, "budget", b.cfg.TokenBudget)
	}
}
