package tools

import (
	"regexp"
	"strings"
	"sync"
)

// CategoryIndex maps category names to the tool names declared under them,
// in declared order. It is distinct from policy.go's toolGroups: groups
// gate static allow/deny decisions, categories drive per-request router
// selection and can be registered dynamically at runtime.
type CategoryIndex struct {
	mu         sync.RWMutex
	categories map[string][]string
	order      []string
}

// defaultCategories seeds the closed set the router knows about before any
// dynamic registration happens.
var defaultCategories = map[string][]string{
	"memory":  {"memory_search", "memory_get"},
	"web":     {"web_search", "web_fetch"},
	"fs":      {"read_file", "write_file", "list_files", "edit_file", "search", "glob"},
	"runtime": {"exec"},
	"media":   {"read_image", "create_image"},
}

func NewCategoryIndex() *CategoryIndex {
	idx := &CategoryIndex{categories: make(map[string][]string)}
	for _, name := range []string{"memory", "web", "fs", "runtime", "media"} {
		idx.categories[name] = append([]string(nil), defaultCategories[name]...)
		idx.order = append(idx.order, name)
	}
	return idx
}

// RegisterDynamicCategory adds or replaces a category at runtime, per the
// router's register_dynamic_category operation.
func (c *CategoryIndex) RegisterDynamicCategory(name string, toolNames []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.categories[name]; !exists {
		c.order = append(c.order, name)
	}
	c.categories[name] = append([]string(nil), toolNames...)
}

// ResetCache invalidates the module-level tools index, forcing the next
// Tools() call to rebuild from the registry rather than a memoized result.
// CategoryIndex keeps no memoized view itself today, so this is a no-op,
// kept as the hook future caching would attach to.
func (c *CategoryIndex) ResetCache() {}

// Tools returns the declared-order tool names for a category, or nil if
// the category is unknown.
func (c *CategoryIndex) Tools(category string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members, ok := c.categories[category]
	if !ok {
		return nil
	}
	return append([]string(nil), members...)
}

// Categories returns every known category name in registration order.
func (c *CategoryIndex) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

const (
	// MetaToolRequestMoreTools is always prepended to the selected set,
	// outside the proportional budget.
	MetaToolRequestMoreTools = "request_more_tools"
	// DefaultToolBudget is the global budget B from the proportional
	// selection formula (per_cat = max(2, B/|C|)).
	DefaultToolBudget = 8
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Classifier maps free text plus the recent sticky category set to the
// categories active for this turn. Classify is the LLM-backed
// implementation; ClassifyWithFn lets callers inject a deterministic
// "think=false" intent call without this package depending on a specific
// provider.
type Classifier struct {
	index *CategoryIndex
	// classifyFn performs the actual LLM call and returns the raw token
	// list the model produced (category names, or "none"). Left nil in
	// tests that only exercise the URL fast path and sticky fallback.
	classifyFn func(text, historyTail string, activeSticky []string) ([]string, error)
}

func NewClassifier(index *CategoryIndex, classifyFn func(text, historyTail string, activeSticky []string) ([]string, error)) *Classifier {
	return &Classifier{index: index, classifyFn: classifyFn}
}

// Classify implements classify(text, history_tail, active_sticky) →
// categories. A URL in text always forces "web" (the fetch tool's
// category) to be present. An empty/"none" LLM result falls back to the
// sticky set when one exists.
func (c *Classifier) Classify(text, historyTail string, activeSticky []string) ([]string, error) {
	forceWeb := urlPattern.MatchString(text)

	var result []string
	if c.classifyFn != nil {
		raw, err := c.classifyFn(text, historyTail, activeSticky)
		if err != nil {
			return nil, err
		}
		result = normalizeCategories(raw)
	}

	isNone := len(result) == 0
	if isNone && len(activeSticky) > 0 {
		result = append([]string(nil), activeSticky...)
	}

	if forceWeb && !containsStr(result, "web") {
		result = append(result, "web")
	}

	return dedupStrs(result), nil
}

func normalizeCategories(raw []string) []string {
	var out []string
	for _, r := range raw {
		r = strings.TrimSpace(strings.ToLower(r))
		if r == "" || r == "none" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupStrs(list []string) []string {
	seen := make(map[string]bool, len(list))
	var out []string
	for _, v := range list {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Router turns the classifier's categories into a bounded tool set,
// applying a proportional per-category budget: per_cat =
// max(2, B/|C|), truncated so the concatenation never exceeds B, with
// request_more_tools always present outside the budget.
type Router struct {
	index  *CategoryIndex
	budget int
}

func NewRouter(index *CategoryIndex, budget int) *Router {
	if budget <= 0 {
		budget = DefaultToolBudget
	}
	return &Router{index: index, budget: budget}
}

// Select returns the tool names active for this turn, including the
// always-present meta-tool as the first entry.
func (r *Router) Select(categories []string) []string {
	selected := []string{MetaToolRequestMoreTools}
	selected = append(selected, r.selectFromCategories(categories, nil)...)
	return selected
}

// selectFromCategories applies per_cat = max(2, budget/|categories|) to
// each category in order, skipping tool names already in exclude, and
// truncates the concatenated result to the router's budget.
func (r *Router) selectFromCategories(categories []string, exclude map[string]bool) []string {
	if len(categories) == 0 {
		return nil
	}
	perCat := r.budget / len(categories)
	if perCat < 2 {
		perCat = 2
	}

	seen := make(map[string]bool, len(exclude))
	for k := range exclude {
		seen[k] = true
	}

	var out []string
	for _, cat := range categories {
		members := r.index.Tools(cat)
		taken := 0
		for _, name := range members {
			if taken >= perCat {
				break
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
			taken++
		}
	}

	if len(out) > r.budget {
		out = out[:r.budget]
	}
	return out
}

// AddMoreTools implements the request_more_tools meta-call: it selects the
// requested categories' tools under the same per_cat rule and the router's
// full budget, skipping names already in active, and returns the
// newly-added names. Tools already in active do not count against the
// budget.
func (r *Router) AddMoreTools(active []string, requestedCategories []string) []string {
	exclude := make(map[string]bool, len(active))
	for _, name := range active {
		exclude[name] = true
	}
	return r.selectFromCategories(requestedCategories, exclude)
}
