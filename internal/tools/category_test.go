package tools

import "testing"

func TestClassifyForcesWebOnURL(t *testing.T) {
	c := NewClassifier(NewCategoryIndex(), func(text, historyTail string, activeSticky []string) ([]string, error) {
		return []string{"none"}, nil
	})
	cats, err := c.Classify("check out https://example.com/page for details", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsStr(cats, "web") {
		t.Fatalf("expected web category forced by URL, got %v", cats)
	}
}

func TestClassifyFallsBackToStickyOnNone(t *testing.T) {
	c := NewClassifier(NewCategoryIndex(), func(text, historyTail string, activeSticky []string) ([]string, error) {
		return nil, nil
	})
	cats, err := c.Classify("thanks!", "", []string{"memory", "fs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cats) != 2 || !containsStr(cats, "memory") || !containsStr(cats, "fs") {
		t.Fatalf("expected sticky fallback [memory fs], got %v", cats)
	}
}

func TestClassifyReturnsEmptyWithNoStickyAndNoMatch(t *testing.T) {
	c := NewClassifier(NewCategoryIndex(), func(text, historyTail string, activeSticky []string) ([]string, error) {
		return nil, nil
	})
	cats, err := c.Classify("thanks!", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cats) != 0 {
		t.Fatalf("expected no categories, got %v", cats)
	}
}

func TestRouterSelectAlwaysPrependsMetaTool(t *testing.T) {
	r := NewRouter(NewCategoryIndex(), DefaultToolBudget)
	selected := r.Select([]string{"memory"})
	if len(selected) == 0 || selected[0] != MetaToolRequestMoreTools {
		t.Fatalf("expected request_more_tools first, got %v", selected)
	}
}

func TestRouterSelectRespectsProportionalBudget(t *testing.T) {
	idx := NewCategoryIndex()
	r := NewRouter(idx, 8)
	// 2 categories -> per_cat = max(2, 8/2) = 4
	selected := r.Select([]string{"fs", "web"})
	// 1 (meta) + 4 fs + 2 web (web has only 2 members) = 7.
	if len(selected) > 8 {
		t.Fatalf("expected selection truncated to budget-ish size, got %d: %v", len(selected), selected)
	}
	if !containsStr(selected, "read_file") {
		t.Fatalf("expected fs category tools present, got %v", selected)
	}
	if !containsStr(selected, "web_search") {
		t.Fatalf("expected web category tools present, got %v", selected)
	}
}

func TestRouterSelectEnforcesMinimumTwoPerCategory(t *testing.T) {
	idx := NewCategoryIndex()
	r := NewRouter(idx, 8)
	// 5 categories -> 8/5 = 1, floored up to minimum of 2.
	selected := r.Select([]string{"memory", "web", "fs", "runtime", "sessions"})
	memberCount := 0
	for _, name := range idx.Tools("memory") {
		if containsStr(selected, name) {
			memberCount++
		}
	}
	if memberCount < 2 {
		t.Fatalf("expected at least 2 memory tools selected under the per_cat floor, got %d in %v", memberCount, selected)
	}
}

func TestAddMoreToolsDedupesAgainstActive(t *testing.T) {
	idx := NewCategoryIndex()
	r := NewRouter(idx, 8)
	active := []string{MetaToolRequestMoreTools, "memory_search", "memory_get"}
	added := r.AddMoreTools(active, []string{"memory", "web"})
	if containsStr(added, "memory_search") || containsStr(added, "memory_get") {
		t.Fatalf("expected memory tools already active to be excluded, got %v", added)
	}
	if !containsStr(added, "web_search") {
		t.Fatalf("expected new web tools added, got %v", added)
	}
}

func TestRegisterDynamicCategoryIsSelectable(t *testing.T) {
	idx := NewCategoryIndex()
	idx.RegisterDynamicCategory("finance", []string{"stock_quote", "currency_convert"})
	r := NewRouter(idx, 8)
	selected := r.Select([]string{"finance"})
	if !containsStr(selected, "stock_quote") || !containsStr(selected, "currency_convert") {
		t.Fatalf("expected dynamic category tools selected, got %v", selected)
	}
}
