package tools

import (
	"context"
	"testing"
)

type stubTool struct{ name string }

func (s stubTool) Name() string                        { return s.name }
func (s stubTool) Description() string                 { return "stub tool " + s.name }
func (s stubTool) Parameters() map[string]interface{}  { return map[string]interface{}{"type": "object"} }
func (s stubTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return NewResult("ok")
}

func TestRegistryRegisterGetList(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "web_search"})
	r.Register(stubTool{name: "memory_search"})

	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected Get to miss for unregistered tool")
	}
	tool, ok := r.Get("web_search")
	if !ok || tool.Name() != "web_search" {
		t.Fatalf("expected to find web_search, got %+v ok=%v", tool, ok)
	}

	names := r.List()
	if len(names) != 2 || names[0] != "memory_search" || names[1] != "web_search" {
		t.Fatalf("expected sorted [memory_search web_search], got %v", names)
	}
}

func TestToProviderDefCarriesSchema(t *testing.T) {
	def := ToProviderDef(stubTool{name: "web_fetch"})
	if def.Type != "function" || def.Function.Name != "web_fetch" {
		t.Fatalf("unexpected provider def: %+v", def)
	}
}
