package executor

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/whatsclaw/internal/providers"
	"github.com/nextlevelbuilder/whatsclaw/internal/security"
	"github.com/nextlevelbuilder/whatsclaw/internal/tools"
)

type scriptedProvider struct {
	responses []*providers.ChatResponse
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}
func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "test" }

type echoTool struct{ calls int }

func (t *echoTool) Name() string                     { return "echo" }
func (t *echoTool) Description() string              { return "echoes input" }
func (t *echoTool) Parameters() map[string]interface{} { return map[string]interface{}{} }
func (t *echoTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	t.calls++
	return tools.NewResult("echoed")
}

func TestRunReturnsContentWhenNoToolCalls(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hello", FinishReason: "stop"},
	}}
	reg := tools.NewRegistry()
	ex := New(reg, provider, Config{})

	out, err := ex.Run(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}, nil, "test-model")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Content != "hello" {
		t.Fatalf("got content %q, want hello", out.Content)
	}
	if out.Iterations != 1 {
		t.Fatalf("got %d iterations, want 1", out.Iterations)
	}
}

func TestRunExecutesToolAndContinues(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]interface{}{}}}, FinishReason: "tool_calls"},
		{Content: "done", FinishReason: "stop"},
	}}
	tool := &echoTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)
	ex := New(reg, provider, Config{})

	out, err := ex.Run(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}, nil, "test-model")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Content != "done" {
		t.Fatalf("got content %q, want done", out.Content)
	}
	if tool.calls != 1 {
		t.Fatalf("expected tool called once, got %d", tool.calls)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0] != "echo" {
		t.Fatalf("expected ToolCalls to record echo, got %v", out.ToolCalls)
	}
}

func TestRunStopsAtMaxIterationsWithoutToolsOnLast(t *testing.T) {
	resp := &providers.ChatResponse{
		ToolCalls: []providers.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]interface{}{}}},
		FinishReason: "tool_calls",
	}
	responses := make([]*providers.ChatResponse, 5)
	for i := range responses {
		responses[i] = resp
	}
	provider := &scriptedProvider{responses: responses}
	tool := &echoTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)
	ex := New(reg, provider, Config{MaxIterations: 5})

	out, err := ex.Run(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}, nil, "test-model")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Iterations != 5 {
		t.Fatalf("got %d iterations, want 5", out.Iterations)
	}
}

func TestSecurityDenyBlocksToolExecution(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]interface{}{}}}, FinishReason: "tool_calls"},
		{Content: "done", FinishReason: "stop"},
	}}
	tool := &echoTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)
	ex := New(reg, provider, Config{
		Security: func(toolName string, argsJSON []byte) security.Decision {
			return security.Decision{Action: security.ActionDeny, Reason: "blocked for test"}
		},
	})

	_, err := ex.Run(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}, nil, "test-model")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tool.calls != 0 {
		t.Fatalf("expected tool never executed when denied, got %d calls", tool.calls)
	}
}

func TestSplitMetaCalls(t *testing.T) {
	calls := []providers.ToolCall{
		{Name: "echo"},
		{Name: MetaToolRequestMoreTools},
	}
	meta, regular := splitMetaCalls(calls)
	if len(meta) != 1 || len(regular) != 1 {
		t.Fatalf("expected 1 meta and 1 regular, got %d/%d", len(meta), len(regular))
	}
}

func TestTruncateOutputRespectsLimit(t *testing.T) {
	long := make([]byte, maxToolOutputChars+500)
	for i := range long {
		long[i] = 'a'
	}
	out := truncateOutput(string(long))
	if len(out) > maxToolOutputChars+len("...") {
		t.Fatalf("expected truncated output, got len %d", len(out))
	}
}
