package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
)

// OpenAIProvider implements Provider against an OpenAI-compatible chat
// completions endpoint (a local llama.cpp / ollama / vLLM server, or the
// hosted OpenAI API) using the real openai-go/v2 SDK.
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	sdk          sdk.Client
	retryConfig  RetryConfig
}

// NewOpenAIProvider constructs a provider bound to apiBase. apiKey may be
// empty for local servers that don't check it.
func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "http://localhost:8080/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")
	if apiKey == "" {
		apiKey = "none"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(apiBase),
	}

	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		sdk:          sdk.NewClient(opts...),
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *OpenAIProvider) Name() string          { return p.name }
func (p *OpenAIProvider) DefaultModel() string  { return p.defaultModel }
func (p *OpenAIProvider) SupportsThinking() bool { return true }

// APIKey and APIBase satisfy tools.credentialProvider, letting the image
// generation tool call OpenAI-compatible endpoints this provider didn't
// itself expose a method for (e.g. a raw chat-completions request with
// image output modalities).
func (p *OpenAIProvider) APIKey() string  { return p.apiKey }
func (p *OpenAIProvider) APIBase() string { return p.apiBase }

func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// Chat implements Provider.Chat using Chat.Completions.New, retried via
// RetryDo on transient failures.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := p.buildParams(req)

	start := time.Now()
	comp, err := RetryDo(ctx, p.retryConfig, func() (*sdk.ChatCompletion, error) {
		return p.sdk.Chat.Completions.New(ctx, params)
	})
	dur := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s: chat completion: %w", p.name, err)
	}

	result := p.toChatResponse(comp)
	result.TotalDuration = dur
	return result, nil
}

// ChatStream implements Provider.ChatStream using the SDK's streaming API.
// It is not retried: connection and stream errors surface directly.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	params := p.buildParams(req)
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	start := time.Now()
	stream := p.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	result := &ChatResponse{FinishReason: "stop"}
	toolCalls := make(map[int64]*toolCallAccumulator)
	order := make([]int64, 0, 4)

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			if chunk.Usage.TotalTokens > 0 {
				result.Usage = usageFromSDK(chunk.Usage)
			}
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			result.Content += delta.Content
			if onChunk != nil {
				onChunk(StreamChunk{Content: delta.Content})
			}
		}

		for _, tc := range delta.ToolCalls {
			acc, ok := toolCalls[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{ToolCall: ToolCall{ID: tc.ID}}
				toolCalls[tc.Index] = acc
				order = append(order, tc.Index)
			}
			if tc.Function.Name != "" {
				acc.Name = strings.TrimSpace(tc.Function.Name)
			}
			acc.rawArgs += tc.Function.Arguments
		}

		if chunk.Choices[0].FinishReason != "" {
			result.FinishReason = chunk.Choices[0].FinishReason
		}
		if chunk.Usage.TotalTokens > 0 {
			result.Usage = usageFromSDK(chunk.Usage)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%s: chat stream: %w", p.name, err)
	}

	for _, idx := range order {
		acc := toolCalls[idx]
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(acc.rawArgs), &args)
		acc.Arguments = args
		result.ToolCalls = append(result.ToolCalls, acc.ToolCall)
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	result.TotalDuration = time.Since(start)

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return result, nil
}

type toolCallAccumulator struct {
	ToolCall
	rawArgs string
}

func (p *OpenAIProvider) buildParams(req ChatRequest) sdk.ChatCompletionNewParams {
	model := p.resolveModel(req.Model)
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: adaptMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = adaptTools(req.Tools)
	}
	if v, ok := req.Options[OptMaxTokens].(int); ok {
		params.MaxTokens = param.NewOpt(int64(v))
	}
	if v, ok := req.Options[OptTemperature].(float64); ok {
		params.Temperature = param.NewOpt(v)
	}
	if level, ok := req.Options[OptThinkingLevel].(string); ok && level != "" && level != "off" {
		params.ReasoningEffort = sdk.ReasoningEffort(level)
	}
	return params
}

func adaptMessages(msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			if len(m.Images) == 0 {
				out = append(out, sdk.UserMessage(m.Content))
				continue
			}
			parts := make([]sdk.ChatCompletionContentPartUnionParam, 0, len(m.Images)+1)
			for _, img := range m.Images {
				url := fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data)
				parts = append(parts, sdk.ChatCompletionContentPartUnionParam{
					OfImageURL: &sdk.ChatCompletionContentPartImageParam{
						ImageURL: sdk.ChatCompletionContentPartImageImageURLParam{URL: url},
					},
				})
			}
			if m.Content != "" {
				parts = append(parts, sdk.ChatCompletionContentPartUnionParam{
					OfText: &sdk.ChatCompletionContentPartTextParam{Text: m.Content},
				})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfUser: &sdk.ChatCompletionUserMessageParam{
					Content: sdk.ChatCompletionUserMessageParamContentUnion{OfArrayOfContentParts: parts},
				},
			})
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			asst := sdk.ChatCompletionAssistantMessageParam{
				Content: sdk.ChatCompletionAssistantMessageParamContentUnion{OfString: sdk.String(m.Content)},
			}
			for _, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			content := m.Content
			if content == "" {
				content = `{"error":"empty tool response"}`
			}
			out = append(out, sdk.ToolMessage(content, m.ToolCallID))
		}
	}
	return out
}

func adaptTools(tools []ToolDefinition) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		def := sdk.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: sdk.String(t.Function.Description),
			Parameters:  t.Function.Parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}

func (p *OpenAIProvider) toChatResponse(comp *sdk.ChatCompletion) *ChatResponse {
	result := &ChatResponse{FinishReason: "stop"}
	if len(comp.Choices) > 0 {
		choice := comp.Choices[0]
		result.Content = choice.Message.Content
		result.FinishReason = choice.FinishReason

		for _, tc := range choice.Message.ToolCalls {
			switch v := tc.AsAny().(type) {
			case sdk.ChatCompletionMessageFunctionToolCall:
				args := make(map[string]interface{})
				_ = json.Unmarshal([]byte(v.Function.Arguments), &args)
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:        v.ID,
					Name:      strings.TrimSpace(v.Function.Name),
					Arguments: args,
				})
			}
		}
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}
	result.Usage = usageFromSDK(comp.Usage)
	return result
}

func usageFromSDK(u sdk.CompletionUsage) *Usage {
	usage := &Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
	usage.CacheReadTokens = int(u.PromptTokensDetails.CachedTokens)
	usage.ThinkingTokens = int(u.CompletionTokensDetails.ReasoningTokens)
	return usage
}
