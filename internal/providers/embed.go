package providers

import (
	"context"

	sdk "github.com/openai/openai-go/v2"
)

// Embedder is implemented by providers that can turn text into vectors.
// Kept separate from Provider so chat-only providers aren't forced to
// stub it out.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Embed implements Embedder against an OpenAI-compatible /v1/embeddings
// endpoint (hosted OpenAI or a local llama.cpp/ollama/vLLM server).
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if model == "" {
		model = "text-embedding-3-small"
	}
	params := sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: sdk.EmbeddingModel(model),
	}

	resp, err := RetryDo(ctx, p.retryConfig, func() (*sdk.CreateEmbeddingResponse, error) {
		return p.sdk.Embeddings.New(ctx, params)
	})
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}
