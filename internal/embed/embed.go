// Package embed turns concept labels into vectors for similarity alignment.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/llm"
	"github.com/CanopyHQ/synapse/internal/logger"
)

var (
	// ErrNotConfigured means the selected provider has no credentials.
	ErrNotConfigured = errors.New("embed: OPENAI_API_KEY not set")
	// ErrEmptyBatch means the provider returned no usable vectors.
	ErrEmptyBatch = errors.New("embed: empty embedding batch")
)

// Batch is one provider response. Vectors[i] belongs to the i-th input text.
type Batch struct {
	Vectors [][]float32
	Dim     int
	Model   string
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (Batch, error)
	Model() string
}

// New picks the embedder named by cfg.Embeddings.
func New(cfg *config.Config, log *logger.Logger) (Embedder, error) {
	if log == nil {
		log = logger.Nop()
	}
	switch cfg.Embeddings {
	case "", "local":
		log.Debug("using local embeddings")
		return NewLocalEmbedder(), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, ErrNotConfigured
		}
		log.Debug("using openai embeddings", "model", cfg.EmbedModel)
		return NewOpenAIEmbedder(llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), cfg.EmbedModel), nil
	}
	return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings)
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	api   *openai.Client
	model string
}

func NewOpenAIEmbedder(api *openai.Client, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{api: api, model: model}
}

func (e *OpenAIEmbedder) Model() string { return e.model }

// EmbedBatch embeds texts in one request, ordering vectors by the response index.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) (Batch, error) {
	if len(texts) == 0 {
		return Batch{Model: e.model}, nil
	}
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return Batch{}, fmt.Errorf("embedding request failed: %w", err)
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return checkBatch(vectors, e.model)
}

// checkBatch rejects batches with missing or ragged vectors.
func checkBatch(vectors [][]float32, model string) (Batch, error) {
	if len(vectors) == 0 {
		return Batch{}, ErrEmptyBatch
	}
	dim := len(vectors[0])
	if dim == 0 {
		return Batch{}, ErrEmptyBatch
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return Batch{}, fmt.Errorf("%w: missing vector %d", ErrEmptyBatch, i)
		}
		if len(v) != dim {
			return Batch{}, fmt.Errorf("embed: vector %d has %d dimensions, want %d", i, len(v), dim)
		}
	}
	return Batch{Vectors: vectors, Dim: dim, Model: model}, nil
}
