package rag

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/refset/insurance-support-agent/internal/config"
)

// Embedding task types understood by the embedding model.
const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text, taskType string) ([]float32, error)
	Dimensions() int
}

// GenAIEmbedder embeds text with a Gemini embedding model.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
	dim    int32
}

func NewGenAIEmbedder(ctx context.Context, genCfg config.GenAIConfig, dim int) (*GenAIEmbedder, error) {
	if genCfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: genCfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: genCfg.EmbeddingModel, dim: int32(dim)}, nil
}

func (e *GenAIEmbedder) Dimensions() int { return int(e.dim) }

func (e *GenAIEmbedder) Embed(ctx context.Context, text, taskType string) ([]float32, error) {
	dim := e.dim
	cfg := &genai.EmbedContentConfig{OutputDimensionality: &dim}
	if taskType == TaskRetrievalDocument {
		cfg.TaskType = TaskRetrievalDocument
	} else {
		cfg.TaskType = TaskRetrievalQuery
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		cfg,
	)
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}
