package rag

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

// fingerprintRunes is the content prefix length used to spot duplicates.
const fingerprintRunes = 200

// RetrieveOptions narrows a single retrieval. Zero values fall back to
// the configured defaults.
type RetrieveOptions struct {
	TopK    int
	Indices []string
}

// Retriever assembles grounding context for a query and decides whether
// it is strong enough to answer from.
type Retriever struct {
	embedder  Embedder
	store     VectorStore
	indices   []string
	topK      int
	threshold float64
	strict    bool
	log       *zap.Logger
}

func NewRetriever(embedder Embedder, store VectorStore, cfg config.RetrievalConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder:  embedder,
		store:     store,
		indices:   cfg.Indices,
		topK:      cfg.TopK,
		threshold: cfg.SimilarityThreshold,
		strict:    cfg.StrictMode,
		log:       logger,
	}
}

// Retrieve never fails on collaborator errors: an embedding failure or
// empty result yields an insufficient context. The error is non-nil only
// when ctx is done.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (*workflow.RetrievalContext, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = r.topK
	}
	indices := opts.Indices
	if len(indices) == 0 {
		indices = r.indices
	}

	vector, err := r.embedder.Embed(ctx, query, TaskRetrievalQuery)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Error("query embedding failed", zap.Error(err))
		return &workflow.RetrievalContext{}, nil
	}

	perIndex := make([][]workflow.ContextChunk, len(indices))
	ok := make([]bool, len(indices))

	var g errgroup.Group
	for i, index := range indices {
		g.Go(func() error {
			chunks, err := r.store.Search(ctx, index, vector, topK)
			if err != nil {
				r.log.Error("index search failed", zap.String("index", index), zap.Error(err))
				return nil
			}
			perIndex[i] = chunks
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var merged []workflow.ContextChunk
	var searched []string
	for i, index := range indices {
		if !ok[i] {
			continue
		}
		searched = append(searched, index)
		merged = append(merged, perIndex[i]...)
	}

	rc := &workflow.RetrievalContext{
		TotalChunksSearched: len(merged),
		IndicesSearched:     searched,
	}
	if len(merged) == 0 {
		r.log.Warn("no retrieval results", zap.Strings("indices", indices))
		return rc, nil
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Score > merged[b].Score
	})
	rc.MaxSimilarityScore = merged[0].Score

	if r.strict && rc.MaxSimilarityScore < r.threshold {
		r.log.Warn("retrieval below similarity threshold",
			zap.Float64("max_score", rc.MaxSimilarityScore),
			zap.Float64("threshold", r.threshold))
		return rc, nil
	}

	chunks := dedupe(merged)
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	rc.Chunks = chunks
	rc.HasSufficientContext = true
	return rc, nil
}

// dedupe keeps the first chunk for each content fingerprint.
func dedupe(chunks []workflow.ContextChunk) []workflow.ContextChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]workflow.ContextChunk, 0, len(chunks))
	for _, c := range chunks {
		fp := fingerprint(c.Content)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, c)
	}
	return out
}

func fingerprint(content string) string {
	n := 0
	for i := range content {
		if n == fingerprintRunes {
			return content[:i]
		}
		n++
	}
	return content
}
