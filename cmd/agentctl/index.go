package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refset/insurance-support-agent/internal/rag"
	"github.com/refset/insurance-support-agent/internal/store"
)

var (
	indexName string
	docType   string
)

var indexCmd = &cobra.Command{
	Use:   "index [file...]",
	Short: "Chunk, embed and store knowledge documents",
	Long: `Splits each file into overlapping word windows, embeds every chunk
and writes it to the named vector index. Re-indexing a file replaces
its chunks.

Example:
  agentctl index --index policy-documents --doc-type policy motor-policy.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexName, "index", "policy-documents", "vector index to write to")
	indexCmd.Flags().StringVar(&docType, "doc-type", "policy", "document type recorded on each chunk")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pool, err := store.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	vectors := rag.NewPgVectorStore(pool, cfg.Retrieval.EmbeddingDimension)
	if err := vectors.EnsureSchema(ctx); err != nil {
		return err
	}
	embedder, err := rag.NewGenAIEmbedder(ctx, cfg.GenAI, cfg.Retrieval.EmbeddingDimension)
	if err != nil {
		return err
	}
	indexer := rag.NewIndexer(embedder, vectors, logger)

	total := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs := rag.ChunkText(string(data), filepath.Base(path), docType, cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap)
		n, err := indexer.IndexDocuments(ctx, indexName, docs)
		total += n
		if err != nil {
			return err
		}
		logger.Info("indexed file", zap.String("path", path), zap.Int("chunks", n))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks into %s\n", total, indexName)
	return nil
}
