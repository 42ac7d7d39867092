package rag

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// minChunkChars drops trailing fragments too short to be useful context.
const minChunkChars = 20

var chunkNamespace = uuid.MustParse("8f1d6c2e-54a0-4e0b-9a57-3c1f2b7d9e10")

// ChunkText splits text into overlapping windows of size words, each
// sharing overlap words with the previous one.
func ChunkText(text, source, docType string, size, overlap int) []Document {
	words := strings.Fields(text)
	if len(words) == 0 || size <= 0 {
		return nil
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}

	var docs []Document
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		content := strings.Join(words[i:end], " ")
		if len(content) < minChunkChars {
			continue
		}
		docs = append(docs, Document{
			ID:      uuid.NewSHA1(chunkNamespace, []byte(source+":"+strconv.Itoa(i))).String(),
			Content: content,
			Source:  source,
			DocType: docType,
			Section: "chunk_" + strconv.Itoa(i/step+1),
		})
	}
	return docs
}

// Indexer embeds documents and writes them to a VectorStore.
type Indexer struct {
	embedder Embedder
	store    VectorStore
	log      *zap.Logger
}

func NewIndexer(embedder Embedder, store VectorStore, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{embedder: embedder, store: store, log: logger}
}

// IndexDocuments embeds and stores docs one at a time and returns how
// many were written. A document whose embedding fails is stored with a
// zero vector; a document the store rejects is skipped. Only ctx
// cancellation aborts the batch.
func (ix *Indexer) IndexDocuments(ctx context.Context, index string, docs []Document) (int, error) {
	indexed := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}

		vector, err := ix.embedder.Embed(ctx, doc.Content, TaskRetrievalDocument)
		if err != nil {
			ix.log.Error("document embedding failed, using zero vector",
				zap.String("index", index), zap.String("doc_id", doc.ID), zap.Error(err))
			vector = make([]float32, ix.embedder.Dimensions())
		}

		if err := ix.store.Index(ctx, index, doc, vector); err != nil {
			ix.log.Error("document index failed",
				zap.String("index", index), zap.String("doc_id", doc.ID), zap.Error(err))
			continue
		}
		indexed++
	}

	ix.log.Info("indexing complete",
		zap.String("index", index), zap.Int("indexed", indexed), zap.Int("total", len(docs)))
	return indexed, nil
}
