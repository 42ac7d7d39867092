package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refset/insurance-support-agent/internal/workflow"
)

// Document is one chunk of source text to be indexed.
type Document struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Source  string `json:"source"`
	DocType string `json:"doc_type"`
	Section string `json:"section"`
}

// VectorStore searches and stores embedded chunks, partitioned by index name.
type VectorStore interface {
	Search(ctx context.Context, index string, vector []float32, k int) ([]workflow.ContextChunk, error)
	Index(ctx context.Context, index string, doc Document, vector []float32) error
}

// PgVectorStore keeps every index in one pgvector table.
type PgVectorStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPgVectorStore(pool *pgxpool.Pool, dim int) *PgVectorStore {
	return &PgVectorStore{pool: pool, dim: dim}
}

// EnsureSchema creates the vector extension and chunk table.
func (s *PgVectorStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			index_name TEXT NOT NULL,
			id         TEXT NOT NULL,
			content    TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			doc_type   TEXT NOT NULL DEFAULT '',
			section    TEXT NOT NULL DEFAULT '',
			embedding  vector(%d) NOT NULL,
			PRIMARY KEY (index_name, id)
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS rag_chunks_embedding_idx ON rag_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}

func (s *PgVectorStore) Search(ctx context.Context, index string, vector []float32, k int) ([]workflow.ContextChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content, source, doc_type, section, 1 - (embedding <=> $1::vector) AS score
		FROM rag_chunks
		WHERE index_name = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`,
		vectorLiteral(vector), index, k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer rows.Close()

	var chunks []workflow.ContextChunk
	for rows.Next() {
		var c workflow.ContextChunk
		if err := rows.Scan(&c.Content, &c.Source, &c.DocType, &c.Section, &c.Score); err != nil {
			return nil, fmt.Errorf("scan %s: %w", index, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	return chunks, nil
}

func (s *PgVectorStore) Index(ctx context.Context, index string, doc Document, vector []float32) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rag_chunks (index_name, id, content, source, doc_type, section, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		ON CONFLICT (index_name, id) DO UPDATE SET
			content = EXCLUDED.content,
			source = EXCLUDED.source,
			doc_type = EXCLUDED.doc_type,
			section = EXCLUDED.section,
			embedding = EXCLUDED.embedding`,
		index, doc.ID, doc.Content, doc.Source, doc.DocType, doc.Section, vectorLiteral(vector))
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", index, doc.ID, err)
	}
	return nil
}

// vectorLiteral formats v in pgvector's text input form, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
