// Package retrieval provides nearest-neighbor search over the indexed
// textbook corpus using PostgreSQL + pgvector.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds vector search queries so a slow index fails fast
// instead of stalling the whole answer pipeline.
const searchTimeout = 5 * time.Second

// Hit is a single retrieval result with its cosine similarity score.
type Hit struct {
	DocID        string
	Content      string
	ChapterID    string
	ChapterTitle string
	ChunkIndex   int32
	Score        float64 // cosine similarity in [-1, 1]
}

// Document is a corpus chunk to index.
type Document struct {
	ID           string
	Content      string
	Embedding    []float32
	Language     string
	ChapterID    string
	ChapterTitle string
	ChunkIndex   int32
}

// Client performs vector search against the documents table.
// Safe for concurrent use.
type Client struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a retrieval client.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Client, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{pool: pool, logger: logger}, nil
}

// Search returns up to limit hits from the language-scoped corpus whose
// cosine similarity to vec meets threshold, ordered by descending score with
// ties broken by original chunk index.
func (c *Client) Search(ctx context.Context, vec []float32, language string, limit int, threshold float64) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	// <=> is cosine distance; similarity = 1 - distance.
	rows, err := c.pool.Query(ctx, `
		SELECT id, content, chapter_id, chapter_title, chunk_index,
		       1 - (embedding <=> $1) AS score
		FROM documents
		WHERE language = $2
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1, chunk_index
		LIMIT $4`,
		pgvector.NewVector(vec), language, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.DocID, &h.Content, &h.ChapterID, &h.ChapterTitle, &h.ChunkIndex, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading hits: %w", err)
	}

	c.logger.Debug("vector search completed",
		"language", language,
		"hits", len(hits),
		"threshold", threshold)
	return hits, nil
}

// Upsert inserts or replaces corpus documents. Deterministic document IDs
// make re-ingestion idempotent.
func (c *Client) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(`
			INSERT INTO documents (id, content, embedding, language, chapter_id, chapter_title, chunk_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				chapter_title = EXCLUDED.chapter_title`,
			d.ID, d.Content, pgvector.NewVector(d.Embedding), d.Language, d.ChapterID, d.ChapterTitle, d.ChunkIndex)
	}

	results := c.pool.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			c.logger.Warn("closing upsert batch", "error", err)
		}
	}()

	for range docs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting document: %w", err)
		}
	}
	return nil
}

// Count returns the number of indexed documents for a language.
func (c *Client) Count(ctx context.Context, language string) (int64, error) {
	var n int64
	err := c.pool.QueryRow(ctx,
		`SELECT count(*) FROM documents WHERE language = $1`, language).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// Healthy reports whether the vector index is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	var one int
	err := c.pool.QueryRow(ctx, `SELECT 1 FROM documents LIMIT 1`).Scan(&one)
	if err != nil && err != pgx.ErrNoRows {
		c.logger.Debug("index health check failed", "error", err)
		return false
	}
	return true
}
