// Package ingest builds the retrieval corpus from a directory tree of
// textbook chapters. Markdown, MDX, and HTML files are reduced to plain
// prose, split into paragraph-aligned chunks, embedded with the corpus-side
// task type, and upserted under deterministic ids so re-running over the
// same tree is idempotent.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/bookwise/bookwise/internal/i18n"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/retrieval"
)

// defaultChunkSize is the target chunk length in runes. Roughly a few
// paragraphs of textbook prose.
const defaultChunkSize = 1000

// defaultBatchSize is how many documents are embedded and upserted per
// round trip.
const defaultBatchSize = 32

// Embedder produces corpus-side embeddings for batches of chunks.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer stores embedded documents.
type Indexer interface {
	Upsert(ctx context.Context, docs []retrieval.Document) error
}

// Config carries ingestion knobs.
type Config struct {
	Language  string // corpus language, "en" or "ur"
	ChunkSize int    // target chunk length in runes (0 = default)
	BatchSize int    // documents per upsert batch (0 = default)
}

// Stats summarizes one ingestion run.
type Stats struct {
	Files    int
	Chunks   int
	Skipped  int // files with no usable prose
	Duration time.Duration
}

// Service ingests chapter trees into the vector index.
type Service struct {
	embedder Embedder
	index    Indexer
	cfg      Config
	logger   log.Logger
}

// NewService creates an ingestion service.
func NewService(e Embedder, idx Indexer, cfg Config, logger log.Logger) (*Service, error) {
	if e == nil || idx == nil {
		return nil, fmt.Errorf("embedder and indexer are required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	cfg.Language = i18n.Normalize(cfg.Language)
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{embedder: e, index: idx, cfg: cfg, logger: logger}, nil
}

// Run walks fsys for chapter files and ingests every chunk. The walk order
// is deterministic, so the chunk ids are too.
func (s *Service) Run(ctx context.Context, fsys fs.FS) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !chapterFile(p) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		n, err := s.ingestFile(ctx, p, string(raw))
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", p, err)
		}
		stats.Files++
		if n == 0 {
			stats.Skipped++
		}
		stats.Chunks += n
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	s.logger.Info("ingestion completed",
		"files", stats.Files,
		"chunks", stats.Chunks,
		"skipped", stats.Skipped,
		"language", s.cfg.Language,
		"duration", stats.Duration)
	return stats, nil
}

func chapterFile(p string) bool {
	switch path.Ext(p) {
	case ".md", ".mdx", ".html":
		return true
	}
	return false
}

func (s *Service) ingestFile(ctx context.Context, p, content string) (int, error) {
	var prose, title string
	if path.Ext(p) == ".html" {
		text, err := cleanHTML(content)
		if err != nil {
			return 0, fmt.Errorf("parsing html: %w", err)
		}
		prose, title = text, htmlTitle(content)
	} else {
		prose, title = cleanMarkdown(content), frontmatterTitle(content)
	}

	chunks := chunkText(prose, s.cfg.ChunkSize)
	if len(chunks) == 0 {
		s.logger.Warn("no prose extracted", "file", p)
		return 0, nil
	}

	chapterID := chapterIDFromPath(p)
	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]

		vecs, err := s.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return 0, fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		docs := make([]retrieval.Document, len(batch))
		for i, chunk := range batch {
			idx := start + i
			docs[i] = retrieval.Document{
				ID:           chunkID(chapterID, s.cfg.Language, idx),
				Content:      chunk,
				Embedding:    vecs[i],
				Language:     s.cfg.Language,
				ChapterID:    chapterID,
				ChapterTitle: title,
				ChunkIndex:   int32(idx),
			}
		}
		if err := s.index.Upsert(ctx, docs); err != nil {
			return 0, err
		}
	}

	s.logger.Debug("chapter ingested", "file", p, "chapter", chapterID, "chunks", len(chunks))
	return len(chunks), nil
}

// chunkID is stable across runs for the same chapter, language, and
// position.
func chunkID(chapterID, language string, index int) string {
	return fmt.Sprintf("%s-%s-%d", chapterID, language, index)
}
