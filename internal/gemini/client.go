// Package gemini wraps the Google Gemini API for embedding and streamed
// generation. The embedding model, generation model, and vector dimension
// are configured at construction; callers treat both services as black boxes.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// Task types for the embedding API. Queries and corpus documents are
// embedded with different task types so the model optimizes each side of
// the retrieval pair.
const (
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// callTimeout bounds a single embedding call. Generation is not bounded
// here: its lifetime is the caller's streaming context.
const callTimeout = 5 * time.Second

// batchCallTimeout bounds a batch embedding call during ingestion.
const batchCallTimeout = 30 * time.Second

// Config contains required parameters for the Gemini client.
type Config struct {
	APIKey        string
	EmbedModel    string // e.g. "gemini-embedding-001"
	GenerateModel string // e.g. "gemini-2.0-flash"
	Dimension     int32  // output embedding dimension, matches the vector column
}

// Client provides embedding and streamed generation over one genai client.
// Safe for concurrent use.
type Client struct {
	client        *genai.Client
	embedModel    string
	generateModel string
	dimension     int32
	logger        *slog.Logger
}

// New creates a Gemini client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{
		client:        gc,
		embedModel:    cfg.EmbedModel,
		generateModel: cfg.GenerateModel,
		dimension:     cfg.Dimension,
		logger:        logger,
	}, nil
}

// Embed generates a query embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, taskRetrievalQuery)
}

// EmbedDocument generates a corpus-side embedding for text. Used by
// ingestion.
func (c *Client) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, taskRetrievalDocument)
}

// EmbedBatch generates corpus-side embeddings for several texts in one API
// call. The result is parallel to texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, batchCallTimeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := c.dimension
	resp, err := c.client.Models.EmbedContent(ctx, c.embedModel, contents,
		&genai.EmbedContentConfig{
			TaskType:             taskRetrievalDocument,
			OutputDimensionality: &dim,
		})
	if err != nil {
		return nil, fmt.Errorf("embedding batch: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding batch: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Values) == 0 {
			return nil, fmt.Errorf("empty embedding for text %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func (c *Client) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	dim := c.dimension
	resp, err := c.client.Models.EmbedContent(ctx, c.embedModel,
		genai.Text(text),
		&genai.EmbedContentConfig{
			TaskType:             taskType,
			OutputDimensionality: &dim,
		})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}

// GenerateStream streams a completion for prompt, invoking fn for each text
// chunk as the model yields it. Returning an error from fn aborts the
// stream; context cancellation aborts the upstream call.
func (c *Client) GenerateStream(ctx context.Context, prompt string, fn func(ctx context.Context, chunk string) error) error {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.7),
		TopP:            genai.Ptr[float32](0.95),
		TopK:            genai.Ptr[float32](40),
		MaxOutputTokens: 2048,
	}

	start := time.Now()
	var chunks int
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.generateModel, genai.Text(prompt), cfg) {
		if err != nil {
			return fmt.Errorf("generation stream: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		chunks++
		if err := fn(ctx, text); err != nil {
			return err
		}
	}

	c.logger.Debug("generation completed",
		"chunks", chunks,
		"duration", time.Since(start))
	return nil
}

// Healthy reports whether the Gemini API is reachable, using a minimal
// embedding call.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.Embed(ctx, "health check")
	if err != nil {
		c.logger.Debug("gemini health check failed", "error", err)
	}
	return err == nil
}
