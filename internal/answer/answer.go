// Package answer orchestrates one question/answer turn: embed the question,
// retrieve passages scoped to the session language, gate on similarity,
// compose the prompt, stream the generation, and persist the transcript with
// citations.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bookwise/bookwise/internal/i18n"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/metrics"
	"github.com/bookwise/bookwise/internal/retrieval"
	"github.com/bookwise/bookwise/internal/security"
	"github.com/bookwise/bookwise/internal/store"
)

var (
	// ErrInvalidInput indicates an empty or over-long question. Nothing is
	// persisted and no model is called.
	ErrInvalidInput = errors.New("invalid question")

	// ErrRetrievalUnavailable indicates the embedding or vector search step
	// failed. The user turn is persisted; no answer is.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationFailed indicates the model stream broke mid-answer. The
	// partial answer is persisted with a truncated marker.
	ErrGenerationFailed = errors.New("generation failed")
)

// persistTimeout bounds the transcript write when the request context is
// already gone (client disconnect).
const persistTimeout = 10 * time.Second

var tracer = otel.Tracer("bookwise/answer")

// Embedder turns a question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds passages similar to a query vector in one language.
type Retriever interface {
	Search(ctx context.Context, vec []float32, language string, limit int, threshold float64) ([]retrieval.Hit, error)
}

// Generator streams a model answer for a composed prompt.
type Generator interface {
	GenerateStream(ctx context.Context, prompt string, fn func(ctx context.Context, chunk string) error) error
}

// Transcript persists conversation turns.
type Transcript interface {
	AddMessage(ctx context.Context, sessionID uuid.UUID, role, content string, meta store.MessageMeta) (uuid.UUID, error)
}

// Config carries the orchestration knobs.
type Config struct {
	Threshold        float64 // minimum similarity for a passage to count
	TopK             int     // passages retrieved per question
	MaxQueryChars    int     // question length cap
	MaxSelectedChars int     // selected-text length cap in the prompt
}

// Request is one question.
type Request struct {
	Query        string
	Language     string
	Session      *store.Session
	SelectedText string // optional passage the reader highlighted
}

// Result is the outcome of an answered (or fallen-back) question.
type Result struct {
	MessageID uuid.UUID
	Answer    string
	Citations []store.Citation
	Fallback  bool
	Truncated bool
}

// OnChunk receives answer text incrementally as the model produces it. A
// returned error aborts the stream.
type OnChunk func(chunk string) error

// Service runs the answer pipeline.
type Service struct {
	embedder   Embedder
	retriever  Retriever
	generator  Generator
	transcript Transcript
	cfg        Config
	guard      *security.PromptValidator
	metrics    metrics.Collector
	logger     log.Logger
}

// NewService creates the orchestrator.
func NewService(e Embedder, r Retriever, g Generator, tr Transcript, cfg Config, collector metrics.Collector, logger log.Logger) (*Service, error) {
	if e == nil || r == nil || g == nil || tr == nil {
		return nil, fmt.Errorf("embedder, retriever, generator, and transcript are required")
	}
	if cfg.Threshold < -1 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold %.2f outside [-1, 1]", cfg.Threshold)
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("top-k must be positive, got %d", cfg.TopK)
	}
	if cfg.MaxQueryChars <= 0 {
		cfg.MaxQueryChars = 2000
	}
	if cfg.MaxSelectedChars <= 0 {
		cfg.MaxSelectedChars = 500
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		embedder:   e,
		retriever:  r,
		generator:  g,
		transcript: tr,
		cfg:        cfg,
		guard:      security.NewPromptValidator(),
		metrics:    collector,
		logger:     logger,
	}, nil
}

// ValidateQuestion checks a question against the length cap and the prompt
// screen without touching any backend. Handlers that meter guest quota call
// it before spending a unit, so a rejected question costs nothing.
func (s *Service) ValidateQuestion(query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return fmt.Errorf("%w: empty question", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(query); n > s.cfg.MaxQueryChars {
		return fmt.Errorf("%w: question is %d characters, limit %d", ErrInvalidInput, n, s.cfg.MaxQueryChars)
	}
	if patterns := s.guard.Detect(query); len(patterns) > 0 {
		s.logger.Warn("question flagged by prompt screen", "patterns", len(patterns))
		return fmt.Errorf("%w: question rejected", ErrInvalidInput)
	}
	return nil
}

// Answer runs one full turn. The user turn is persisted before any model
// call; the assistant turn is persisted whatever happens after generation
// starts, marked truncated when the stream broke. onChunk may be nil.
func (s *Service) Answer(ctx context.Context, req Request, onChunk OnChunk) (*Result, error) {
	if err := s.ValidateQuestion(req.Query); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)
	if req.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	lang := i18n.Normalize(req.Language)

	ctx, span := tracer.Start(ctx, "answer.turn", trace.WithAttributes(
		attribute.String("language", lang),
		attribute.Bool("guest", req.Session.IsGuest()),
	))
	defer span.End()

	if _, err := s.transcript.AddMessage(ctx, req.Session.ID, store.RoleTurnUser, query, store.MessageMeta{}); err != nil {
		return nil, fmt.Errorf("persisting question: %w", err)
	}

	start := time.Now()
	vec, err := s.embedder.Embed(ctx, query)
	s.metrics.RecordLatency(metrics.StageEmbed, time.Since(start))
	if err != nil {
		s.logger.Error("embedding question", "session", req.Session.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	start = time.Now()
	hits, err := s.retriever.Search(ctx, vec, lang, s.cfg.TopK, s.cfg.Threshold)
	s.metrics.RecordLatency(metrics.StageRetrieve, time.Since(start))
	if err != nil {
		s.logger.Error("searching passages", "session", req.Session.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	if len(hits) == 0 {
		return s.fallback(ctx, req.Session.ID, lang, query, onChunk)
	}

	prompt := s.composePrompt(query, req.SelectedText, hits)
	citations := collectCitations(hits, lang)

	var answer strings.Builder
	start = time.Now()
	genErr := s.generator.GenerateStream(ctx, prompt, func(ctx context.Context, chunk string) error {
		answer.WriteString(chunk)
		return onChunk(chunk)
	})
	s.metrics.RecordLatency(metrics.StageGenerate, time.Since(start))

	truncated := genErr != nil
	meta := store.MessageMeta{Citations: citations, Truncated: truncated}

	msgID, persistErr := s.persist(ctx, req.Session.ID, answer.String(), meta)
	if persistErr != nil {
		s.logger.Error("persisting answer", "session", req.Session.ID, "error", persistErr)
		if genErr == nil {
			return nil, fmt.Errorf("persisting answer: %w", persistErr)
		}
	}

	res := &Result{
		MessageID: msgID,
		Answer:    answer.String(),
		Citations: citations,
		Truncated: truncated,
	}

	if genErr != nil {
		if ctx.Err() != nil {
			// Client went away; nobody is listening for an error.
			s.logger.Info("client disconnected mid-answer", "session", req.Session.ID)
			return res, ctx.Err()
		}
		s.logger.Error("generation stream failed", "session", req.Session.ID, "error", genErr)
		return res, fmt.Errorf("%w: %v", ErrGenerationFailed, genErr)
	}
	return res, nil
}

// fallback answers a question no passage cleared the similarity threshold
// for: a localized canned message, persisted like a normal turn but with
// zero citations. The question is logged so content gaps in the corpus can
// be found later.
func (s *Service) fallback(ctx context.Context, sessionID uuid.UUID, lang, query string, onChunk OnChunk) (*Result, error) {
	s.metrics.IncBelowThreshold(lang)
	s.logger.Info("no passage above threshold",
		"session", sessionID, "language", lang, "question", truncate(query, 200))

	msg := i18n.Fallback(lang)
	if err := onChunk(msg); err != nil {
		s.logger.Debug("delivering fallback chunk", "session", sessionID, "error", err)
	}

	msgID, err := s.persist(ctx, sessionID, msg, store.MessageMeta{Fallback: true})
	if err != nil {
		return nil, fmt.Errorf("persisting fallback: %w", err)
	}
	return &Result{MessageID: msgID, Answer: msg, Fallback: true}, nil
}

// persist writes the assistant turn, surviving a canceled request context so
// a disconnect never loses the transcript.
func (s *Service) persist(ctx context.Context, sessionID uuid.UUID, content string, meta store.MessageMeta) (uuid.UUID, error) {
	start := time.Now()
	defer func() { s.metrics.RecordLatency(metrics.StagePersist, time.Since(start)) }()

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
	}
	return s.transcript.AddMessage(ctx, sessionID, store.RoleTurnAssistant, content, meta)
}

// truncate caps s at n runes for log records.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

const systemInstruction = `You are a helpful teaching assistant for a textbook. Answer the question using only the numbered source passages below. Cite passages by their tag, like [S1]. If the passages do not contain the answer, say so briefly. Answer in the same language as the question.`

// composePrompt assembles the generation prompt: instruction, the reader's
// highlighted text if any, the passages in descending similarity order, then
// the question.
func (s *Service) composePrompt(query, selected string, hits []retrieval.Hit) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\n")

	if selected = strings.TrimSpace(selected); selected != "" {
		if utf8.RuneCountInString(selected) > s.cfg.MaxSelectedChars {
			runes := []rune(selected)
			selected = string(runes[:s.cfg.MaxSelectedChars])
		}
		b.WriteString("The reader highlighted this text while asking:\n")
		b.WriteString(selected)
		b.WriteString("\n\n")
	}

	b.WriteString("Source passages:\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "[S%d] (%s", i+1, h.ChapterID)
		if h.ChapterTitle != "" {
			fmt.Fprintf(&b, ", %s", h.ChapterTitle)
		}
		b.WriteString(")\n")
		b.WriteString(h.Content)
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// collectCitations deduplicates hits by chapter, keeping first-seen order.
// Hits arrive in descending similarity order, so the first hit per chapter
// carries that chapter's best score.
func collectCitations(hits []retrieval.Hit, lang string) []store.Citation {
	seen := make(map[string]bool, len(hits))
	citations := make([]store.Citation, 0, len(hits))
	for _, h := range hits {
		if seen[h.ChapterID] {
			continue
		}
		seen[h.ChapterID] = true
		citations = append(citations, store.Citation{
			ID:    h.ChapterID,
			Title: h.ChapterTitle,
			URL:   ChapterURL(h.ChapterID, lang),
			Score: h.Score,
		})
	}
	return citations
}

// ChapterURL builds the reader-facing link for a chapter id like "2.1" or
// "2.1.3": /docs/module-2/chapter-1, with a /ur prefix for Urdu.
func ChapterURL(chapterID, lang string) string {
	parts := strings.Split(chapterID, ".")
	prefix := ""
	if i18n.Normalize(lang) == i18n.LangUR {
		prefix = "/ur"
	}
	if len(parts) < 2 {
		return prefix + "/docs/module-" + chapterID
	}
	return fmt.Sprintf("%s/docs/module-%s/chapter-%s", prefix, parts[0], parts[1])
}
