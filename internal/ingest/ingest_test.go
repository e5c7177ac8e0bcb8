package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/bookwise/bookwise/internal/retrieval"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

type fakeIndex struct {
	mu   sync.Mutex
	docs map[string]retrieval.Document
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]retrieval.Document)}
}

func (f *fakeIndex) Upsert(_ context.Context, docs []retrieval.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return nil
}

func corpusFS() fstest.MapFS {
	chapter := func(title string, paragraphs int) []byte {
		var b strings.Builder
		fmt.Fprintf(&b, "---\ntitle: %s\n---\n\n# %s\n\n", title, title)
		for i := range paragraphs {
			fmt.Fprintf(&b, "Paragraph %d of %s. %s\n\n", i, title, strings.Repeat("prose ", 40))
		}
		return []byte(b.String())
	}
	return fstest.MapFS{
		"module-1/1.1-intro.mdx":      {Data: chapter("Introduction", 8)},
		"module-1/1.2-variables.md":   {Data: chapter("Variables", 6)},
		"module-2/2.1-loops.mdx":      {Data: chapter("Loops", 10)},
		"module-2/notes.txt":          {Data: []byte("not a chapter")},
		"module-3/3.1-functions.html": {Data: []byte(`<html><head><title>Functions</title></head><body><p>` + strings.Repeat("A function groups statements. ", 30) + `</p></body></html>`)},
	}
}

func newTestService(t *testing.T, idx *fakeIndex, lang string) (*Service, *fakeEmbedder) {
	t.Helper()
	emb := &fakeEmbedder{}
	svc, err := NewService(emb, idx, Config{Language: lang}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, emb
}

func TestRunIngestsTree(t *testing.T) {
	idx := newFakeIndex()
	svc, emb := newTestService(t, idx, "en")

	stats, err := svc.Run(context.Background(), corpusFS())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Files != 4 {
		t.Errorf("files = %d, want 4 (txt excluded)", stats.Files)
	}
	if stats.Chunks == 0 || stats.Chunks != len(idx.docs) {
		t.Errorf("chunks = %d, indexed = %d", stats.Chunks, len(idx.docs))
	}
	if emb.calls != stats.Chunks {
		t.Errorf("embedder calls = %d, want %d", emb.calls, stats.Chunks)
	}

	// Chapter metadata survives into the documents.
	var sawLoops bool
	for _, d := range idx.docs {
		if d.Language != "en" {
			t.Errorf("doc %s language = %q", d.ID, d.Language)
		}
		if d.ChapterID == "2.1" {
			sawLoops = true
			if d.ChapterTitle != "Loops" {
				t.Errorf("chapter 2.1 title = %q", d.ChapterTitle)
			}
		}
	}
	if !sawLoops {
		t.Error("no documents for chapter 2.1")
	}

	// HTML chapter id and title come through too.
	if d, ok := idx.docs["3.1-en-0"]; !ok {
		t.Error("html chapter missing deterministic id 3.1-en-0")
	} else if d.ChapterTitle != "Functions" {
		t.Errorf("html chapter title = %q", d.ChapterTitle)
	}
}

func TestRunIdempotent(t *testing.T) {
	idx := newFakeIndex()
	svc, _ := newTestService(t, idx, "en")

	first, err := svc.Run(context.Background(), corpusFS())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	n := len(idx.docs)

	second, err := svc.Run(context.Background(), corpusFS())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(idx.docs) != n {
		t.Errorf("row count grew from %d to %d on re-ingestion", n, len(idx.docs))
	}
	if first.Chunks != second.Chunks {
		t.Errorf("chunk counts differ between runs: %d vs %d", first.Chunks, second.Chunks)
	}
}

func TestRunLanguageScoping(t *testing.T) {
	idx := newFakeIndex()
	en, _ := newTestService(t, idx, "en")
	ur, _ := newTestService(t, idx, "urdu") // normalizes to ur

	if _, err := en.Run(context.Background(), corpusFS()); err != nil {
		t.Fatal(err)
	}
	enDocs := len(idx.docs)
	if _, err := ur.Run(context.Background(), corpusFS()); err != nil {
		t.Fatal(err)
	}
	if len(idx.docs) != 2*enDocs {
		t.Errorf("languages share ids: %d docs after both runs, want %d", len(idx.docs), 2*enDocs)
	}
}

func TestRunEmbedFailure(t *testing.T) {
	idx := newFakeIndex()
	svc, emb := newTestService(t, idx, "en")
	emb.err = context.DeadlineExceeded

	if _, err := svc.Run(context.Background(), corpusFS()); err == nil {
		t.Fatal("expected embedding failure to abort the run")
	}
}

func TestRunSkipsEmptyFiles(t *testing.T) {
	idx := newFakeIndex()
	svc, _ := newTestService(t, idx, "en")

	fsys := fstest.MapFS{
		"only-code.md": {Data: []byte("```python\nprint(1)\n```\n")},
	}
	stats, err := svc.Run(context.Background(), fsys)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Files != 1 || stats.Skipped != 1 || stats.Chunks != 0 {
		t.Errorf("stats = %+v, want 1 file skipped", stats)
	}
}

func TestRunCanceled(t *testing.T) {
	idx := newFakeIndex()
	svc, _ := newTestService(t, idx, "en")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Run(ctx, corpusFS()); err == nil {
		t.Fatal("expected context error")
	}
}
