package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFrontmatterTitle(t *testing.T) {
	content := "---\ntitle: \"Loops and Iteration\"\nsidebar_label: Loops\n---\n\nBody text."
	if got := frontmatterTitle(content); got != "Loops and Iteration" {
		t.Errorf("title = %q", got)
	}
	if got := frontmatterTitle("no frontmatter here"); got != "" {
		t.Errorf("title without frontmatter = %q", got)
	}
}

func TestCleanMarkdown(t *testing.T) {
	content := `---
title: Loops
---
import Tabs from '@theme/Tabs';

# Loops

A **loop** repeats a _block_ of code. See [the docs](https://example.com).

` + "```python\nfor i in range(3):\n    print(i)\n```" + `

<Callout type="info" />

- first item
- second item

Use ` + "`for`" + ` when the count is known.`

	got := cleanMarkdown(content)

	for _, banned := range []string{"```", "import Tabs", "<Callout", "**", "range(3)", "https://example.com", "# "} {
		if strings.Contains(got, banned) {
			t.Errorf("cleaned text still contains %q:\n%s", banned, got)
		}
	}
	for _, want := range []string{"A loop repeats a block of code", "the docs", "first item", "Use  when the count is known"} {
		if !strings.Contains(got, want) {
			t.Errorf("cleaned text missing %q:\n%s", want, got)
		}
	}
}

func TestCleanHTML(t *testing.T) {
	content := `<html><head><title>Variables</title><style>p{color:red}</style></head>
<body><h1>Variables</h1><p>A variable names a value.</p>
<pre><code>x = 1</code></pre>
<script>alert(1)</script>
<ul><li>mutable</li></ul></body></html>`

	got, err := cleanHTML(content)
	if err != nil {
		t.Fatalf("cleanHTML: %v", err)
	}
	for _, banned := range []string{"x = 1", "alert", "color:red"} {
		if strings.Contains(got, banned) {
			t.Errorf("cleaned html still contains %q:\n%s", banned, got)
		}
	}
	for _, want := range []string{"A variable names a value.", "mutable"} {
		if !strings.Contains(got, want) {
			t.Errorf("cleaned html missing %q:\n%s", want, got)
		}
	}
	if title := htmlTitle(content); title != "Variables" {
		t.Errorf("title = %q", title)
	}
}

func TestChapterIDFromPath(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"docs/module-1/week-1-2/1.1-introduction.mdx", "1.1"},
		{"docs/2.1.3-recursion.md", "2.1.3"},
		{"docs/module-2/2.4/index.html", "2.4"},
		{"docs/appendix.md", "appendix"},
	}
	for _, tt := range tests {
		if got := chapterIDFromPath(tt.path); got != tt.want {
			t.Errorf("chapterIDFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestChunkTextParagraphAligned(t *testing.T) {
	para := strings.Repeat("word ", 60) // ~300 runes
	text := strings.Join([]string{para, para, para, para, para}, "\n\n")

	chunks := chunkText(text, 1000)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want a split", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 1000+utf8.RuneCountInString(para) {
			t.Errorf("chunk %d is %d runes", i, n)
		}
		// Paragraph boundaries survive: no chunk starts or ends mid-word.
		if strings.HasPrefix(c, " ") || c == "" {
			t.Errorf("chunk %d is misaligned: %q", i, c[:20])
		}
	}
}

func TestChunkTextOverlap(t *testing.T) {
	a := strings.Repeat("alpha ", 80) // ~480 runes
	b := strings.Repeat("beta ", 60) // ~300 runes
	c := strings.Repeat("gamma ", 80)
	chunks := chunkText(strings.TrimSpace(a)+"\n\n"+strings.TrimSpace(b)+"\n\n"+strings.TrimSpace(c), 1000)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	// The bridging paragraph appears in both chunks.
	if !strings.Contains(chunks[0], "beta") || !strings.Contains(chunks[1], "beta") {
		t.Errorf("overlap paragraph not carried across chunks")
	}
}

func TestChunkTextOversizedParagraph(t *testing.T) {
	huge := strings.TrimSpace(strings.Repeat("big ", 500)) // ~2000 runes
	chunks := chunkText("small paragraph\n\n"+huge+"\n\nanother small one", 1000)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[1] != huge {
		t.Error("oversized paragraph was not kept whole")
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if chunks := chunkText("   \n\n  ", 1000); chunks != nil {
		t.Errorf("chunks = %v, want nil", chunks)
	}
}
