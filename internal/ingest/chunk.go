package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var (
	frontmatterRe = regexp.MustCompile(`(?s)\A---\n(.*?)\n---\n?`)
	codeBlockRe   = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe  = regexp.MustCompile("`[^`]+`")
	importRe      = regexp.MustCompile(`(?m)^import\s+.*?;?\n`)
	selfCloseRe   = regexp.MustCompile(`<\w+[^>]*?/>`)
	pairedTagRe   = regexp.MustCompile(`(?s)<\w+[^>]*?>.*?</\w+>`)
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	boldRe        = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe      = regexp.MustCompile(`\*([^*]+)\*`)
	underBoldRe   = regexp.MustCompile(`__([^_]+)__`)
	underItalicRe = regexp.MustCompile(`_([^_]+)_`)
	headingRe     = regexp.MustCompile(`(?m)^#+\s+`)
	bulletRe      = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	orderedRe     = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	spaceRunRe    = regexp.MustCompile(` {2,}`)
	chapterIDRe   = regexp.MustCompile(`(\d+\.[\d.]+)`)
)

// frontmatterTitle pulls the title field from a YAML frontmatter block, if
// any.
func frontmatterTitle(content string) string {
	m := frontmatterRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	for line := range strings.Lines(m[1]) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "title" {
			return strings.Trim(strings.TrimSpace(value), `"'`)
		}
	}
	return ""
}

// cleanMarkdown reduces MDX/markdown source to plain prose: frontmatter,
// code blocks, imports, and JSX components are dropped entirely (code is
// excluded from embeddings), formatting markers are unwrapped.
func cleanMarkdown(content string) string {
	content = frontmatterRe.ReplaceAllString(content, "")
	content = codeBlockRe.ReplaceAllString(content, "")
	content = inlineCodeRe.ReplaceAllString(content, "")
	content = importRe.ReplaceAllString(content, "")
	content = selfCloseRe.ReplaceAllString(content, "")
	content = pairedTagRe.ReplaceAllString(content, "")
	content = linkRe.ReplaceAllString(content, "$1")
	content = boldRe.ReplaceAllString(content, "$1")
	content = italicRe.ReplaceAllString(content, "$1")
	content = underBoldRe.ReplaceAllString(content, "$1")
	content = underItalicRe.ReplaceAllString(content, "$1")
	content = headingRe.ReplaceAllString(content, "")
	content = bulletRe.ReplaceAllString(content, "")
	content = orderedRe.ReplaceAllString(content, "")
	content = blankRunRe.ReplaceAllString(content, "\n\n")
	content = spaceRunRe.ReplaceAllString(content, " ")
	return strings.TrimSpace(content)
}

// cleanHTML extracts the visible prose of an HTML chapter. Script, style,
// and code elements are removed before text extraction.
func cleanHTML(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, pre, code").Remove()

	var b strings.Builder
	doc.Find("p, h1, h2, h3, h4, h5, h6, li, td, th, blockquote").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	})
	if b.Len() == 0 {
		// No block elements; fall back to the whole document text.
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.TrimSpace(b.String()), nil
}

// htmlTitle returns the document title of an HTML chapter.
func htmlTitle(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// chapterIDFromPath derives a dotted chapter id from a chapter file path.
// The filename is checked first, then each ancestor directory:
// docs/module-1/week-1-2/1.1-introduction.mdx yields "1.1". Files with no
// numeric id fall back to the bare filename.
func chapterIDFromPath(path string) string {
	stem := path
	if i := strings.LastIndexByte(stem, '/'); i >= 0 {
		stem = stem[i+1:]
	}
	if i := strings.LastIndexByte(stem, '.'); i > 0 {
		stem = stem[:i]
	}
	if m := chapterIDRe.FindString(stem); m != "" {
		return strings.TrimSuffix(m, ".")
	}
	for part := range strings.SplitSeq(path, "/") {
		if m := chapterIDRe.FindString(part); m != "" {
			return strings.TrimSuffix(m, ".")
		}
	}
	return stem
}

// chunkText splits prose into chunks of roughly size runes, keeping
// paragraph boundaries intact. The last paragraph of each chunk is repeated
// at the start of the next so no statement loses its surrounding context.
// Paragraphs longer than size become chunks of their own.
func chunkText(text string, size int) []string {
	paragraphs := make([]string, 0, 16)
	for p := range strings.SplitSeq(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []string
	var cur []string
	curLen := 0
	fresh := 0 // paragraphs in cur that are not overlap carry-over

	for _, p := range paragraphs {
		n := utf8.RuneCountInString(p)
		if curLen > 0 && curLen+n > size {
			chunks = append(chunks, strings.Join(cur, "\n\n"))
			tail := cur[len(cur)-1]
			tailLen := utf8.RuneCountInString(tail)
			if tailLen+n <= size {
				cur, curLen = []string{tail}, tailLen
			} else {
				cur, curLen = nil, 0
			}
			fresh = 0
		}
		cur = append(cur, p)
		curLen += n
		fresh++
	}
	if fresh > 0 {
		chunks = append(chunks, strings.Join(cur, "\n\n"))
	}
	return chunks
}
