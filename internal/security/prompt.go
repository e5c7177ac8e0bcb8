// Package security screens user questions before they reach the model
// prompt.
//
// No filter is perfect. This catches common injection patterns; system
// prompt hardening and citation-grounded answering remain the second line.
package security

import (
	"regexp"
	"strings"
	"unicode"
)

// PromptValidator detects prompt injection attempts in reader questions.
// Safe for concurrent use after construction.
type PromptValidator struct {
	patterns []*regexp.Regexp
}

// NewPromptValidator creates a validator with the default pattern set.
func NewPromptValidator() *PromptValidator {
	patterns := []string{
		// System prompt override attempts
		`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`,
		`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?)`,
		`(?i)forget\s+(all\s+)?(previous|above|prior)\s+(instructions?|context)`,
		`(?i)override\s+(all\s+)?(previous|above|prior)\s+(instructions?|rules?)`,

		// Role reassignment
		`(?i)^(pretend|act|behave|imagine)\s+(you\s+are|to\s+be|as\s+if|like)`,
		`(?i)^you\s+are\s+now\s+a`,
		`(?i)^from\s+now\s+on,?\s+you\s+(are|will|must)`,

		// Instruction injection
		`(?i)^new\s+(instruction|task|rule)\s*:`,
		`(?i)^admin\s*(mode|override|command)\s*:`,

		// Delimiter manipulation: escaping the passage tags or faking
		// system turns
		`(?i)\]\s*\[\s*(system|assistant|instruction)`,
		`(?i)</?(system|instruction|prompt)>`,
		`(?i)---+\s*(system|new\s+instruction)`,

		// Jailbreak phrases
		`(?i)do\s+anything\s+now`,
		`(?i)jailbreak`,
		`(?i)bypass\s+(safety|filter|restrictions?)`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return &PromptValidator{patterns: compiled}
}

// IsSafe reports whether the question is free of known injection patterns.
func (v *PromptValidator) IsSafe(question string) bool {
	return len(v.Detect(question)) == 0
}

// Detect returns the patterns the question matched, empty when clean.
func (v *PromptValidator) Detect(question string) []string {
	normalized := normalize(question)
	var detected []string
	for _, re := range v.patterns {
		if re.MatchString(normalized) {
			detected = append(detected, re.String())
		}
	}
	return detected
}

// normalize strips zero-width and combining characters that evade pattern
// matching and collapses all whitespace to single spaces.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Cf, r) || unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsSpace(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
