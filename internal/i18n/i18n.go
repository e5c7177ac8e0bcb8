// Package i18n provides localized user-facing messages.
//
// The service answers in the language of the textbook corpus being queried
// (English or Urdu), so user-visible strings are looked up per request rather
// than from a process-wide language setting.
package i18n

import "strings"

// Supported languages.
const (
	LangEN = "en"
	LangUR = "ur"
)

// Normalize maps a client-supplied language code onto a supported language.
// Unknown codes fall back to English.
func Normalize(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "ur", "ur-pk", "urdu":
		return LangUR
	default:
		return LangEN
	}
}

// T returns the translated message for key in the given language.
// Falls back to English, then to the key itself so a missing translation is
// visible instead of silent.
func T(lang, key string) string {
	if m, ok := messages[Normalize(lang)]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if s, ok := messages[LangEN][key]; ok {
		return s
	}
	return key
}

// Fallback returns the below-threshold fallback answer for the language.
func Fallback(lang string) string {
	return T(lang, "answer.fallback")
}
