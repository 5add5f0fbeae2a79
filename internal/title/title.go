// Package title derives short document labels from extracted text and
// applies the text styles offered by the result editor.
package title

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NoTextDetected is the sentinel text used when a provider found nothing.
const NoTextDetected = "No text detected"

// MaxWords is the number of leading words kept in a derived title.
const MaxWords = 3

var disallowed = regexp.MustCompile(`[^\w\s.,\-]`)

// DeriveTitle returns the first three words of text with characters outside
// word characters, whitespace and ".,-" removed. Empty, blank or sentinel
// text yields "".
func DeriveTitle(text string) string {
	if strings.TrimSpace(text) == "" || IsNoText(text) {
		return ""
	}

	words := strings.Fields(text)
	if len(words) > MaxWords {
		words = words[:MaxWords]
	}

	return strings.TrimSpace(disallowed.ReplaceAllString(strings.Join(words, " "), ""))
}

// IsNoText reports whether text contains the sentinel, ignoring case.
func IsNoText(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(NoTextDetected))
}

// NormalizeText maps blank text, or text equal to the sentinel in any case,
// to NoTextDetected. Anything else is returned trimmed.
func NormalizeText(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.EqualFold(trimmed, NoTextDetected) {
		return NoTextDetected
	}
	return trimmed
}

// Preview returns at most n runes of text.
func Preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// Style is a whole-text transformation from the result editor.
type Style string

const (
	StyleUppercase Style = "uppercase"
	StyleLowercase Style = "lowercase"
	StyleTitle     Style = "title"
	StyleParagraph Style = "paragraph"
	StyleBullet    Style = "bullet"
)

var (
	multiBlankLines = regexp.MustCompile(`\n\n+`)
	singleNewline   = regexp.MustCompile(`([^\n])\n([^\n])`)
)

// FormatText applies style to text. Unknown styles return text unchanged.
func FormatText(text string, style Style) string {
	switch style {
	case StyleUppercase:
		return cases.Upper(language.Und).String(text)
	case StyleLowercase:
		return cases.Lower(language.Und).String(text)
	case StyleTitle:
		return cases.Title(language.Und).String(text)
	case StyleParagraph:
		// Keep paragraph breaks, join wrapped lines.
		collapsed := multiBlankLines.ReplaceAllString(text, "\n\n")
		for singleNewline.MatchString(collapsed) {
			collapsed = singleNewline.ReplaceAllString(collapsed, "$1 $2")
		}
		return collapsed
	case StyleBullet:
		var lines []string
		for _, line := range strings.Split(text, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				lines = append(lines, "• "+trimmed)
			}
		}
		return strings.Join(lines, "\n")
	}
	return text
}
