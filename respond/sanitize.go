package respond

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	markdownLink = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headingMark  = regexp.MustCompile(`(?m)^#+\s*`)
	listMark     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
)

// Sanitize strips markdown and control characters so nothing unspeakable
// reaches TTS, then clamps the line to maxChars at a word boundary.
func Sanitize(text string, maxChars int) string {
	s := markdownLink.ReplaceAllString(text, "$1")
	s = headingMark.ReplaceAllString(s, "")
	s = listMark.ReplaceAllString(s, "")
	s = strings.NewReplacer("**", "", "__", "", "`", "", "~~", "", "*", "", "_", " ").Replace(s)

	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' {
			continue
		}
		if r == '\n' {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	s = strings.Join(strings.Fields(b.String()), " ")

	if maxChars > 0 && len(s) > maxChars {
		s = clampAtWord(s, maxChars)
	}
	return s
}

// clampAtWord cuts at the last word boundary before the limit.
func clampAtWord(s string, maxChars int) string {
	cut := s[:maxChars]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,;:") + "."
}
