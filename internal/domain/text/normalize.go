// Package text holds the canonical whitespace form shared by ingestion and chunking.
package text

import (
	"regexp"
	"strings"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	blankLineRun    = regexp.MustCompile(`\n{3,}`)
	lineEndings     = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// Normalize converts raw extracted text into canonical form: line endings unified to \n,
// runs of spaces and tabs collapsed to one space, three or more newlines collapsed to a
// paragraph break, and surrounding whitespace trimmed.
func Normalize(raw string) string {
	s := lineEndings.Replace(raw)
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = blankLineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
