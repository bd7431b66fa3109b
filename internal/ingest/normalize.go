package ingest

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minContentRunes is the floor below which an extraction is treated as not
// indexable. Resumes shorter than this are almost always failed extractions
// (scanned PDFs, image-only documents).
const minContentRunes = 80

// pageNumberLine matches standalone page markers such as "3", "Page 2",
// "2 of 5" or "2/5".
var pageNumberLine = regexp.MustCompile(`(?i)^(page\s+)?\d+(\s*(of|/)\s*\d+)?$`)

// repeatedLineThreshold is how many identical occurrences of a short line
// mark it as a running header or footer.
const repeatedLineThreshold = 3

// Indexable reports whether normalized text is long enough to index.
func Indexable(text string) bool {
	return utf8.RuneCountInString(text) >= minContentRunes
}

// Normalize converts raw extracted text into canonical indexable form.
// It is pure and deterministic: the same input always yields the same output.
func Normalize(text string) string {
	text = stripControl(text)
	lines := strings.Split(text, "\n")
	lines = dehyphenate(lines)
	lines = stripPageArtifacts(lines)

	for i, line := range lines {
		lines[i] = collapseSpaces(line)
	}
	return collapseBlankLines(lines)
}

// stripControl drops invalid UTF-8 sequences and control characters,
// keeping newlines and converting tabs to spaces.
func stripControl(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case r == utf8.RuneError:
			continue
		case r == '\n':
			sb.WriteRune(r)
		case r == '\t':
			sb.WriteByte(' ')
		case r == '\r':
			continue
		case unicode.IsControl(r):
			continue
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// dehyphenate rejoins words split across lines by a trailing hyphen, e.g.
// "experi-\nence" becomes "experience". Only applies when the next line
// starts with a lowercase letter, so legitimate hyphens survive.
func dehyphenate(lines []string) []string {
	out := make([]string, 0, len(lines))
	i := 0
	for i < len(lines) {
		line := strings.TrimRight(lines[i], " ")
		for strings.HasSuffix(line, "-") && i+1 < len(lines) {
			next := strings.TrimLeft(lines[i+1], " ")
			r, _ := utf8.DecodeRuneInString(next)
			if !unicode.IsLower(r) {
				break
			}
			line = strings.TrimSuffix(line, "-") + next
			i++
		}
		out = append(out, line)
		i++
	}
	return out
}

// stripPageArtifacts removes page-number lines and short lines that repeat
// verbatim across the document (running headers and footers).
func stripPageArtifacts(lines []string) []string {
	counts := make(map[string]int, len(lines))
	for _, line := range lines {
		key := strings.TrimSpace(line)
		if key != "" && utf8.RuneCountInString(key) < 60 {
			counts[key]++
		}
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		key := strings.TrimSpace(line)
		if key != "" {
			if pageNumberLine.MatchString(key) {
				continue
			}
			if counts[key] >= repeatedLineThreshold {
				continue
			}
		}
		out = append(out, line)
	}
	return out
}

func collapseSpaces(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

// collapseBlankLines joins lines keeping at most one blank line between
// paragraphs and trims leading/trailing whitespace.
func collapseBlankLines(lines []string) string {
	var sb strings.Builder
	blanks := 0
	for _, line := range lines {
		if line == "" {
			blanks++
			continue
		}
		if sb.Len() > 0 {
			if blanks > 0 {
				sb.WriteString("\n\n")
			} else {
				sb.WriteByte('\n')
			}
		}
		sb.WriteString(line)
		blanks = 0
	}
	return sb.String()
}
