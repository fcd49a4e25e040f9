package textspan

import (
	"unicode"
	"unicode/utf8"
)

// Span is a byte range [Start, End) of a string.
type Span struct {
	Start int
	End   int
}

// Sentences splits text into sentence spans. A sentence ends after '.', '!'
// or '?' (plus any closing quotes or brackets) when followed by whitespace
// and an uppercase letter, digit or opening quote, or at a blank line.
// Spans are trimmed of surrounding whitespace and never empty.
func Sentences(text string) []Span {
	var spans []Span
	start := 0
	emit := func(end int) {
		s, e := trimSpan(text, start, end)
		if s < e {
			spans = append(spans, Span{Start: s, End: e})
		}
		start = end
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == '\n' && blankLineFollows(text, i+size):
			emit(i)
		case r == '.' || r == '!' || r == '?':
			j := i + size
			for j < len(text) {
				c, csize := utf8.DecodeRuneInString(text[j:])
				if c != '"' && c != '\'' && c != ')' && c != ']' && c != '”' && c != '’' {
					break
				}
				j += csize
			}
			if j >= len(text) {
				break
			}
			if next, ok := nextAfterSpace(text, j); ok && (unicode.IsUpper(next) || unicode.IsDigit(next) || next == '"' || next == '“') {
				emit(j)
				i = j
				continue
			}
		}
		i += size
	}
	emit(len(text))
	return spans
}

func blankLineFollows(text string, i int) bool {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == '\n' {
			return true
		}
		if !unicode.IsSpace(r) {
			return false
		}
		i += size
	}
	return false
}

// nextAfterSpace returns the first non-space rune after i, requiring at
// least one space rune at i.
func nextAfterSpace(text string, i int) (rune, bool) {
	sawSpace := false
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			return r, sawSpace
		}
		sawSpace = true
		i += size
	}
	return 0, false
}

func trimSpan(text string, s, e int) (int, int) {
	for s < e {
		r, size := utf8.DecodeRuneInString(text[s:])
		if !unicode.IsSpace(r) {
			break
		}
		s += size
	}
	for e > s {
		r, size := utf8.DecodeLastRuneInString(text[s:e])
		if !unicode.IsSpace(r) {
			break
		}
		e -= size
	}
	return s, e
}
