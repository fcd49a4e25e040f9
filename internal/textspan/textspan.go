// Package textspan provides whitespace and case insensitive text matching
// that maps matches back to byte offsets in the original string, plus the
// word, token and sentence helpers shared by the pipeline stages.
package textspan

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var punctuationFold = map[rune]rune{
	'‘': '\'', '’': '\'', '“': '"', '”': '"',
	'–': '-', '—': '-', ' ': ' ',
}

func foldRune(r rune) rune {
	if f, ok := punctuationFold[r]; ok {
		r = f
	}
	return unicode.ToLower(r)
}

// Normalize lowercases s, folds typographic quotes and dashes, collapses
// whitespace runs to one space and trims the ends.
func Normalize(s string) string {
	n, _, _ := normalizeWithMap(s)
	return strings.TrimSpace(n)
}

// normalizeWithMap returns the normalized form of s together with, for every
// byte of the normalized string, the byte offset in s where the originating
// rune starts and ends.
func normalizeWithMap(s string) (string, []int, []int) {
	var b strings.Builder
	b.Grow(len(s))
	starts := make([]int, 0, len(s))
	ends := make([]int, 0, len(s))
	lastSpace := true

	for i, r := range s {
		size := utf8.RuneLen(r)
		if size < 0 {
			size = 1
		}
		r = foldRune(r)
		if unicode.IsSpace(r) {
			if lastSpace {
				continue
			}
			r = ' '
			lastSpace = true
		} else {
			lastSpace = false
		}
		before := b.Len()
		b.WriteRune(r)
		for j := before; j < b.Len(); j++ {
			starts = append(starts, i)
			ends = append(ends, i+size)
		}
	}
	return b.String(), starts, ends
}

// Locate finds needle in haystack ignoring case and whitespace differences
// and returns the byte range of the verbatim match in haystack.
func Locate(haystack, needle string) (start, end int, ok bool) {
	return LocateNearest(haystack, needle, 0)
}

// LocateNearest is Locate returning the match whose start is closest to
// byte offset near in haystack. Ties go to the earlier match.
func LocateNearest(haystack, needle string, near int) (start, end int, ok bool) {
	n := Normalize(needle)
	if n == "" {
		return 0, 0, false
	}
	norm, starts, ends := normalizeWithMap(haystack)

	best := -1
	for offset := 0; offset <= len(norm); {
		idx := strings.Index(norm[offset:], n)
		if idx < 0 {
			break
		}
		idx += offset
		if best < 0 || distance(starts[idx], near) < distance(starts[best], near) {
			best = idx
		} else if starts[idx] > near {
			// Later matches are only further away.
			break
		}
		_, size := utf8.DecodeRuneInString(norm[idx:])
		offset = idx + size
	}
	if best < 0 {
		return 0, 0, false
	}
	return starts[best], ends[best+len(n)-1], true
}

func distance(a, b int) int {
	if a < b {
		return b - a
	}
	return a - b
}

// Contains reports whether needle occurs in haystack after normalization.
func Contains(haystack, needle string) bool {
	n := Normalize(needle)
	return n != "" && strings.Contains(Normalize(haystack), n)
}

// WordCount returns the number of whitespace separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// FirstWords returns the verbatim prefix of s holding at most n words, with
// leading whitespace removed and inner spacing preserved.
func FirstWords(s string, n int) string {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if n <= 0 {
		return ""
	}
	words := 0
	inWord := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			if inWord {
				inWord = false
				if words == n {
					return s[:i]
				}
			}
			continue
		}
		if !inWord {
			inWord = true
			words++
		}
	}
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

// Truncate shortens s to at most maxRunes runes, cutting at the last word
// boundary inside the budget when there is one. It reports whether anything
// was removed.
func Truncate(s string, maxRunes int) (string, bool) {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s, false
	}
	cut := 0
	for i := range s {
		if maxRunes == 0 {
			cut = i
			break
		}
		maxRunes--
	}
	head := s[:cut]
	if idx := strings.LastIndexFunc(head, unicode.IsSpace); idx > len(head)/2 {
		head = head[:idx]
	}
	return strings.TrimRightFunc(head, unicode.IsSpace), true
}

// RuneToByteOffset converts a rune offset in s into a byte offset. Offsets
// past the end clamp to len(s).
func RuneToByteOffset(s string, runeOffset int) int {
	if runeOffset <= 0 {
		return 0
	}
	count := 0
	for i := range s {
		if count == runeOffset {
			return i
		}
		count++
	}
	return len(s)
}
