package textspan

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be been but by can could did do does
		for from had has have how in into is it its may might more most must not of on or
		our should so such than that the their them then there these they this those through
		to too under up very was were what when where which while who whom why will with
		would you your about after also any because before being both each few further here
		if just only other over same some very`) {
		stopwords[w] = struct{}{}
	}
}

// Tokens returns the lowercased content words of s: letter or digit runs of
// at least three characters that are not stopwords.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TokenSet returns the distinct content words of s.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokens(s) {
		set[t] = struct{}{}
	}
	return set
}

// Overlap returns the fraction of distinct content words of s that also
// occur in ref. It is 0 when s has no content words.
func Overlap(s string, ref map[string]struct{}) float64 {
	set := TokenSet(s)
	if len(set) == 0 {
		return 0
	}
	hits := 0
	for t := range set {
		if _, ok := ref[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(set))
}
