package quality

import (
	"regexp"
	"strings"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/textspan"
)

// Score weights. They sum to 1.
const (
	weightLength    = 0.3
	weightAtomicity = 0.3
	weightEvidence  = 0.2
	weightMeta      = 0.2
)

var (
	listMarker  = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+`)
	conjunction = regexp.MustCompile(`(?i)\b(?:and also|as well as|in addition)\b|;`)
)

// Score rates a candidate in [0,1] and lists the issues that lowered the
// score. The issues are handed to the rewrite prompt.
func (p *Pipeline) Score(c domain.CardCandidate, segText string) (float64, []string) {
	var issues []string

	lengthScore := p.lengthScore(c)
	if lengthScore < 1 {
		issues = append(issues, "answer length outside the ideal range")
	}

	atomicity := 1.0
	answer := c.Back
	if listMarker.MatchString(answer) {
		atomicity -= 0.5
		issues = append(issues, "answer is a list")
	}
	if conjunction.MatchString(answer) || strings.Count(answer, ",") >= 3 {
		atomicity -= 0.5
		issues = append(issues, "answer combines several facts")
	}
	if strings.Count(c.Front, "?") > 1 {
		atomicity -= 0.5
		issues = append(issues, "question asks several things")
	}
	atomicity = max(0, atomicity)

	evidence := 0.0
	if c.SourceSpan != "" && strings.Contains(segText, c.SourceSpan) {
		evidence = 1
	} else {
		issues = append(issues, "evidence is not a literal quote")
	}

	meta := 1.0
	if phrase, ok := p.metaPhrase(c.Front + " " + c.Back); ok {
		meta = 0
		issues = append(issues, "mentions "+phrase)
	}

	score := weightLength*lengthScore + weightAtomicity*atomicity + weightEvidence*evidence + weightMeta*meta
	return max(0, min(1, score)), issues
}

// lengthScore is 1 inside the answer word band and decays linearly outside
// it. Cloze cards are measured on the front, which holds the sentence.
func (p *Pipeline) lengthScore(c domain.CardCandidate) float64 {
	lo, hi := p.opts.AnswerMinWords, p.opts.AnswerMaxWords
	words := textspan.WordCount(c.Back)
	if c.Type == domain.CardTypeCloze {
		words = textspan.WordCount(c.Front)
		hi *= 2
	}
	switch {
	case words == 0:
		return 0
	case words < lo:
		return float64(words) / float64(lo)
	case words > hi:
		return float64(hi) / float64(words)
	default:
		return 1
	}
}

func (p *Pipeline) metaPhrase(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, b := range p.banned {
		if strings.Contains(lower, b) {
			return b, true
		}
	}
	return "", false
}
