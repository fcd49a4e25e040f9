package quality

import (
	"context"
	"strings"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/prompts"
	"github.com/phrazzld/scry-pipeline/internal/redact"
	"github.com/phrazzld/scry-pipeline/internal/textspan"
	"github.com/phrazzld/scry-pipeline/internal/vector"
)

// labelWeight is how much the declared label's exemplars pull the topic a
// card is compared with, relative to the segment text.
const labelWeight = 0.5

// checklistOverlap is the share of a checklist line's words a card may
// repeat before it counts as copied.
const checklistOverlap = 0.8

// checkEvidence replaces the candidate's evidence with the verbatim segment
// text it matches. Evidence longer than EvidenceMaxWords is clipped to its
// first words; shorter than EvidenceMinWords fails unless the segment itself
// is that short.
func (p *Pipeline) checkEvidence(segText string, c *domain.CardCandidate) bool {
	start, end, ok := textspan.Locate(segText, c.SourceSpan)
	if !ok {
		return false
	}
	verbatim := segText[start:end]

	words := textspan.WordCount(verbatim)
	if words > p.opts.EvidenceMaxWords {
		verbatim = textspan.FirstWords(verbatim, p.opts.EvidenceMaxWords)
	}
	if words < p.opts.EvidenceMinWords && textspan.WordCount(segText) >= p.opts.EvidenceMinWords {
		return false
	}
	c.SourceSpan = verbatim
	return true
}

// checkRelevance fails cards copied from the checklist, then compares the
// card with its topic: the segment text pulled towards the exemplars of the
// segment's declared label. Similarity is by embedding, or by keyword
// overlap when no embedding is available.
func (p *Pipeline) checkRelevance(ctx context.Context, req domain.GenerationRequest, segText string, c *domain.CardCandidate) (bool, error) {
	if p.copiesChecklist(c.Front) || p.copiesChecklist(c.Back) {
		return false, nil
	}

	cardText := c.Front + " " + c.Back
	exemplars := p.pack.Exemplars(string(c.Label))
	if ref := req.Providers.Embedding; p.gateway.CanEmbed(ref) {
		texts := append([]string{cardText, segText}, exemplars...)
		vecs, err := p.gateway.EmbedBatch(ctx, ref, texts)
		switch {
		case err == nil:
			var label []float32
			if len(vecs) > 2 {
				label = vector.Centroid(vecs[2:]...)
			}
			topic := vector.Blend(vecs[1], label, labelWeight)
			return vector.Cosine(vecs[0], topic) >= p.opts.RelevanceThreshold, nil
		case isCancelled(err):
			return false, err
		default:
			p.logger.DebugContext(ctx, "embedding relevance unavailable, using keyword overlap", "error", redact.Error(err))
		}
	}
	topic := textspan.TokenSet(segText + "\n" + strings.Join(exemplars, "\n"))
	return textspan.Overlap(cardText, topic) >= p.opts.KeywordOverlapThreshold, nil
}

// copiesChecklist reports whether s repeats a checklist line or the
// checklist delimiters.
func (p *Pipeline) copiesChecklist(s string) bool {
	if strings.Contains(s, prompts.ChecklistOpen) || strings.Contains(s, prompts.ChecklistClose) {
		return true
	}
	for _, item := range p.checklist {
		if textspan.Contains(s, item) {
			return true
		}
		ref := textspan.TokenSet(item)
		if len(ref) < 3 {
			continue
		}
		// Share of the checklist line's words found in s.
		if textspan.Overlap(item, textspan.TokenSet(s)) >= checklistOverlap {
			return true
		}
	}
	return false
}
