package domain

import (
	"fmt"
	"strings"
)

// CandidateStage is the position of a card candidate in the quality gate.
type CandidateStage string

// Quality gate stages. Validated and Rejected are terminal.
const (
	StageGenerated        CandidateStage = "generated"
	StageSourceChecked    CandidateStage = "source_checked"
	StageRelevanceChecked CandidateStage = "relevance_checked"
	StageScored           CandidateStage = "scored"
	StageRewritten        CandidateStage = "rewritten"
	StageValidated        CandidateStage = "validated"
	StageRejected         CandidateStage = "rejected"
)

// RejectReason records why a candidate left the gate without being accepted.
type RejectReason string

// Rejection reasons.
const (
	RejectNone             RejectReason = ""
	RejectEvidenceMismatch RejectReason = "evidence_mismatch"
	RejectRelevanceFailure RejectReason = "relevance_failure"
	RejectLowQuality       RejectReason = "low_quality"
	RejectLLMValidation    RejectReason = "llm_validation"
)

var allowedTransitions = map[CandidateStage][]CandidateStage{
	StageGenerated:        {StageSourceChecked, StageRejected},
	StageSourceChecked:    {StageRelevanceChecked, StageRejected},
	StageRelevanceChecked: {StageScored, StageRejected},
	StageScored:           {StageValidated, StageRewritten, StageRejected},
	StageRewritten:        {StageSourceChecked, StageRejected},
	StageValidated:        {StageRejected},
}

// CardCandidate is a generated front/back pair moving through the quality
// gate. Only the quality gate changes Stage and QualityScore, and a rejected
// candidate is never changed again.
type CardCandidate struct {
	Front        string         `json:"front"`
	Back         string         `json:"back"`
	Type         CardType       `json:"type"`
	SourceSpan   string         `json:"source_span"`
	QualityScore float64        `json:"quality_score"`
	Stage        CandidateStage `json:"stage"`
	RejectReason RejectReason   `json:"reject_reason,omitempty"`
	SegmentIndex int            `json:"segment_index"`
	Label        SegmentLabel   `json:"label,omitempty"`
	Rewrites     int            `json:"rewrites"`
	Degraded     bool           `json:"degraded,omitempty"`
}

// NewCardCandidate creates a candidate in the Generated stage. Cards of type
// Mixed are stored as Basic.
func NewCardCandidate(front, back string, cardType CardType, src string) CardCandidate {
	if cardType != CardTypeCloze {
		cardType = CardTypeBasic
	}
	return CardCandidate{
		Front:      strings.TrimSpace(front),
		Back:       strings.TrimSpace(back),
		Type:       cardType,
		SourceSpan: strings.TrimSpace(src),
		Stage:      StageGenerated,
	}
}

// Transition moves the candidate to the next stage.
func (c *CardCandidate) Transition(to CandidateStage) error {
	for _, allowed := range allowedTransitions[c.Stage] {
		if allowed == to {
			c.Stage = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Stage, to)
}

// Reject marks the candidate rejected with the given reason.
func (c *CardCandidate) Reject(reason RejectReason) error {
	if err := c.Transition(StageRejected); err != nil {
		return err
	}
	c.RejectReason = reason
	return nil
}

// Accepted reports whether the candidate passed the gate.
func (c *CardCandidate) Accepted() bool {
	return c.Stage == StageValidated
}

// ExportCard is the shape handed to a card sink.
type ExportCard struct {
	Front          string   `json:"front" validate:"required"`
	Back           string   `json:"back" validate:"required"`
	Deck           string   `json:"deck" validate:"required"`
	Tags           []string `json:"tags,omitempty"`
	SourceEvidence string   `json:"source_evidence"`
}

// ToExport converts an accepted candidate into an ExportCard.
func (c CardCandidate) ToExport(deck string, tags []string) ExportCard {
	out := ExportCard{
		Front:          c.Front,
		Back:           c.Back,
		Deck:           deck,
		SourceEvidence: c.SourceSpan,
	}
	if len(tags) > 0 {
		out.Tags = append([]string(nil), tags...)
	}
	if c.Label != "" {
		out.Tags = append(out.Tags, string(c.Label))
	}
	return out
}
