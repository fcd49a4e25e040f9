package generation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/llmjson"
)

var cardSchema = llmjson.MustCompile("card.json", `{
	"type": "object",
	"required": ["front", "back"],
	"properties": {
		"front": {"type": "string", "pattern": "\\S"},
		"back": {"type": "string", "pattern": "\\S"},
		"type": {"type": "string"},
		"src": {"type": "string"}
	}
}`)

var clozeDeletion = regexp.MustCompile(`\{\{c\d+::[^}]+\}\}`)

type rawCard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
	Type  string `json:"type"`
	Src   string `json:"src"`
}

// ParseCards extracts card candidates from a model response. It reads the
// first array holding at least one valid card and reports how many of its
// elements were dropped. It returns false when the response holds no
// usable card, so the caller can fall back.
func ParseCards(response string, requested domain.CardType) ([]domain.CardCandidate, int, bool) {
	items, dropped, ok := llmjson.FindValid(response, cardSchema, "cards", "flashcards")
	if !ok {
		return nil, dropped, false
	}

	cards := make([]domain.CardCandidate, 0, len(items))
	for _, raw := range items {
		var rc rawCard
		if err := json.Unmarshal(raw, &rc); err != nil {
			dropped++
			continue
		}
		cards = append(cards, domain.NewCardCandidate(rc.Front, rc.Back, cardType(requested, rc), rc.Src))
	}
	if len(cards) == 0 {
		return nil, dropped, false
	}
	return cards, dropped, true
}

// cardType applies the request's card type. Basic and cloze requests force
// the type, mixed keeps the model's choice, and a cloze card without a
// deletion is basic.
func cardType(requested domain.CardType, rc rawCard) domain.CardType {
	t := requested
	if requested == domain.CardTypeMixed {
		t = domain.CardType(strings.ToLower(strings.TrimSpace(rc.Type)))
	}
	if t != domain.CardTypeCloze {
		return domain.CardTypeBasic
	}
	if !HasClozeDeletion(rc.Front) && !HasClozeDeletion(rc.Back) {
		return domain.CardTypeBasic
	}
	return domain.CardTypeCloze
}

// HasClozeDeletion reports whether s holds a {{c1::...}} style deletion.
func HasClozeDeletion(s string) bool {
	return clozeDeletion.MatchString(s)
}
