package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/scry-pipeline/internal/domain"
)

// ErrInvalidCard is returned when an export card fails validation.
var ErrInvalidCard = errors.New("invalid export card")

// CardSink accepts exported cards. Implementations must be safe for
// concurrent use.
type CardSink interface {
	// Upload stores cards as one batch. Either every card is stored or
	// none is.
	Upload(ctx context.Context, cards []domain.ExportCard) error
}

var validate = validator.New()

// ValidateCards checks every card's required fields.
func ValidateCards(cards []domain.ExportCard) error {
	if len(cards) == 0 {
		return fmt.Errorf("%w: no cards", ErrInvalidCard)
	}
	for i, c := range cards {
		if err := validate.Struct(c); err != nil {
			return fmt.Errorf("%w: card %d: %v", ErrInvalidCard, i, err)
		}
	}
	return nil
}

// LogSink writes cards to a logger. It is used when no database is
// configured.
type LogSink struct {
	renderer *Renderer
	logger   *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(renderer *Renderer, logger *slog.Logger) *LogSink {
	return &LogSink{renderer: renderer, logger: logger.With("component", "log_sink")}
}

// Upload implements CardSink.
func (s *LogSink) Upload(ctx context.Context, cards []domain.ExportCard) error {
	if err := ValidateCards(cards); err != nil {
		return err
	}
	for _, c := range cards {
		r, err := s.renderer.Render(c)
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "exported card",
			"deck", c.Deck,
			"tags", strings.Join(c.Tags, ","),
			"front_html", r.FrontHTML,
			"back_chars", len(r.BackHTML))
	}
	return nil
}
