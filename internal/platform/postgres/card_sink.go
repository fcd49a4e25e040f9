package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-pipeline/internal/domain"
	"github.com/phrazzld/scry-pipeline/internal/sink"
	"github.com/phrazzld/scry-pipeline/internal/store"
)

// PostgresCardSink implements sink.CardSink by writing cards to the
// exported_cards table. A card with the same deck and front as an earlier
// export replaces it.
type PostgresCardSink struct {
	db       *sql.DB
	renderer *sink.Renderer
	logger   *slog.Logger
}

var _ sink.CardSink = (*PostgresCardSink)(nil)

// NewPostgresCardSink creates a new PostgresCardSink.
func NewPostgresCardSink(db *sql.DB, renderer *sink.Renderer, logger *slog.Logger) (*PostgresCardSink, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &PostgresCardSink{db: db, renderer: renderer, logger: logger.With("component", "postgres_card_sink")}, nil
}

// Upload implements sink.CardSink. The batch is written in one transaction.
func (s *PostgresCardSink) Upload(ctx context.Context, cards []domain.ExportCard) error {
	if err := sink.ValidateCards(cards); err != nil {
		return err
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for i, c := range cards {
			if err := s.insert(ctx, tx, c); err != nil {
				return fmt.Errorf("card %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to export cards", "count", len(cards), "error", err)
		return store.NewStoreError("exported_card", "upload", "failed to export cards", err)
	}

	s.logger.InfoContext(ctx, "cards stored", "count", len(cards))
	return nil
}

func (s *PostgresCardSink) insert(ctx context.Context, db store.DBTX, c domain.ExportCard) error {
	r, err := s.renderer.Render(c)
	if err != nil {
		return err
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO exported_cards (id, deck, front, back, front_html, back_html, tags, source_evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (deck, front) DO UPDATE
		SET back = EXCLUDED.back,
			back_html = EXCLUDED.back_html,
			front_html = EXCLUDED.front_html,
			tags = EXCLUDED.tags,
			source_evidence = EXCLUDED.source_evidence
	`, uuid.New(), c.Deck, c.Front, c.Back, r.FrontHTML, r.BackHTML, tagsJSON, c.SourceEvidence)
	return MapError(err)
}

// CountCards returns the number of stored cards in deck.
func (s *PostgresCardSink) CountCards(ctx context.Context, deck string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exported_cards WHERE deck = $1`, deck).Scan(&n)
	if err != nil {
		return 0, MapError(err)
	}
	return n, nil
}
