package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

// SaveParsedCard inserts a listing observed during catalog traversal. On
// re-observation under a different article only the parsed_data article
// marker is refreshed; detail fields filled by enrichment stay untouched.
func (s *Store) SaveParsedCard(ctx context.Context, article string, l avito.Listing) error {
	parsedData := map[string]any{
		"article":     article,
		"title":       l.Title,
		"description": l.Description,
		"price":       l.Price,
		"seller":      l.Seller,
	}
	for k, v := range l.Raw {
		parsedData[k] = v
	}
	blob, err := json.Marshal(parsedData)
	if err != nil {
		return fmt.Errorf("marshal parsed_data for card %d: %w", l.AvitoItemID, err)
	}

	const q = `
		INSERT INTO parsed_cards (
			avito_item_id, article, title, description,
			price, seller_name, parsed_data, parsed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (avito_item_id) DO UPDATE SET
			article = EXCLUDED.article,
			parsed_data = parsed_cards.parsed_data || jsonb_build_object('article', $2::text)`

	err = s.withRetry(ctx, "save_parsed_card", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q,
			l.AvitoItemID, article, l.Title, l.Description, l.Price, l.Seller, blob)
		return err
	})
	if err != nil {
		return fmt.Errorf("save parsed card %d: %w", l.AvitoItemID, err)
	}
	return nil
}

// CheckExistingCards reports which of the given item ids are already stored.
func (s *Store) CheckExistingCards(ctx context.Context, itemIDs []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(itemIDs))
	if len(itemIDs) == 0 {
		return existing, nil
	}

	err := s.withRetry(ctx, "check_existing_cards", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT avito_item_id FROM parsed_cards WHERE avito_item_id = ANY($1)`,
			pq.Array(itemIDs))
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			existing[id] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("check existing cards: %w", err)
	}
	return existing, nil
}

// SaveValidationResult records one validation decision for one card and
// stage.
func (s *Store) SaveValidationResult(ctx context.Context, itemID int64, validationType string, passed bool, rejectionReason string, details map[string]any) error {
	var detailsBlob []byte
	if details != nil {
		var err error
		detailsBlob, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal validation details for card %d: %w", itemID, err)
		}
	}

	const q = `
		INSERT INTO validation_results (
			avito_item_id, validation_type, passed,
			rejection_reason, validation_details, created_at
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW())`

	err := s.withRetry(ctx, "save_validation_result", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, itemID, validationType, passed, rejectionReason, detailsBlob)
		return err
	})
	if err != nil {
		return fmt.Errorf("save %s validation result for card %d: %w", validationType, itemID, err)
	}
	return nil
}

// latestValidation selects the most recent decision for a card and stage.
const latestValidation = `
	SELECT vr.passed FROM validation_results vr
	WHERE vr.avito_item_id = pc.avito_item_id AND vr.validation_type = $2
	ORDER BY vr.created_at DESC LIMIT 1`

// GetCardsForAIValidation returns the article's cards whose latest
// mechanical decision passed. These are the only cards the AI stage may see.
func (s *Store) GetCardsForAIValidation(ctx context.Context, article string) ([]Card, error) {
	const q = `
		SELECT pc.avito_item_id, pc.article, pc.title,
		       COALESCE(pc.description, ''), COALESCE(pc.price, 0),
		       COALESCE(pc.seller_name, '')
		FROM parsed_cards pc
		WHERE pc.article = $1
		  AND COALESCE((` + latestValidation + `), FALSE)`

	return s.queryCards(ctx, "get_cards_for_ai", q, article, ValidationMechanical)
}

// GetCardsForDetailedParsing returns cards that passed both stages and have
// no detail data yet. When the AI stage was skipped (no API key) there are
// no AI rows at all, so a missing AI decision counts as a pass while a
// recorded AI rejection excludes the card.
func (s *Store) GetCardsForDetailedParsing(ctx context.Context, article string) ([]Card, error) {
	const q = `
		SELECT pc.avito_item_id, pc.article, pc.title,
		       COALESCE(pc.description, ''), COALESCE(pc.price, 0),
		       COALESCE(pc.seller_name, '')
		FROM parsed_cards pc
		WHERE pc.article = $1
		  AND pc.published_at IS NULL
		  AND COALESCE((` + latestValidation + `), FALSE)
		  AND COALESCE((
			SELECT vr.passed FROM validation_results vr
			WHERE vr.avito_item_id = pc.avito_item_id AND vr.validation_type = 'AI'
			ORDER BY vr.created_at DESC LIMIT 1
		  ), TRUE)`

	return s.queryCards(ctx, "get_cards_for_detail", q, article, ValidationMechanical)
}

func (s *Store) queryCards(ctx context.Context, op, q string, args ...any) ([]Card, error) {
	var cards []Card
	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		cards = cards[:0]
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var c Card
			if err := rows.Scan(&c.AvitoItemID, &c.Article, &c.Title,
				&c.Description, &c.Price, &c.SellerName); err != nil {
				return err
			}
			cards = append(cards, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cards, nil
}

// UpdateCardDetailedData merges detail-page fields into a card: dedicated
// columns plus a parsed_data JSONB merge. Zero updated rows means the caller
// enriched a card that was never saved, which is a programming error.
func (s *Store) UpdateCardDetailedData(ctx context.Context, itemID int64, d avito.CardDetails) error {
	detail := map[string]any{
		"published_at": d.PublishedAt.Format(time.RFC3339),
		"location":     d.Location,
		"views_total":  d.ViewsTotal,
	}
	if d.Characteristics != nil {
		detail["characteristics"] = d.Characteristics
	}
	blob, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal detail data for card %d: %w", itemID, err)
	}

	chars, err := json.Marshal(d.Characteristics)
	if err != nil {
		return fmt.Errorf("marshal characteristics for card %d: %w", itemID, err)
	}

	const q = `
		UPDATE parsed_cards
		SET published_at = $2,
		    location = $3,
		    views_count = $4,
		    characteristics = $5,
		    parsed_data = parsed_data || $6
		WHERE avito_item_id = $1`

	err = s.withRetry(ctx, "update_card_detail", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, q,
			itemID, d.PublishedAt, d.Location, d.ViewsTotal, chars, blob)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("card %d not found", itemID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update card detailed data: %w", err)
	}
	return nil
}
