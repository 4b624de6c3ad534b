package worker

import (
	"context"
	"fmt"

	"github.com/zamerlab/avitofleet/pkg/avito"
	"github.com/zamerlab/avitofleet/pkg/store"
	"github.com/zamerlab/avitofleet/pkg/validation"
)

// processListings persists the traversal output and runs the two-stage
// validation pipeline: mechanical (stop-words plus price threshold) on cards
// not seen before, then the LLM stage over every mechanically passed card of
// the article. Returns the number of cards that passed the full pipeline.
func (w *Worker) processListings(ctx context.Context, taskID int64, article string, listings []avito.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(listings))
	for _, l := range listings {
		if l.AvitoItemID != 0 {
			ids = append(ids, l.AvitoItemID)
		}
	}

	existing, err := w.store.CheckExistingCards(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("check existing cards: %w", err)
	}

	saved := 0
	fresh := make([]avito.Listing, 0, len(listings))
	for _, l := range listings {
		if l.AvitoItemID == 0 {
			continue
		}
		if err := w.store.SaveParsedCard(ctx, article, l); err != nil {
			return 0, fmt.Errorf("save card %d: %w", l.AvitoItemID, err)
		}
		saved++
		if !existing[l.AvitoItemID] {
			fresh = append(fresh, l)
		}
	}
	w.metrics.CardsParsed(ctx, saved)
	w.logger.Info("cards saved", "task_id", taskID, "saved", saved,
		"fresh", len(fresh), "already_known", saved-len(fresh))

	// The price threshold comes from every listing in the traversal, not only
	// the unseen ones; on a mostly known catalog the fresh subset alone would
	// collapse it and let under-priced cards through.
	var prices []float64
	for _, l := range listings {
		if l.Price > 0 {
			prices = append(prices, l.Price)
		}
	}
	threshold, hasThreshold := validation.PriceThreshold(prices)

	results := validation.MechanicalWithThreshold(fresh, w.stopwords, threshold, hasThreshold)
	for itemID, res := range results {
		if err := w.store.SaveValidationResult(ctx, itemID, store.ValidationMechanical,
			res.Passed, res.RejectionReason, res.Details); err != nil {
			return 0, fmt.Errorf("save mechanical validation %d: %w", itemID, err)
		}
	}

	candidates, err := w.store.GetCardsForAIValidation(ctx, article)
	if err != nil {
		return 0, fmt.Errorf("load ai candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	if w.ai == nil {
		// No API key; mechanically passed cards count as passed.
		w.logger.Info("ai validation skipped", "task_id", taskID, "candidates", len(candidates))
		return len(candidates), nil
	}

	candidateIDs := make(map[int64]bool, len(candidates))
	candidateListings := make([]avito.Listing, len(candidates))
	for i, c := range candidates {
		candidateIDs[c.AvitoItemID] = true
		candidateListings[i] = avito.Listing{
			AvitoItemID: c.AvitoItemID,
			Title:       c.Title,
			Description: c.Description,
			Price:       c.Price,
			Seller:      c.SellerName,
		}
	}

	aiResults, err := w.ai.Validate(ctx, candidateListings, article)
	if err != nil {
		// Timeouts and transport failures retry the whole task. A malformed
		// LLM reply is handled inside Validate with the all-pass fallback.
		return 0, fmt.Errorf("ai validation: %w", err)
	}

	passed := 0
	for itemID, res := range aiResults {
		if !candidateIDs[itemID] {
			// The model invented an ID, or echoed a mechanically rejected one.
			// Neither may gain an AI verdict row.
			w.logger.Warn("ai verdict for non-candidate dropped", "task_id", taskID, "item_id", itemID)
			continue
		}
		if err := w.store.SaveValidationResult(ctx, itemID, store.ValidationAI,
			res.Passed, res.RejectionReason, res.Details); err != nil {
			return 0, fmt.Errorf("save ai validation %d: %w", itemID, err)
		}
		if res.Passed {
			passed++
		}
	}
	w.logger.Info("validation pipeline finished", "task_id", taskID,
		"candidates", len(candidates), "passed", passed)
	return passed, nil
}
