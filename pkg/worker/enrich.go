package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/zamerlab/avitofleet/pkg/avito"
	"github.com/zamerlab/avitofleet/pkg/store"
)

// maxConsecutiveDetailErrors aborts an enrichment run that keeps failing;
// the task retries with the remaining cards still unenriched.
const maxConsecutiveDetailErrors = 3

// enrichCards visits the detail page of every validated card of the article
// that has no detail data yet. Listings the site reports as gone get the
// epoch sentinel so they are never re-attempted. ErrProxyBlocked and
// ErrCaptchaNotSolved abort the run and tell the caller how to treat the
// proxy.
func (w *Worker) enrichCards(ctx context.Context, article string) error {
	cards, err := w.store.GetCardsForDetailedParsing(ctx, article)
	if err != nil {
		return fmt.Errorf("load cards for detail parsing: %w", err)
	}
	if len(cards) == 0 {
		return nil
	}
	w.logger.Info("detail enrichment starting", "article", article, "cards", len(cards))

	consecutiveErrors := 0
	enriched := 0

	for _, card := range cards {
		if err := w.detailLimiter.Wait(ctx); err != nil {
			return err
		}

		if err := w.visitCard(ctx, card); err != nil {
			if errors.Is(err, avito.ErrProxyBlocked) || errors.Is(err, avito.ErrCaptchaNotSolved) {
				return err
			}
			consecutiveErrors++
			w.logger.Warn("detail page failed", "item_id", card.AvitoItemID,
				"consecutive_errors", consecutiveErrors, "error", err)
			if consecutiveErrors >= maxConsecutiveDetailErrors {
				return fmt.Errorf("detail parsing aborted after %d consecutive failures: %w",
					consecutiveErrors, err)
			}
			continue
		}
		consecutiveErrors = 0
		enriched++
	}

	w.logger.Info("detail enrichment finished", "article", article,
		"enriched", enriched, "total", len(cards))
	return nil
}

// visitCard loads one detail page, classifies it and persists the outcome.
func (w *Worker) visitCard(ctx context.Context, card store.Card) error {
	page := w.currentPage()
	if page == nil {
		return errors.New("no live browser session")
	}

	navCtx, cancel := context.WithTimeout(ctx, w.detailNavTimeout)
	err := page.Goto(navCtx, avito.ItemURL(card.AvitoItemID))
	cancel()
	if err != nil {
		return fmt.Errorf("open detail page: %w", err)
	}

	state, err := w.detector.Detect(ctx, page)
	if err != nil {
		return fmt.Errorf("detect detail page state: %w", err)
	}

	switch state {
	case avito.StateProxyBlock403, avito.StateProxyAuth407:
		return avito.ErrProxyBlocked

	case avito.StateCaptcha, avito.StateContinueButton, avito.StateRateLimit429:
		w.shooter.Shoot(ctx, page, string(state))
		solved, serr := w.solver.Resolve(ctx, page)
		if serr != nil {
			w.logger.Error("captcha solver failed on detail page", "error", serr)
			solved = false
		}
		w.metrics.CaptchaResolved(ctx, solved)
		if !solved {
			return avito.ErrCaptchaNotSolved
		}

	case avito.StateNotDetected:
		// The listing is gone. Stamp the sentinel so the card never comes
		// back in the detail queue.
		w.logger.Info("listing deleted", "item_id", card.AvitoItemID)
		return w.store.UpdateCardDetailedData(ctx, card.AvitoItemID, avito.CardDetails{
			ItemID:          card.AvitoItemID,
			PublishedAt:     store.Epoch,
			Location:        "DELETED",
			Characteristics: map[string]string{},
		})

	case avito.StateCardFound:
		// Proceed to extraction.

	default:
		return fmt.Errorf("unexpected detail page state %q", state)
	}

	html, err := page.Content(ctx)
	if err != nil {
		return fmt.Errorf("read detail page: %w", err)
	}

	details, err := w.cards.ParseCard(ctx, html)
	if err != nil {
		return fmt.Errorf("parse detail page: %w", err)
	}

	if details.ItemID == 0 {
		details.ItemID = card.AvitoItemID
	}
	if details.PublishedAt.IsZero() {
		// Incomplete extraction counts as a failure; the row is left alone so
		// a later run picks the card up again.
		return fmt.Errorf("detail page for %d missing publication date", card.AvitoItemID)
	}
	return w.store.UpdateCardDetailedData(ctx, card.AvitoItemID, *details)
}
