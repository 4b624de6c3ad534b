package worker

import (
	"context"
	"fmt"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

// runCoordinator services page requests from a running catalog traversal.
// It returns nil when the traversal finishes (or nothing arrives within the
// request timeout) and an error only for conditions that must abort the
// whole task: an unsolved mid-traversal captcha or an exhausted proxy pool.
func (w *Worker) runCoordinator(ctx context.Context, rdv *Rendezvous, article string) error {
	for {
		req, ok := rdv.Wait(ctx, w.pageRequestTimeout)
		if !ok {
			return nil
		}
		w.logger.Info("traversal requested page", "status", req.Status,
			"attempt", req.Attempt, "next_page", req.NextStartPage)

		switch req.Status {
		case avito.RequestProxyBlocked:
			page, err := w.rotateForCoordinator(ctx, article, req.NextStartPage)
			if err != nil {
				return err
			}
			rdv.Supply(page)

		case avito.RequestCaptchaUnsolved, avito.RequestContinueButton, avito.RequestRateLimit:
			page := w.currentPage()
			w.shooter.Shoot(ctx, page, string(req.Status))
			solved, serr := w.solver.Resolve(ctx, page)
			if serr != nil {
				w.logger.Error("captcha solver failed mid-traversal", "error", serr)
				solved = false
			}
			w.metrics.CaptchaResolved(ctx, solved)
			if !solved {
				// An unsolved challenge does not condemn the proxy; it goes
				// back to the pool and the task is returned by the worker.
				proxyID, session := w.clearProxyAndSession()
				w.browsers.Teardown(ctx, session)
				if proxyID != 0 {
					if err := w.store.ReleaseProxy(ctx, proxyID); err != nil {
						w.logger.Error("release proxy", "proxy_id", proxyID, "error", err)
					} else {
						w.metrics.ProxyReleased(ctx)
					}
				}
				return avito.ErrCaptchaNotSolved
			}
			rdv.Supply(page)

		case avito.RequestNotDetected:
			// Nothing actionable; let the traversal retry on the same page.
			rdv.Supply(w.currentPage())

		default:
			rdv.Supply(w.currentPage())
		}
	}
}

// rotateForCoordinator swaps out a burnt proxy mid-traversal: block the
// current one, lease a fresh one, relaunch the browser and reopen the
// catalog at the page the traversal stopped on. Loops through however many
// proxies it takes; only an empty pool or an unrecoverable store error ends
// it.
func (w *Worker) rotateForCoordinator(ctx context.Context, article string, nextStartPage int) (avito.Page, error) {
	reason := "Blocked by Avito"

	for {
		proxyID, session := w.clearProxyAndSession()
		w.browsers.Teardown(ctx, session)
		if proxyID != 0 {
			if err := w.store.BlockProxy(ctx, proxyID, reason); err != nil {
				w.logger.Error("block proxy", "proxy_id", proxyID, "error", err)
			}
			w.metrics.ProxyBlocked(ctx, "mid_traversal")
		}

		newID, addr, ok, err := w.store.LeaseFreeProxy(ctx, w.cfg.WorkerID)
		if err != nil {
			return nil, fmt.Errorf("lease proxy: %w", err)
		}
		if !ok {
			w.logger.Error("proxy pool exhausted mid-traversal")
			return nil, avito.ErrNoProxiesAvailable
		}
		w.setProxy(newID, addr)
		w.metrics.ProxyLeased(ctx)

		newSession, err := w.browsers.Launch(ctx, addr)
		if err != nil {
			w.logger.Error("browser relaunch failed mid-traversal", "error", err)
			reason = fmt.Sprintf("Browser launch error: %v", err)
			continue
		}
		w.setSession(newSession)

		page := newSession.Page()
		if err := page.Goto(ctx, avito.CatalogPageURL(article, nextStartPage)); err != nil {
			w.logger.Warn("catalog reopen failed on fresh proxy", "error", err)
			reason = fmt.Sprintf("Navigation error: %v", err)
			continue
		}

		state, err := w.detector.Detect(ctx, page)
		if err != nil {
			w.logger.Error("page state detection failed mid-traversal", "error", err)
			state = avito.StateNotDetected
		}

		switch state {
		case avito.StateProxyBlock403, avito.StateProxyAuth407:
			reason = fmt.Sprintf("Blocked on rotation (%s)", state)
			continue

		case avito.StateCaptcha, avito.StateContinueButton, avito.StateRateLimit429:
			w.shooter.Shoot(ctx, page, string(state))
			solved, serr := w.solver.Resolve(ctx, page)
			if serr != nil {
				w.logger.Error("captcha solver failed on rotation", "error", serr)
				solved = false
			}
			w.metrics.CaptchaResolved(ctx, solved)
			if !solved {
				reason = "Captcha not solved on rotation"
				continue
			}
			return page, nil

		default:
			return page, nil
		}
	}
}
