package worker

import (
	"context"
	"fmt"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

// enterCatalog navigates the freshly launched browser to the catalog search
// and works through whatever the site throws at the first page load:
// captcha and interstitial challenges, rate limiting, and blocked proxies.
// done reports that the task was already resolved (returned or errored) and
// the iteration should end; err is reserved for store failures the caller
// must surface.
func (w *Worker) enterCatalog(ctx context.Context, taskID int64, article string) (bool, error) {
	rotations := 0

	for {
		page := w.currentPage()

		if err := page.Goto(ctx, avito.CatalogURL(article)); err != nil {
			w.logger.Error("catalog navigation failed", "task_id", taskID, "error", err)
			proxyID, session := w.clearProxyAndSession()
			w.browsers.Teardown(ctx, session)
			if proxyID != 0 {
				_ = w.store.BlockProxy(ctx, proxyID, fmt.Sprintf("Navigation error: %v", err))
				w.metrics.ProxyBlocked(ctx, "nav_error")
			}
			if err := w.store.ReturnTaskToQueue(ctx, taskID,
				fmt.Sprintf("Navigation error: %v", err), true); err != nil {
				return true, err
			}
			w.metrics.TaskReturned(ctx, "nav_error")
			w.currentTaskID = 0
			return true, nil
		}

		state, err := w.detector.Detect(ctx, page)
		if err != nil {
			w.logger.Error("page state detection failed", "task_id", taskID, "error", err)
			state = avito.StateNotDetected
		}

		switch state {
		case avito.StateCardFound, avito.StateNotDetected:
			// Good enough to hand off to the traversal.
			return false, nil

		case avito.StateCaptcha, avito.StateContinueButton, avito.StateRateLimit429:
			w.shooter.Shoot(ctx, page, string(state))
			solved, serr := w.solver.Resolve(ctx, page)
			if serr != nil {
				w.logger.Error("captcha solver failed", "task_id", taskID, "error", serr)
				solved = false
			}
			w.metrics.CaptchaResolved(ctx, solved)
			if solved {
				w.logger.Info("entry challenge resolved", "task_id", taskID, "state", state)
				return false, nil
			}
			// Unsolved captcha does not condemn the proxy; it goes back to
			// the pool and the task retries elsewhere.
			w.logger.Warn("entry challenge unsolved", "task_id", taskID, "state", state)
			proxyID, session := w.clearProxyAndSession()
			w.browsers.Teardown(ctx, session)
			if proxyID != 0 {
				if err := w.store.ReleaseProxy(ctx, proxyID); err != nil {
					w.logger.Error("release proxy", "proxy_id", proxyID, "error", err)
				} else {
					w.metrics.ProxyReleased(ctx)
				}
			}
			if err := w.store.ReturnTaskToQueue(ctx, taskID, "Captcha not solved", true); err != nil {
				return true, err
			}
			w.metrics.TaskReturned(ctx, "captcha_unsolved")
			w.currentTaskID = 0
			return true, nil

		case avito.StateProxyBlock403, avito.StateProxyAuth407:
			rotations++
			w.logger.Warn("proxy rejected at catalog entry", "task_id", taskID,
				"state", state, "rotation", rotations)

			proxyID, session := w.clearProxyAndSession()
			w.browsers.Teardown(ctx, session)
			if proxyID != 0 {
				_ = w.store.BlockProxy(ctx, proxyID, fmt.Sprintf("Blocked at catalog entry (%s)", state))
				w.metrics.ProxyBlocked(ctx, string(state))
			}

			if rotations >= w.rotationLimit {
				w.logger.Error("proxy rotation limit reached", "task_id", taskID, "rotations", rotations)
				// No-fault return; drop ownership first so a failed store call
				// cannot turn into a retry bump in the catch-all path.
				w.currentTaskID = 0
				if err := w.store.ReturnTaskToQueue(ctx, taskID,
					"Proxy rotation limit reached", false); err != nil {
					return true, err
				}
				w.metrics.TaskReturned(ctx, "rotation_limit")
				return true, nil
			}

			newID, addr, ok, err := w.store.LeaseFreeProxy(ctx, w.cfg.WorkerID)
			if err != nil {
				return true, fmt.Errorf("lease proxy: %w", err)
			}
			if !ok {
				w.logger.Warn("no free proxies during rotation", "task_id", taskID)
				w.currentTaskID = 0
				if err := w.store.ReturnTaskToQueue(ctx, taskID, "No proxies available", false); err != nil {
					return true, err
				}
				w.metrics.TaskReturned(ctx, "no_proxies")
				sleepCtx(ctx, w.noProxiesWait)
				return true, nil
			}
			w.setProxy(newID, addr)
			w.metrics.ProxyLeased(ctx)

			newSession, err := w.browsers.Launch(ctx, addr)
			if err != nil {
				w.logger.Error("browser relaunch failed", "task_id", taskID, "error", err)
				id, _ := w.clearProxy()
				if id != 0 {
					_ = w.store.BlockProxy(ctx, id, fmt.Sprintf("Browser launch error: %v", err))
					w.metrics.ProxyBlocked(ctx, "launch_error")
				}
				if err := w.store.ReturnTaskToQueue(ctx, taskID,
					fmt.Sprintf("Browser error: %v", err), true); err != nil {
					return true, err
				}
				w.metrics.TaskReturned(ctx, "browser_launch")
				w.currentTaskID = 0
				return true, nil
			}
			w.setSession(newSession)
			// Loop retries the navigation on the fresh proxy.

		default:
			return false, nil
		}
	}
}
