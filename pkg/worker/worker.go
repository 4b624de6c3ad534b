// Package worker implements the per-task state machine: lease a task, lease
// a proxy, drive the browser through the anti-bot gauntlet, run the catalog
// traversal paired with a coordinator, validate and enrich the results, and
// report the outcome back to the store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zamerlab/avitofleet/pkg/avito"
	"github.com/zamerlab/avitofleet/pkg/browser"
	"github.com/zamerlab/avitofleet/pkg/config"
	"github.com/zamerlab/avitofleet/pkg/observability"
	"github.com/zamerlab/avitofleet/pkg/store"
	"github.com/zamerlab/avitofleet/pkg/validation"
)

// Store is the slice of the leasing layer the worker consumes.
type Store interface {
	LeaseNextTask(ctx context.Context, workerID string) (int64, string, bool, error)
	LeaseFreeProxy(ctx context.Context, workerID string) (int64, string, bool, error)
	BlockProxy(ctx context.Context, proxyID int64, reason string) error
	ReleaseProxy(ctx context.Context, proxyID int64) error
	Heartbeat(ctx context.Context, taskID int64) error
	ReturnTaskToQueue(ctx context.Context, taskID int64, errMsg string, incrementRetry bool) error
	MarkTaskAsError(ctx context.Context, taskID int64, errMsg string) error
	GetTaskRetryCount(ctx context.Context, taskID int64) (int, error)
	CompleteTask(ctx context.Context, p store.CompleteTaskParams) error
	ReturnStuckTasks(ctx context.Context) (store.StuckSweepResult, error)
	SaveParsedCard(ctx context.Context, article string, l avito.Listing) error
	CheckExistingCards(ctx context.Context, itemIDs []int64) (map[int64]bool, error)
	SaveValidationResult(ctx context.Context, itemID int64, validationType string, passed bool, rejectionReason string, details map[string]any) error
	GetCardsForAIValidation(ctx context.Context, article string) ([]store.Card, error)
	GetCardsForDetailedParsing(ctx context.Context, article string) ([]store.Card, error)
	UpdateCardDetailedData(ctx context.Context, itemID int64, d avito.CardDetails) error
}

// aiValidator abstracts the LLM stage so tests can stub it.
type aiValidator interface {
	Validate(ctx context.Context, listings []avito.Listing, article string) (map[int64]validation.Result, error)
}

// Deps wires a worker together.
type Deps struct {
	Config    *config.Config
	Store     Store
	Launcher  avito.Launcher
	Detector  avito.StateDetector
	Solver    avito.CaptchaSolver
	Catalog   avito.CatalogParser
	Cards     avito.CardParser
	AI        aiValidator // optional; built from GeminiAPIKey when nil
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	Stopwords []string
}

// Worker is one process-worth of task execution. The (proxy, session) tuple
// is shared with the coordinator goroutine and guarded by mu: only store-row
// transitions and pointer swaps happen under the lock, all blocking browser
// I/O runs outside it on locally captured handles.
type Worker struct {
	cfg       *config.Config
	store     Store
	browsers  *browser.Manager
	detector  avito.StateDetector
	solver    avito.CaptchaSolver
	catalog   avito.CatalogParser
	cards     avito.CardParser
	ai        aiValidator
	metrics   *observability.Metrics
	shooter   *browser.DebugShooter
	logger    *slog.Logger
	stopwords []string

	// detail pages are paced to one navigation per second with small bursts
	detailLimiter *rate.Limiter

	// overridable in tests
	noTasksWait        time.Duration
	noProxiesWait      time.Duration
	unhandledErrWait   time.Duration
	pageRequestTimeout time.Duration
	detailNavTimeout   time.Duration
	rotationLimit      int

	mu        sync.Mutex
	proxyID   int64
	proxyAddr string
	session   avito.Session

	// currentTaskID is touched only by the main loop.
	currentTaskID int64
}

func New(d Deps) *Worker {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("worker_id", d.Config.WorkerID)

	ai := d.AI
	if ai == nil && d.Config.GeminiAPIKey != "" {
		ai = validation.NewAIValidator(d.Config.GeminiAPIKey)
	}

	return &Worker{
		cfg:       d.Config,
		store:     d.Store,
		browsers:  browser.NewManager(d.Launcher, logger),
		detector:  d.Detector,
		solver:    d.Solver,
		catalog:   d.Catalog,
		cards:     d.Cards,
		ai:        ai,
		metrics:   d.Metrics,
		shooter:   browser.NewDebugShooter(d.Config.DebugScreenshots, "", logger),
		logger:    logger,
		stopwords: d.Stopwords,

		detailLimiter: rate.NewLimiter(rate.Every(time.Second), 3),

		noTasksWait:        config.NoTasksWait,
		noProxiesWait:      config.NoProxiesWait,
		unhandledErrWait:   5 * time.Second,
		pageRequestTimeout: config.PageRequestTimeout,
		detailNavTimeout:   config.DetailNavTimeout,
		rotationLimit:      config.CatalogProxyRotationLimit,
	}
}

// Run executes the worker loop until ctx is cancelled, then performs the
// shutdown protocol: return the in-flight task without a retry bump, release
// (not block) the proxy, tear the browser down.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting")

	if res, err := w.store.ReturnStuckTasks(ctx); err != nil {
		w.logger.Warn("stuck task sweep failed", "error", err)
	} else if res.Returned > 0 || res.Errored > 0 {
		w.logger.Warn("recovered stuck tasks", "returned", res.Returned, "errored", res.Errored)
	}

	for ctx.Err() == nil {
		if err := w.runIteration(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("worker iteration failed", "error", err)
			w.recoverFromUnhandled(ctx, err)
			sleepCtx(ctx, w.unhandledErrWait)
		}
	}

	w.shutdown()
	return nil
}

// runIteration processes at most one task.
func (w *Worker) runIteration(ctx context.Context) error {
	taskID, article, ok, err := w.store.LeaseNextTask(ctx, w.cfg.WorkerID)
	if err != nil {
		return fmt.Errorf("lease task: %w", err)
	}
	if !ok {
		w.logger.Debug("queue empty")
		sleepCtx(ctx, w.noTasksWait)
		return nil
	}
	w.currentTaskID = taskID
	w.metrics.TaskLeased(ctx)
	w.logger.Info("task leased", "task_id", taskID, "article", article)

	// Proxy and browser survive across tasks; acquire only when missing.
	if !w.holdsProxy() {
		proxyID, addr, ok, err := w.store.LeaseFreeProxy(ctx, w.cfg.WorkerID)
		if err != nil {
			return fmt.Errorf("lease proxy: %w", err)
		}
		if !ok {
			w.logger.Warn("no free proxies, returning task", "task_id", taskID)
			// Drop ownership before the store call: if the return itself fails
			// the catch-all path must not re-return this no-fault task with a
			// retry bump. The stuck-task sweep recovers it instead.
			w.currentTaskID = 0
			if err := w.store.ReturnTaskToQueue(ctx, taskID, "No proxies available", false); err != nil {
				return err
			}
			w.metrics.TaskReturned(ctx, "no_proxies")
			sleepCtx(ctx, w.noProxiesWait)
			return nil
		}
		w.setProxy(proxyID, addr)
		w.metrics.ProxyLeased(ctx)
		w.logger.Info("proxy leased", "proxy_id", proxyID, "proxy", browser.Redact(addr))
	}

	if w.currentSession() == nil {
		session, err := w.browsers.Launch(ctx, w.proxyAddrSnapshot())
		if err != nil {
			w.logger.Error("browser launch failed", "error", err)
			proxyID, _ := w.clearProxy()
			if proxyID != 0 {
				_ = w.store.BlockProxy(ctx, proxyID, fmt.Sprintf("Browser launch error: %v", err))
				w.metrics.ProxyBlocked(ctx, "launch_error")
			}
			if err := w.store.ReturnTaskToQueue(ctx, taskID, fmt.Sprintf("Browser error: %v", err), true); err != nil {
				return err
			}
			w.metrics.TaskReturned(ctx, "browser_launch")
			w.currentTaskID = 0
			return nil
		}
		w.setSession(session)
	}

	if done, err := w.enterCatalog(ctx, taskID, article); done || err != nil {
		return err
	}

	taskStart := time.Now()

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeatLoop(hbCtx, taskID)
	}()

	result, coordErr := w.runTraversal(ctx, article)

	if ctx.Err() != nil {
		// Shutdown, not a parse failure. The task is still held and goes
		// back without a retry bump in shutdown().
		hbCancel()
		<-hbDone
		return nil
	}

	if failed, details := traversalFailure(result, coordErr); failed {
		hbCancel()
		<-hbDone
		w.failTask(ctx, taskID, details)
		w.releaseAndTeardown(ctx)
		w.currentTaskID = 0
		return nil
	}

	listings := result.Listings
	w.logger.Info("catalog traversal finished", "task_id", taskID, "listings", len(listings))

	passed, err := w.processListings(ctx, taskID, article, listings)
	if err != nil {
		hbCancel()
		<-hbDone
		return fmt.Errorf("validation pipeline: %w", err)
	}

	if err := w.enrichCards(ctx, article); err != nil {
		hbCancel()
		<-hbDone
		switch {
		case errors.Is(err, avito.ErrProxyBlocked):
			proxyID, session := w.clearProxyAndSession()
			w.browsers.Teardown(ctx, session)
			if proxyID != 0 {
				_ = w.store.BlockProxy(ctx, proxyID, "Blocked during detail parsing")
				w.metrics.ProxyBlocked(ctx, "detail_block")
			}
		case errors.Is(err, avito.ErrCaptchaNotSolved):
			proxyID, session := w.clearProxyAndSession()
			w.browsers.Teardown(ctx, session)
			if proxyID != 0 {
				_ = w.store.ReleaseProxy(ctx, proxyID)
				w.metrics.ProxyReleased(ctx)
			}
		default:
			return fmt.Errorf("detail enrichment: %w", err)
		}
		if err := w.store.ReturnTaskToQueue(ctx, taskID, fmt.Sprintf("Detail parsing failed: %v", err), true); err != nil {
			return err
		}
		w.metrics.TaskReturned(ctx, "enrichment")
		w.currentTaskID = 0
		return nil
	}

	status := store.ProcessingSuccess
	if len(listings) == 0 {
		status = store.ProcessingNoResults
	}
	if err := w.store.CompleteTask(ctx, store.CompleteTaskParams{
		TaskID:           taskID,
		Article:          article,
		WorkerID:         w.cfg.WorkerID,
		ProcessingStatus: status,
		ItemsFound:       len(listings),
		ItemsPassed:      passed,
	}); err != nil {
		return err
	}
	hbCancel()
	<-hbDone
	w.metrics.TaskCompleted(ctx, status, time.Since(taskStart))
	w.logger.Info("task done", "task_id", taskID, "status", status,
		"items_found", len(listings), "items_passed", passed)

	// Browser and proxy stay up for the next task.
	w.currentTaskID = 0
	return nil
}

// runTraversal gathers the orchestrator (the injected catalog parser) with
// the coordinator goroutine servicing its page requests.
func (w *Worker) runTraversal(ctx context.Context, article string) (*avito.CatalogResult, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rdv := NewRendezvous()

	coordDone := make(chan error, 1)
	go func() {
		err := w.runCoordinator(taskCtx, rdv, article)
		// Unblock a traversal waiting for a page it will never get, both on
		// coordinator failure and on the defensive request-wait timeout.
		cancel()
		coordDone <- err
	}()

	result, err := w.catalog.ParseUntilComplete(taskCtx, avito.ParseRequest{
		Page:       w.currentPage(),
		CatalogURL: avito.CatalogURL(article),
		StartPage:  1,
		Supplier:   rdv,
	})
	rdv.Finish()

	coordErr := <-coordDone
	if coordErr != nil {
		return nil, coordErr
	}
	if err != nil {
		return &avito.CatalogResult{Status: avito.CatalogError, Details: err.Error()}, nil
	}
	return result, nil
}

func traversalFailure(result *avito.CatalogResult, coordErr error) (bool, string) {
	if coordErr != nil {
		return true, coordErr.Error()
	}
	if result == nil {
		return true, "traversal returned no result"
	}
	if result.Status != avito.CatalogSuccess {
		if result.Details != "" {
			return true, result.Details
		}
		return true, "Parse failed"
	}
	if result.AttemptsExhausted {
		return true, "Parse attempts exhausted"
	}
	return false, ""
}

// failTask decides between a retry and the terminal ERROR state.
func (w *Worker) failTask(ctx context.Context, taskID int64, details string) {
	retryCount, err := w.store.GetTaskRetryCount(ctx, taskID)
	if err != nil {
		w.logger.Error("read retry count", "task_id", taskID, "error", err)
	}
	if retryCount >= w.cfg.MaxRetryAttempts {
		if err := w.store.MarkTaskAsError(ctx, taskID, details); err != nil {
			w.logger.Error("mark task error", "task_id", taskID, "error", err)
		}
		w.metrics.TaskErrored(ctx)
		w.logger.Error("task failed permanently", "task_id", taskID,
			"retries", retryCount, "details", details)
		return
	}
	if err := w.store.ReturnTaskToQueue(ctx, taskID, details, true); err != nil {
		w.logger.Error("return task", "task_id", taskID, "error", err)
	}
	w.metrics.TaskReturned(ctx, "parse_failed")
	w.logger.Warn("task returned to queue", "task_id", taskID,
		"attempt", retryCount+1, "max", w.cfg.MaxRetryAttempts)
}

// heartbeatLoop stamps the task while it runs. Errors never stop the loop;
// the store already swallows the closed-pool case seen during shutdown.
func (w *Worker) heartbeatLoop(ctx context.Context, taskID int64) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, taskID); err != nil {
				w.logger.Warn("heartbeat failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// recoverFromUnhandled is the catch-all branch: release everything and put
// the task back with a retry bump.
func (w *Worker) recoverFromUnhandled(ctx context.Context, cause error) {
	if w.currentTaskID != 0 {
		if err := w.store.ReturnTaskToQueue(ctx, w.currentTaskID,
			fmt.Sprintf("Worker error: %v", cause), true); err != nil {
			w.logger.Error("return task after error", "task_id", w.currentTaskID, "error", err)
		}
		w.metrics.TaskReturned(ctx, "unhandled")
		w.currentTaskID = 0
	}
	w.releaseAndTeardown(ctx)
}

// releaseAndTeardown frees the proxy (it is not known to be burnt) and
// closes the browser.
func (w *Worker) releaseAndTeardown(ctx context.Context) {
	proxyID, session := w.clearProxyAndSession()
	if proxyID != 0 {
		if err := w.store.ReleaseProxy(ctx, proxyID); err != nil {
			w.logger.Error("release proxy", "proxy_id", proxyID, "error", err)
		} else {
			w.metrics.ProxyReleased(ctx)
		}
	}
	w.browsers.Teardown(ctx, session)
}

// shutdown runs after the loop exits. The parent context is already
// cancelled, so store calls use a fresh bounded context.
func (w *Worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w.logger.Info("worker shutting down")

	if w.currentTaskID != 0 {
		if err := w.store.ReturnTaskToQueue(ctx, w.currentTaskID, "Worker shutdown", false); err != nil {
			w.logger.Error("return task on shutdown", "task_id", w.currentTaskID, "error", err)
		}
		w.currentTaskID = 0
	}

	proxyID, session := w.clearProxyAndSession()
	if proxyID != 0 {
		if err := w.store.ReleaseProxy(ctx, proxyID); err != nil {
			w.logger.Error("release proxy on shutdown", "proxy_id", proxyID, "error", err)
		}
	}
	w.browsers.Teardown(ctx, session)

	w.logger.Info("worker shutdown complete")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
