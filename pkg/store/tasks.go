package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LeaseNextTask atomically claims the oldest NEW task for workerID. The
// skip-locked subselect guarantees no two concurrent callers ever receive
// the same row. Returns ok=false when the queue is empty.
func (s *Store) LeaseNextTask(ctx context.Context, workerID string) (taskID int64, article string, ok bool, err error) {
	const q = `
		UPDATE tasks
		SET status = 'IN_PROGRESS',
		    worker_id = $1,
		    taken_at = NOW(),
		    last_heartbeat = NOW()
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'NEW'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, article`

	err = s.withRetry(ctx, "lease_next_task", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, q, workerID).Scan(&taskID, &article)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("lease next task: %w", err)
	}
	return taskID, article, true, nil
}

// Heartbeat stamps last_heartbeat on an IN_PROGRESS task. A closed pool is
// tolerated silently: the heartbeat goroutine may still be winding down
// while shutdown closes the store.
func (s *Store) Heartbeat(ctx context.Context, taskID int64) error {
	const q = `
		UPDATE tasks
		SET last_heartbeat = NOW()
		WHERE id = $1 AND status = 'IN_PROGRESS'`

	err := s.withRetry(ctx, "heartbeat", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, taskID)
		return err
	})
	if err != nil && isPoolClosed(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("heartbeat task %d: %w", taskID, err)
	}
	return nil
}

func isPoolClosed(err error) bool {
	return errors.Is(err, sql.ErrConnDone) ||
		strings.Contains(err.Error(), "database is closed")
}

// ReturnTaskToQueue moves a task back to NEW after a recoverable failure.
// incrementRetry is false for failures that are not the task's fault (no
// free proxies, shutdown, rotation-limit exhaustion).
func (s *Store) ReturnTaskToQueue(ctx context.Context, taskID int64, errMsg string, incrementRetry bool) error {
	q := `
		UPDATE tasks
		SET status = 'NEW',
		    worker_id = NULL,
		    taken_at = NULL,
		    last_heartbeat = NULL,
		    error_message = $2
		WHERE id = $1`
	if incrementRetry {
		q = `
		UPDATE tasks
		SET status = 'NEW',
		    worker_id = NULL,
		    taken_at = NULL,
		    last_heartbeat = NULL,
		    retry_count = retry_count + 1,
		    error_message = $2
		WHERE id = $1`
	}

	err := s.withRetry(ctx, "return_task", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, taskID, errMsg)
		return err
	})
	if err != nil {
		return fmt.Errorf("return task %d to queue: %w", taskID, err)
	}
	return nil
}

// MarkTaskAsError moves a task to its terminal ERROR state.
func (s *Store) MarkTaskAsError(ctx context.Context, taskID int64, errMsg string) error {
	const q = `
		UPDATE tasks
		SET status = 'ERROR',
		    worker_id = NULL,
		    taken_at = NULL,
		    error_message = $2
		WHERE id = $1`

	err := s.withRetry(ctx, "mark_task_error", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, taskID, errMsg)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark task %d as error: %w", taskID, err)
	}
	return nil
}

// GetTaskRetryCount reads the current retry counter.
func (s *Store) GetTaskRetryCount(ctx context.Context, taskID int64) (int, error) {
	var count int
	err := s.withRetry(ctx, "get_retry_count", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT retry_count FROM tasks WHERE id = $1`, taskID).Scan(&count)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get retry count for task %d: %w", taskID, err)
	}
	return count, nil
}

// CompleteTask marks the task DONE and upserts the processed_articles log in
// one transaction, so the historical record and the task state never
// diverge.
func (s *Store) CompleteTask(ctx context.Context, p CompleteTaskParams) error {
	err := s.withRetry(ctx, "complete_task", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var startedAt sql.NullTime
		if err := tx.QueryRowContext(ctx,
			`SELECT taken_at FROM tasks WHERE id = $1`, p.TaskID).Scan(&startedAt); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'DONE',
			    completed_at = NOW()
			WHERE id = $1`, p.TaskID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO processed_articles (
				article, processed_at, processing_status,
				items_found, items_passed, started_at, worker_id
			)
			VALUES ($1, NOW(), $2, $3, $4, $5, $6)
			ON CONFLICT (article) DO UPDATE SET
				processed_at = EXCLUDED.processed_at,
				processing_status = EXCLUDED.processing_status,
				items_found = EXCLUDED.items_found,
				items_passed = EXCLUDED.items_passed,
				started_at = EXCLUDED.started_at,
				worker_id = EXCLUDED.worker_id`,
			p.Article, p.ProcessingStatus, p.ItemsFound, p.ItemsPassed,
			startedAt, p.WorkerID); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("complete task %d: %w", p.TaskID, err)
	}

	s.logger.Info("task completed",
		"task_id", p.TaskID, "article", p.Article,
		"status", p.ProcessingStatus,
		"items_found", p.ItemsFound, "items_passed", p.ItemsPassed)
	return nil
}

// ReturnStuckTasks sweeps IN_PROGRESS tasks whose heartbeat is older than
// the stuck timeout: tasks with retry budget left go back to NEW with the
// counter bumped, the rest are marked ERROR. Invoked once at worker startup.
func (s *Store) ReturnStuckTasks(ctx context.Context) (StuckSweepResult, error) {
	var res StuckSweepResult
	seconds := int64(s.stuckTimeout / time.Second)

	err := s.withRetry(ctx, "return_stuck_tasks", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		returned, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'NEW',
			    worker_id = NULL,
			    taken_at = NULL,
			    last_heartbeat = NULL,
			    retry_count = retry_count + 1,
			    error_message = 'stuck task returned to queue'
			WHERE status = 'IN_PROGRESS'
			  AND last_heartbeat < NOW() - INTERVAL '1 second' * $1
			  AND retry_count < $2`,
			seconds, s.maxRetryAttempts)
		if err != nil {
			return err
		}

		errored, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'ERROR',
			    worker_id = NULL,
			    taken_at = NULL,
			    error_message = 'stuck timeout exceeded'
			WHERE status = 'IN_PROGRESS'
			  AND last_heartbeat < NOW() - INTERVAL '1 second' * $1
			  AND retry_count >= $2`,
			seconds, s.maxRetryAttempts)
		if err != nil {
			return err
		}

		if res.Returned, err = returned.RowsAffected(); err != nil {
			return err
		}
		if res.Errored, err = errored.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return StuckSweepResult{}, fmt.Errorf("return stuck tasks: %w", err)
	}

	if res.Returned > 0 || res.Errored > 0 {
		s.logger.Warn("stuck task sweep",
			"returned", res.Returned, "errored", res.Errored,
			"timeout", s.stuckTimeout)
	}
	return res, nil
}
