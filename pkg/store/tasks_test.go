package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, time.Hour, 3, nil), mock
}

func TestLeaseNextTask(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE tasks\s+SET status = 'IN_PROGRESS'`).
		WithArgs("worker_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "article"}).AddRow(7, "A1"))

	id, article, ok, err := s.LeaseNextTask(context.Background(), "worker_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "A1", article)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseNextTaskEmptyQueue(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE tasks`).
		WithArgs("worker_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "article"}))

	_, _, ok, err := s.LeaseNextTask(context.Background(), "worker_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReturnTaskToQueueIncrementsRetry(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`retry_count = retry_count \+ 1`).
		WithArgs(int64(7), "Captcha not solved").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ReturnTaskToQueue(context.Background(), 7, "Captcha not solved", true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnTaskToQueueWithoutRetry(t *testing.T) {
	s, mock := newMockStore(t)

	// No retry_count bump when the failure was not the task's fault.
	mock.ExpectExec(regexp.QuoteMeta(
		`SET status = 'NEW', worker_id = NULL, taken_at = NULL, last_heartbeat = NULL, error_message = $2`)).
		WithArgs(int64(7), "No proxies available").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ReturnTaskToQueue(context.Background(), 7, "No proxies available", false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTaskAsError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE tasks\s+SET status = 'ERROR'`).
		WithArgs(int64(7), "Attempts exhausted").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkTaskAsError(context.Background(), 7, "Attempts exhausted"))
}

func TestHeartbeat(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE tasks\s+SET last_heartbeat = NOW\(\)`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Heartbeat(context.Background(), 7))
}

func TestHeartbeatToleratesClosedPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewWithDB(db, time.Hour, 3, nil)
	mock.ExpectClose()
	require.NoError(t, db.Close())

	// During shutdown the pool may close under a still-running heartbeat.
	assert.NoError(t, s.Heartbeat(context.Background(), 7))
}

func TestCompleteTaskSingleTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	takenAt := time.Now().Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT taken_at FROM tasks WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"taken_at"}).AddRow(takenAt))
	mock.ExpectExec(`UPDATE tasks\s+SET status = 'DONE'`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO processed_articles`).
		WithArgs("A1", ProcessingSuccess, 5, 3, sqlmock.AnyArg(), "worker_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.CompleteTask(context.Background(), CompleteTaskParams{
		TaskID:           7,
		Article:          "A1",
		WorkerID:         "worker_1",
		ProcessingStatus: ProcessingSuccess,
		ItemsFound:       5,
		ItemsPassed:      3,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnStuckTasks(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SET status = 'NEW'`).
		WithArgs(int64(3600), 3).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`SET status = 'ERROR'`).
		WithArgs(int64(3600), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.ReturnStuckTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Returned)
	assert.Equal(t, int64(1), res.Errored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskRetryCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT retry_count FROM tasks`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(2))

	n, err := s.GetTaskRetryCount(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
