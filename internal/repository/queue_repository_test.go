package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvalenciano/igflow/internal/models"
)

func newQueueMock(t *testing.T) (sqlmock.Sqlmock, QueueRepository) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return mock, NewQueueRepository(db)
}

func TestQueueAdd(t *testing.T) {
	mock, repo := newQueueMock(t)

	mock.ExpectQuery(`INSERT INTO content_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, err := repo.Add(context.Background(), &models.QueueItem{
		ScheduledDate: "2026-09-01",
		ScheduledTime: "09:00",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestQueueAddDuplicateDate(t *testing.T) {
	mock, repo := newQueueMock(t)

	mock.ExpectQuery(`INSERT INTO content_queue`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "content_queue_scheduled_date_key"})

	_, err := repo.Add(context.Background(), &models.QueueItem{ScheduledDate: "2026-09-01"})
	assert.ErrorIs(t, err, ErrDuplicateDate)
}

func TestQueueRemoveOnlyPending(t *testing.T) {
	mock, repo := newQueueMock(t)

	mock.ExpectExec(`DELETE FROM content_queue WHERE id = \$1 AND status = 'pending'`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.Remove(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, removed, "a non-pending item must not be removable")
}

func TestRecoverStaleProcessing(t *testing.T) {
	mock, repo := newQueueMock(t)

	mock.ExpectExec(`UPDATE content_queue\s+SET status = 'pending',\s+started_at = NULL`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	recovered, err := repo.RecoverStaleProcessing(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), recovered)
}

func TestGetConfigDefaultsWhenMissing(t *testing.T) {
	mock, repo := newQueueMock(t)

	mock.ExpectQuery(`SELECT enabled, schedule FROM scheduler_config`).
		WillReturnRows(sqlmock.NewRows([]string{"enabled", "schedule"}))

	cfg, err := repo.GetConfig(context.Background())
	require.NoError(t, err)

	assert.False(t, cfg.Enabled)
	assert.Len(t, cfg.Schedule, 7)
	assert.Equal(t, "08:30", cfg.Schedule["monday"].Time)
}

func TestGetConfigFillsMissingDays(t *testing.T) {
	mock, repo := newQueueMock(t)

	partial, err := json.Marshal(models.WeekSchedule{
		"monday": {Enabled: true, Time: "10:00", PostsPerDay: 2},
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT enabled, schedule FROM scheduler_config`).
		WillReturnRows(sqlmock.NewRows([]string{"enabled", "schedule"}).AddRow(true, partial))

	cfg, err := repo.GetConfig(context.Background())
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Len(t, cfg.Schedule, 7)
	assert.True(t, cfg.Schedule["monday"].Enabled)
	assert.False(t, cfg.Schedule["sunday"].Enabled)
}
