package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/dvalenciano/igflow/internal/models"
)

type QueueRepository interface {
	Add(ctx context.Context, item *models.QueueItem) (int64, error)
	Remove(ctx context.Context, id int64) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.QueueItem, error)
	GetForDate(ctx context.Context, date string) (*models.QueueItem, error)
	ListWindow(ctx context.Context, fromDate, toDate string) ([]*models.QueueItem, error)
	RecoverStaleProcessing(ctx context.Context, maxAge time.Duration) (int64, error)

	MarkProcessing(ctx context.Context, id int64) error
	MarkPending(ctx context.Context, id int64, runsCompleted, runsTotal int, postID *int64, message string) error
	MarkCompleted(ctx context.Context, id int64, postID *int64, message string, runsTotal int) error
	MarkError(ctx context.Context, id int64, message string) error

	GetConfig(ctx context.Context) (*models.SchedulerConfig, error)
	SaveConfig(ctx context.Context, cfg *models.SchedulerConfig) error
}

type queueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) QueueRepository {
	return &queueRepository{db: db}
}

const queueColumns = `id, to_char(scheduled_date, 'YYYY-MM-DD'), scheduled_time, topic, template,
	status, runs_total, runs_completed, post_id, message, started_at, completed_at, created_at`

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var (
		item      models.QueueItem
		timeStr   sql.NullString
		topic     sql.NullString
		template  sql.NullInt64
		postID    sql.NullInt64
		message   sql.NullString
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.ScheduledDate, &timeStr, &topic, &template,
		&item.Status, &item.RunsTotal, &item.RunsCompleted, &postID,
		&message, &started, &completed, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.ScheduledTime = timeStr.String
	item.Topic = topic.String
	if template.Valid {
		t := int(template.Int64)
		item.Template = &t
	}
	if postID.Valid {
		item.PostID = &postID.Int64
	}
	item.Message = message.String
	if started.Valid {
		item.StartedAt = &started.Time
	}
	if completed.Valid {
		item.CompletedAt = &completed.Time
	}
	return &item, nil
}

func (r *queueRepository) Add(ctx context.Context, item *models.QueueItem) (int64, error) {
	runsTotal := item.RunsTotal
	if runsTotal < 1 {
		runsTotal = 1
	}
	var template sql.NullInt64
	if item.Template != nil {
		template = sql.NullInt64{Int64: int64(*item.Template), Valid: true}
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO content_queue (scheduled_date, scheduled_time, topic, template, status, runs_total)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING id
	`, item.ScheduledDate, nullString(item.ScheduledTime), nullString(item.Topic), template, runsTotal).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, fmt.Errorf("date %s: %w", item.ScheduledDate, ErrDuplicateDate)
		}
		slog.Error("add queue item", "error", err, "date", item.ScheduledDate)
		return 0, err
	}
	item.ID = id
	return id, nil
}

// Remove deletes a queue item, but only while it is still pending.
func (r *queueRepository) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM content_queue WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		slog.Error("remove queue item", "error", err, "id", id)
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *queueRepository) GetByID(ctx context.Context, id int64) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM content_queue WHERE id = $1`, id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *queueRepository) GetForDate(ctx context.Context, date string) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM content_queue WHERE scheduled_date = $1`, date)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *queueRepository) ListWindow(ctx context.Context, fromDate, toDate string) ([]*models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+` FROM content_queue
		WHERE scheduled_date BETWEEN $1 AND $2
		ORDER BY scheduled_date ASC
	`, fromDate, toDate)
	if err != nil {
		slog.Error("list queue window", "error", err)
		return nil, err
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// RecoverStaleProcessing reverts items stuck in processing past the
// threshold back to pending: a daemon that died mid-job must not
// permanently wedge that date.
func (r *queueRepository) RecoverStaleProcessing(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE content_queue
		SET status = 'pending',
			started_at = NULL,
			message = 'recovered from stale processing'
		WHERE status = 'processing'
		  AND started_at IS NOT NULL
		  AND started_at < $1
	`, time.Now().UTC().Add(-maxAge))
	if err != nil {
		slog.Error("recover stale processing", "error", err)
		return 0, err
	}
	return res.RowsAffected()
}

func (r *queueRepository) MarkProcessing(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE content_queue
		SET status = 'processing', started_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *queueRepository) MarkPending(ctx context.Context, id int64, runsCompleted, runsTotal int, postID *int64, message string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE content_queue
		SET status = 'pending',
			runs_completed = $1,
			runs_total = $2,
			post_id = COALESCE($3, post_id),
			message = $4,
			started_at = NULL
		WHERE id = $5
	`, runsCompleted, runsTotal, nullInt64(postID), message, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *queueRepository) MarkCompleted(ctx context.Context, id int64, postID *int64, message string, runsTotal int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE content_queue
		SET status = 'completed',
			runs_completed = $1,
			runs_total = $1,
			post_id = COALESCE($2, post_id),
			message = $3,
			completed_at = now()
		WHERE id = $4
	`, runsTotal, nullInt64(postID), message, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *queueRepository) MarkError(ctx context.Context, id int64, message string) error {
	if len(message) > 1000 {
		message = message[:1000]
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE content_queue
		SET status = 'error', message = $1, completed_at = now()
		WHERE id = $2
	`, message, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func (r *queueRepository) GetConfig(ctx context.Context) (*models.SchedulerConfig, error) {
	var (
		enabled bool
		raw     []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT enabled, schedule FROM scheduler_config WHERE id = 1`).Scan(&enabled, &raw)
	if err == sql.ErrNoRows {
		return models.DefaultSchedulerConfig(), nil
	}
	if err != nil {
		slog.Error("get scheduler config", "error", err)
		return nil, err
	}

	schedule := make(models.WeekSchedule)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &schedule); err != nil {
			return nil, fmt.Errorf("decode schedule: %w", err)
		}
	}
	// Fill in days a partial config never mentioned.
	defaults := models.DefaultSchedulerConfig().Schedule
	for _, day := range models.DayNames {
		if _, ok := schedule[day]; !ok {
			schedule[day] = defaults[day]
		}
	}
	return &models.SchedulerConfig{Enabled: enabled, Schedule: schedule}, nil
}

func (r *queueRepository) SaveConfig(ctx context.Context, cfg *models.SchedulerConfig) error {
	raw, err := json.Marshal(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scheduler_config (id, enabled, schedule, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET enabled = $1, schedule = $2, updated_at = now()
	`, cfg.Enabled, raw)
	if err != nil {
		slog.Error("save scheduler config", "error", err)
	}
	return err
}
