package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"

	"github.com/dvalenciano/igflow/internal/models"
)

// MetricsRepository owns the append-only engagement snapshot series.
// Snapshots are inserted, never updated.
type MetricsRepository interface {
	InsertSnapshot(ctx context.Context, snap *models.MetricsSnapshot) (int64, error)
	LatestByPostIDs(ctx context.Context, postIDs []int64) (map[int64]*models.MetricsSnapshot, error)
}

type metricsRepository struct {
	db *sql.DB
}

func NewMetricsRepository(db *sql.DB) MetricsRepository {
	return &metricsRepository{db: db}
}

func (r *metricsRepository) InsertSnapshot(ctx context.Context, snap *models.MetricsSnapshot) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO post_metrics_snapshots
			(post_id, impressions, reach, likes, comments, saves, shares, engagement_rate, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, snap.PostID,
		nullInt64(snap.Impressions), nullInt64(snap.Reach),
		nullInt64(snap.Likes), nullInt64(snap.Comments),
		nullInt64(snap.Saves), nullInt64(snap.Shares),
		nullFloat64(snap.EngagementRate), snap.RawPayload,
	).Scan(&id)
	if err != nil {
		slog.Error("insert metrics snapshot", "error", err, "post_id", snap.PostID)
		return 0, err
	}
	snap.ID = id
	return id, nil
}

func (r *metricsRepository) LatestByPostIDs(ctx context.Context, postIDs []int64) (map[int64]*models.MetricsSnapshot, error) {
	if len(postIDs) == 0 {
		return map[int64]*models.MetricsSnapshot{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (post_id)
			id, post_id, collected_at, impressions, reach, likes, comments, saves, shares, engagement_rate
		FROM post_metrics_snapshots
		WHERE post_id = ANY($1)
		ORDER BY post_id, collected_at DESC, id DESC
	`, pq.Array(postIDs))
	if err != nil {
		slog.Error("latest metrics", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]*models.MetricsSnapshot)
	for rows.Next() {
		var (
			snap        models.MetricsSnapshot
			impressions sql.NullInt64
			reach       sql.NullInt64
			likes       sql.NullInt64
			comments    sql.NullInt64
			saves       sql.NullInt64
			shares      sql.NullInt64
			rate        sql.NullFloat64
		)
		err := rows.Scan(&snap.ID, &snap.PostID, &snap.CollectedAt,
			&impressions, &reach, &likes, &comments, &saves, &shares, &rate)
		if err != nil {
			return nil, err
		}
		snap.Impressions = int64Ptr(impressions)
		snap.Reach = int64Ptr(reach)
		snap.Likes = int64Ptr(likes)
		snap.Comments = int64Ptr(comments)
		snap.Saves = int64Ptr(saves)
		snap.Shares = int64Ptr(shares)
		if rate.Valid {
			snap.EngagementRate = &rate.Float64
		}
		out[snap.PostID] = &snap
	}
	return out, rows.Err()
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
