package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/dvalenciano/igflow/internal/hashing"
	"github.com/dvalenciano/igflow/internal/models"
)

// DuplicateRow is the minimal existing-post view the duplicate detector needs.
type DuplicateRow struct {
	PostID      int64
	Topic       string
	IGMediaID   string
	PublishedAt *time.Time
	SourceURL   string
}

type PostRepository interface {
	Create(ctx context.Context, post *models.Post, sourceURLs []string) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	GetByMediaID(ctx context.Context, mediaID string) (*models.Post, error)
	List(ctx context.Context, limit int) ([]*models.Post, error)
	ListSources(ctx context.Context, postIDs []int64) (map[int64][]string, error)
	ListRetryable(ctx context.Context, limit int) ([]*models.Post, error)
	ListPendingForReconcile(ctx context.Context, limit int, maxAge time.Duration) ([]*models.Post, error)
	ListForMetricsSync(ctx context.Context, limit int) ([]*models.Post, error)
	ListAttemptTimes(ctx context.Context, since time.Time) ([]time.Time, error)

	FindSourceDuplicate(ctx context.Context, sourceHash string) (*DuplicateRow, error)
	FindTopicDuplicate(ctx context.Context, topicHash string, cutoff time.Time) (*DuplicateRow, error)

	MarkPublishAttempt(ctx context.Context, id int64) error
	MarkPublished(ctx context.Context, id int64, mediaID string) error
	MarkPublishError(ctx context.Context, id int64, tag, code, message string) error
	MarkIGActive(ctx context.Context, id int64) error
	MarkIGDeleted(ctx context.Context, id int64, reason string) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, ig_media_id, topic, topic_hash, caption, virality_score,
	status, ig_status, source_count, publish_attempts, last_publish_attempt_at,
	last_error_tag, last_error_code, last_error_message, published_at, created_at,
	topic_payload, content_payload, strategy_payload`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		post       models.Post
		mediaID    sql.NullString
		caption    sql.NullString
		virality   sql.NullFloat64
		status     string
		igStatus   sql.NullString
		attemptAt  sql.NullTime
		errTag     sql.NullString
		errCode    sql.NullString
		errMessage sql.NullString
		published  sql.NullTime
	)
	err := row.Scan(
		&post.ID, &mediaID, &post.Topic, &post.TopicHash, &caption, &virality,
		&status, &igStatus, &post.SourceCount, &post.PublishAttempts, &attemptAt,
		&errTag, &errCode, &errMessage, &published, &post.CreatedAt,
		&post.TopicPayload, &post.ContentPayload, &post.StrategyPayload,
	)
	if err != nil {
		return nil, err
	}

	post.IGMediaID = mediaID.String
	post.Caption = caption.String
	if virality.Valid {
		post.ViralityScore = &virality.Float64
	}
	post.Status = models.NormalizePostStatus(status)
	post.IGStatus = models.IGStatusUnknown
	if igStatus.Valid && igStatus.String != "" {
		post.IGStatus = models.IGStatus(igStatus.String)
	}
	if attemptAt.Valid {
		post.LastPublishAttemptAt = &attemptAt.Time
	}
	post.LastErrorTag = errTag.String
	post.LastErrorCode = errCode.String
	post.LastErrorMessage = errMessage.String
	if published.Valid {
		post.PublishedAt = &published.Time
	}
	return &post, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts the post plus its source rows in one transaction. Source
// URLs whose hash already exists globally are skipped, not fatal: the post
// keeps a lower attributed source_count.
func (r *postRepository) Create(ctx context.Context, post *models.Post, sourceURLs []string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	status := post.Status
	if status == "" {
		status = models.PostStatusGenerated
	}

	var virality sql.NullFloat64
	if post.ViralityScore != nil {
		virality = sql.NullFloat64{Float64: *post.ViralityScore, Valid: true}
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO posts (topic, topic_hash, caption, virality_score, status, ig_status,
			source_count, topic_payload, content_payload, strategy_payload)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)
		RETURNING id
	`, post.Topic, post.TopicHash, nullString(post.Caption), virality,
		string(status), string(models.IGStatusUnknown),
		post.TopicPayload, post.ContentPayload, post.StrategyPayload,
	).Scan(&id)
	if err != nil {
		slog.Error("insert post", "error", err)
		return 0, err
	}

	sourceCount := 0
	for _, raw := range sourceURLs {
		canon := hashing.CanonicalURL(raw)
		shash := hashing.SourceHash(raw)
		if canon == "" || shash == "" {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO post_sources (post_id, source_url, source_hash, domain)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (source_hash) DO NOTHING
		`, id, canon, shash, hashing.Domain(canon))
		if err != nil {
			slog.Error("insert post source", "error", err, "url", canon)
			return 0, err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if inserted == 0 {
			slog.Warn("source url already attributed to an earlier post", "url", canon)
			continue
		}
		sourceCount++
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE posts SET source_count = $1 WHERE id = $2`, sourceCount, id); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	post.ID = id
	post.SourceCount = sourceCount
	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("get post", "error", err, "post_id", id)
		return nil, err
	}
	return post, nil
}

func (r *postRepository) GetByMediaID(ctx context.Context, mediaID string) (*models.Post, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE ig_media_id = $1`, mediaID)
	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (r *postRepository) queryPosts(ctx context.Context, query string, args ...any) ([]*models.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("query posts", "error", err)
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		limit = fallback
	}
	if limit > max {
		limit = max
	}
	return limit
}

func (r *postRepository) List(ctx context.Context, limit int) ([]*models.Post, error) {
	return r.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		ORDER BY published_at DESC NULLS LAST, id DESC
		LIMIT $1
	`, clampLimit(limit, 50, 200))
}

func (r *postRepository) ListSources(ctx context.Context, postIDs []int64) (map[int64][]string, error) {
	if len(postIDs) == 0 {
		return map[int64][]string{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT post_id, source_url FROM post_sources
		WHERE post_id = ANY($1)
		ORDER BY id ASC
	`, pq.Array(postIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var postID int64
		var url string
		if err := rows.Scan(&postID, &url); err != nil {
			return nil, err
		}
		out[postID] = append(out[postID], url)
	}
	return out, rows.Err()
}

func (r *postRepository) ListRetryable(ctx context.Context, limit int) ([]*models.Post, error) {
	return r.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE status IN ('draft', 'generated', 'publish_error')
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, clampLimit(limit, 50, 200))
}

func (r *postRepository) ListPendingForReconcile(ctx context.Context, limit int, maxAge time.Duration) ([]*models.Post, error) {
	return r.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE status IN ('draft', 'generated', 'publish_error')
		  AND (ig_media_id IS NULL OR ig_media_id = '')
		  AND caption IS NOT NULL AND caption <> ''
		  AND created_at >= $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, time.Now().UTC().Add(-maxAge), clampLimit(limit, 60, 500))
}

func (r *postRepository) ListForMetricsSync(ctx context.Context, limit int) ([]*models.Post, error) {
	return r.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE status IN ('published_active', 'published_deleted', 'published')
		  AND ig_media_id IS NOT NULL AND ig_media_id <> ''
		ORDER BY published_at DESC NULLS LAST, id DESC
		LIMIT $1
	`, clampLimit(limit, 50, 500))
}

// ListAttemptTimes feeds the rate ledger: the union of confirmed publish
// times (remote deletion does not free the quota) and error attempt times
// that actually reached the remote API.
func (r *postRepository) ListAttemptTimes(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT published_at AS attempted_at FROM posts
		WHERE status IN ('published_active', 'published_deleted', 'published')
		  AND published_at IS NOT NULL AND published_at >= $1
		UNION ALL
		SELECT last_publish_attempt_at AS attempted_at FROM posts
		WHERE status = 'publish_error'
		  AND publish_attempts > 0
		  AND last_publish_attempt_at IS NOT NULL AND last_publish_attempt_at >= $1
		ORDER BY attempted_at ASC
	`, since)
	if err != nil {
		slog.Error("list attempt times", "error", err)
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func scanDuplicateRow(row rowScanner, withSource bool) (*DuplicateRow, error) {
	var (
		dup       DuplicateRow
		mediaID   sql.NullString
		published sql.NullTime
		sourceURL sql.NullString
	)
	var err error
	if withSource {
		err = row.Scan(&dup.PostID, &dup.Topic, &mediaID, &published, &sourceURL)
	} else {
		err = row.Scan(&dup.PostID, &dup.Topic, &mediaID, &published)
	}
	if err != nil {
		return nil, err
	}
	dup.IGMediaID = mediaID.String
	if published.Valid {
		dup.PublishedAt = &published.Time
	}
	dup.SourceURL = sourceURL.String
	return &dup, nil
}

func (r *postRepository) FindSourceDuplicate(ctx context.Context, sourceHash string) (*DuplicateRow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT p.id, p.topic, p.ig_media_id, p.published_at, s.source_url
		FROM posts p
		JOIN post_sources s ON s.post_id = p.id
		WHERE s.source_hash = $1
		  AND p.status IN ('published_active', 'published_deleted', 'published')
		ORDER BY p.published_at DESC NULLS LAST, p.id DESC
		LIMIT 1
	`, sourceHash)
	dup, err := scanDuplicateRow(row, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dup, nil
}

func (r *postRepository) FindTopicDuplicate(ctx context.Context, topicHash string, cutoff time.Time) (*DuplicateRow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, topic, ig_media_id, published_at
		FROM posts
		WHERE topic_hash = $1
		  AND status IN ('published_active', 'published_deleted', 'published')
		  AND published_at >= $2
		ORDER BY published_at DESC, id DESC
		LIMIT 1
	`, topicHash, cutoff)
	dup, err := scanDuplicateRow(row, false)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dup, nil
}

// MarkPublishAttempt counts the attempt before the remote call is made, so
// failed attempts still weigh against the rolling publish quota.
func (r *postRepository) MarkPublishAttempt(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts
		SET publish_attempts = publish_attempts + 1,
			last_publish_attempt_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		slog.Error("mark publish attempt", "error", err, "post_id", id)
		return err
	}
	return requireRow(res)
}

// MarkPublished confirms a remote publish. Calling it again with the same
// media id is a no-op; assigning a media id held by a different post fails
// with ErrMediaIDClaimed (unique index on ig_media_id backs this up).
func (r *postRepository) MarkPublished(ctx context.Context, id int64, mediaID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts
		SET ig_media_id = $1,
			status = 'published_active',
			ig_status = 'active',
			published_at = COALESCE(published_at, now()),
			last_error_tag = NULL,
			last_error_code = NULL,
			last_error_message = NULL
		WHERE id = $2 AND (ig_media_id IS NULL OR ig_media_id = '' OR ig_media_id = $1)
	`, mediaID, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("post %d, media %s: %w", id, mediaID, ErrMediaIDClaimed)
		}
		slog.Error("mark published", "error", err, "post_id", id)
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("post %d: %w", id, ErrNotFound)
		}
		// The post already holds a different media id; never overwrite it.
		return fmt.Errorf("post %d already holds media %s: %w", id, existing.IGMediaID, ErrMediaIDClaimed)
	}
	return nil
}

func (r *postRepository) MarkPublishError(ctx context.Context, id int64, tag, code, message string) error {
	if len(message) > 1800 {
		message = message[:1800]
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts
		SET status = 'publish_error',
			last_error_tag = $1,
			last_error_code = $2,
			last_error_message = $3
		WHERE id = $4
	`, tag, nullString(code), message, id)
	if err != nil {
		slog.Error("mark publish error", "error", err, "post_id", id)
		return err
	}
	return requireRow(res)
}

func (r *postRepository) MarkIGActive(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts
		SET ig_status = 'active',
			status = CASE WHEN status = 'published_deleted' THEN 'published_active' ELSE status END
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *postRepository) MarkIGDeleted(ctx context.Context, id int64, reason string) error {
	if len(reason) > 300 {
		reason = reason[:300]
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts
		SET ig_status = 'deleted',
			status = CASE WHEN status IN ('published_active', 'published') THEN 'published_deleted' ELSE status END,
			last_error_message = $1
		WHERE id = $2
	`, reason, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
