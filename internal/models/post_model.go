package models

import "time"

// PostStatus is the local lifecycle status of a post.
type PostStatus string

const (
	PostStatusDraft            PostStatus = "draft"
	PostStatusGenerated        PostStatus = "generated"
	PostStatusPublishError     PostStatus = "publish_error"
	PostStatusPublishedActive  PostStatus = "published_active"
	PostStatusPublishedDeleted PostStatus = "published_deleted"

	// Rows written before the ig_status split used this value.
	legacyStatusPublished = "published"
)

// NormalizePostStatus maps legacy stored values onto the current status set.
func NormalizePostStatus(raw string) PostStatus {
	if raw == legacyStatusPublished {
		return PostStatusPublishedActive
	}
	return PostStatus(raw)
}

// Retryable reports whether a post in this status may be (re)published.
func (s PostStatus) Retryable() bool {
	switch s {
	case PostStatusDraft, PostStatusGenerated, PostStatusPublishError:
		return true
	}
	return false
}

// Published reports whether the post was actually sent to Instagram,
// regardless of current remote liveness.
func (s PostStatus) Published() bool {
	return s == PostStatusPublishedActive || s == PostStatusPublishedDeleted
}

// IGStatus tracks remote-observed liveness, independent of PostStatus.
type IGStatus string

const (
	IGStatusUnknown IGStatus = "unknown"
	IGStatusActive  IGStatus = "active"
	IGStatusDeleted IGStatus = "deleted"
)

type Post struct {
	ID            int64      `json:"id"`
	IGMediaID     string     `json:"ig_media_id,omitempty"`
	Topic         string     `json:"topic"`
	TopicHash     string     `json:"-"`
	Caption       string     `json:"caption,omitempty"`
	ViralityScore *float64   `json:"virality_score,omitempty"`
	Status        PostStatus `json:"status"`
	IGStatus      IGStatus   `json:"ig_status"`
	SourceCount   int        `json:"source_count"`

	PublishAttempts      int        `json:"publish_attempts"`
	LastPublishAttemptAt *time.Time `json:"last_publish_attempt_at,omitempty"`
	LastErrorTag         string     `json:"last_error_tag,omitempty"`
	LastErrorCode        string     `json:"last_error_code,omitempty"`
	LastErrorMessage     string     `json:"last_error_message,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	TopicPayload    Document `json:"topic_payload,omitempty"`
	ContentPayload  Document `json:"content_payload,omitempty"`
	StrategyPayload Document `json:"strategy_payload,omitempty"`

	// Filled by list queries, not stored on the posts row.
	SourceURLs    []string         `json:"source_urls,omitempty"`
	LatestMetrics *MetricsSnapshot `json:"latest_metrics,omitempty"`
}

type Source struct {
	ID         int64     `json:"id"`
	PostID     int64     `json:"post_id"`
	SourceURL  string    `json:"source_url"`
	SourceHash string    `json:"-"`
	Domain     string    `json:"domain"`
	CreatedAt  time.Time `json:"created_at"`
}

// MetricsSnapshot is one append-only engagement sample for a post.
type MetricsSnapshot struct {
	ID             int64     `json:"id"`
	PostID         int64     `json:"post_id"`
	CollectedAt    time.Time `json:"collected_at"`
	Impressions    *int64    `json:"impressions,omitempty"`
	Reach          *int64    `json:"reach,omitempty"`
	Likes          *int64    `json:"likes,omitempty"`
	Comments       *int64    `json:"comments,omitempty"`
	Saves          *int64    `json:"saves,omitempty"`
	Shares         *int64    `json:"shares,omitempty"`
	EngagementRate *float64  `json:"engagement_rate,omitempty"`
	RawPayload     Document  `json:"-"`
}
