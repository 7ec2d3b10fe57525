package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dvalenciano/igflow/internal/hashing"
	"github.com/dvalenciano/igflow/internal/repository"
)

// DuplicateInfo describes why a topic was rejected as already covered.
type DuplicateInfo struct {
	Reason      string     `json:"reason"` // source_url or topic_hash
	PostID      int64      `json:"post_id"`
	Topic       string     `json:"topic"`
	IGMediaID   string     `json:"ig_media_id,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	MatchedURL  string     `json:"matched_url,omitempty"`
}

type DedupService interface {
	FindDuplicate(ctx context.Context, topic string, sourceURLs []string) (*DuplicateInfo, error)
}

type dedupService struct {
	posts      repository.PostRepository
	windowDays int
}

func NewDedupService(posts repository.PostRepository, windowDays int) DedupService {
	return &dedupService{posts: posts, windowDays: windowDays}
}

// FindDuplicate runs the hard source-hash check first, then the soft
// topic-hash check inside the configured window. nil means the topic is
// clear to publish.
func (s *dedupService) FindDuplicate(ctx context.Context, topic string, sourceURLs []string) (*DuplicateInfo, error) {
	for _, rawURL := range sourceURLs {
		hash := hashing.SourceHash(rawURL)
		if hash == "" {
			continue
		}
		row, err := s.posts.FindSourceDuplicate(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("source duplicate check: %w", err)
		}
		if row != nil {
			slog.Info("duplicate source detected", "url", rawURL, "existing_post_id", row.PostID)
			return &DuplicateInfo{
				Reason:      "source_url",
				PostID:      row.PostID,
				Topic:       row.Topic,
				IGMediaID:   row.IGMediaID,
				PublishedAt: row.PublishedAt,
				MatchedURL:  rawURL,
			}, nil
		}
	}

	topicHash := hashing.TopicHash(topic)
	if topicHash == "" {
		return nil, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.windowDays)
	row, err := s.posts.FindTopicDuplicate(ctx, topicHash, cutoff)
	if err != nil {
		return nil, fmt.Errorf("topic duplicate check: %w", err)
	}
	if row != nil {
		slog.Info("duplicate topic detected", "topic", topic, "existing_post_id", row.PostID)
		return &DuplicateInfo{
			Reason:      "topic_hash",
			PostID:      row.PostID,
			Topic:       row.Topic,
			IGMediaID:   row.IGMediaID,
			PublishedAt: row.PublishedAt,
		}, nil
	}
	return nil, nil
}
