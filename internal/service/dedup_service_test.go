package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvalenciano/igflow/internal/hashing"
	"github.com/dvalenciano/igflow/internal/repository"
)

func TestFindDuplicateSourceHashWins(t *testing.T) {
	repo := newFakePostRepo()
	repo.addPublishedSource("https://news.example.com/story?utm_source=x", "old story")
	svc := NewDedupService(repo, 90)

	// Same story through a differently decorated URL.
	dup, err := svc.FindDuplicate(context.Background(), "totally new take",
		[]string{"https://news.example.com/story/"})
	require.NoError(t, err)
	require.NotNil(t, dup)

	assert.Equal(t, "source_url", dup.Reason)
	assert.Equal(t, int64(1), dup.PostID)
	assert.Equal(t, "https://news.example.com/story/", dup.MatchedURL)
}

func TestFindDuplicateTopicWithinWindow(t *testing.T) {
	repo := newFakePostRepo()
	published := time.Now().AddDate(0, 0, -10)
	repo.topics[hashing.TopicHash("AI  Breakthrough")] = &repository.DuplicateRow{
		PostID: 3, Topic: "ai breakthrough", PublishedAt: &published,
	}
	svc := NewDedupService(repo, 90)

	dup, err := svc.FindDuplicate(context.Background(), "ai BREAKTHROUGH", nil)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, "topic_hash", dup.Reason)
	assert.Equal(t, int64(3), dup.PostID)
}

func TestFindDuplicateTopicOutsideWindow(t *testing.T) {
	repo := newFakePostRepo()
	published := time.Now().AddDate(0, 0, -120)
	repo.topics[hashing.TopicHash("old news")] = &repository.DuplicateRow{
		PostID: 3, Topic: "old news", PublishedAt: &published,
	}
	svc := NewDedupService(repo, 90)

	dup, err := svc.FindDuplicate(context.Background(), "old news", nil)
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestFindDuplicateCleanTopic(t *testing.T) {
	repo := newFakePostRepo()
	svc := NewDedupService(repo, 90)

	dup, err := svc.FindDuplicate(context.Background(), "fresh topic",
		[]string{"https://example.com/new-story", ""})
	require.NoError(t, err)
	assert.Nil(t, dup)
}
