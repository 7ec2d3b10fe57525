package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvalenciano/igflow/internal/meta"
	"github.com/dvalenciano/igflow/internal/models"
)

func graphTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05-0700")
}

func unconfirmedPost(repo *fakePostRepo, caption string, createdAt time.Time) *models.Post {
	repo.nextID++
	p := &models.Post{
		ID:        repo.nextID,
		Topic:     caption,
		Caption:   caption,
		Status:    models.PostStatusPublishError,
		IGStatus:  models.IGStatusUnknown,
		CreatedAt: createdAt,
	}
	repo.posts[p.ID] = p
	return p
}

func TestReconcileClaimsMatchingMedia(t *testing.T) {
	repo := newFakePostRepo()
	post := unconfirmedPost(repo, "My  Great Caption #go", time.Now().Add(-time.Hour))

	graph := &fakeGraph{media: []meta.MediaItem{
		{ID: "901", Caption: "other post", MediaType: "CAROUSEL_ALBUM", Timestamp: graphTime(time.Now())},
		{ID: "902", Caption: "my great caption #go", MediaType: "CAROUSEL_ALBUM", Timestamp: graphTime(time.Now().Add(-30 * time.Minute))},
	}}
	svc := NewReconcileService(repo, graph, 40)

	result, err := svc.Reconcile(context.Background(), 50, 72*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, "902", repo.published[post.ID])

	got, _ := repo.GetByID(context.Background(), post.ID)
	assert.Equal(t, models.PostStatusPublishedActive, got.Status)
}

func TestReconcileRejectsOlderMedia(t *testing.T) {
	repo := newFakePostRepo()
	post := unconfirmedPost(repo, "repeated caption", time.Now().Add(-time.Hour))

	// Same caption, but the remote media predates this post by far more
	// than the tolerated skew: it belongs to an older publication.
	graph := &fakeGraph{media: []meta.MediaItem{
		{ID: "903", Caption: "repeated caption", MediaType: "CAROUSEL_ALBUM", Timestamp: graphTime(time.Now().Add(-48 * time.Hour))},
	}}
	svc := NewReconcileService(repo, graph, 40)

	result, err := svc.Reconcile(context.Background(), 50, 72*time.Hour)
	require.NoError(t, err)

	assert.Zero(t, result.Matched)
	assert.Empty(t, repo.published[post.ID])
}

func TestReconcileSkipsNonCarouselMedia(t *testing.T) {
	repo := newFakePostRepo()
	unconfirmedPost(repo, "some caption", time.Now().Add(-time.Hour))

	graph := &fakeGraph{media: []meta.MediaItem{
		{ID: "904", Caption: "some caption", MediaType: "VIDEO", MediaProductType: "REELS", Timestamp: graphTime(time.Now())},
	}}
	svc := NewReconcileService(repo, graph, 40)

	result, err := svc.Reconcile(context.Background(), 50, 72*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, result.Matched)
}

func TestReconcileClaimsEachMediaOnce(t *testing.T) {
	repo := newFakePostRepo()
	first := unconfirmedPost(repo, "same caption twice", time.Now().Add(-2*time.Hour))
	second := unconfirmedPost(repo, "same caption twice", time.Now().Add(-time.Hour))

	graph := &fakeGraph{media: []meta.MediaItem{
		{ID: "905", Caption: "same caption twice", MediaType: "CAROUSEL_ALBUM", Timestamp: graphTime(time.Now())},
	}}
	svc := NewReconcileService(repo, graph, 40)

	result, err := svc.Reconcile(context.Background(), 50, 72*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Matched)
	claimedFirst := repo.published[first.ID] == "905"
	claimedSecond := repo.published[second.ID] == "905"
	assert.True(t, claimedFirst != claimedSecond, "exactly one post may claim the media id")
}

func TestReconcileSkipsMediaOwnedByAnotherPost(t *testing.T) {
	repo := newFakePostRepo()
	owner := &models.Post{ID: 77, IGMediaID: "906", Status: models.PostStatusPublishedActive, IGStatus: models.IGStatusActive}
	repo.posts[owner.ID] = owner
	repo.nextID = owner.ID

	orphan := unconfirmedPost(repo, "claimed elsewhere", time.Now().Add(-time.Hour))

	graph := &fakeGraph{media: []meta.MediaItem{
		{ID: "906", Caption: "claimed elsewhere", MediaType: "CAROUSEL_ALBUM", Timestamp: graphTime(time.Now())},
	}}
	svc := NewReconcileService(repo, graph, 40)

	result, err := svc.Reconcile(context.Background(), 50, 72*time.Hour)
	require.NoError(t, err)

	assert.Zero(t, result.Matched)
	assert.Empty(t, repo.published[orphan.ID])
}

func TestSyncLivenessFlipsStatuses(t *testing.T) {
	repo := newFakePostRepo()
	gone := &models.Post{ID: 1, IGMediaID: "801", Status: models.PostStatusPublishedActive, IGStatus: models.IGStatusActive}
	alive := &models.Post{ID: 2, IGMediaID: "802", Status: models.PostStatusPublishedDeleted, IGStatus: models.IGStatusDeleted}
	repo.posts[1] = gone
	repo.posts[2] = alive
	repo.published[1] = "801"
	repo.published[2] = "802"

	graph := &fakeGraph{liveness: map[string]bool{"801": false, "802": true}}
	svc := NewReconcileService(repo, graph, 40)

	result, err := svc.SyncLiveness(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.Restored)
	assert.Equal(t, models.PostStatusPublishedDeleted, repo.posts[1].Status)
	assert.Equal(t, models.PostStatusPublishedActive, repo.posts[2].Status)
}
