package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dvalenciano/igflow/internal/hashing"
	"github.com/dvalenciano/igflow/internal/meta"
	"github.com/dvalenciano/igflow/internal/models"
	"github.com/dvalenciano/igflow/internal/repository"
)

// fakePostRepo is an in-memory PostRepository used across the service tests.
type fakePostRepo struct {
	posts  map[int64]*models.Post
	hashes map[string]*repository.DuplicateRow // source_hash -> existing post
	topics map[string]*repository.DuplicateRow // topic_hash -> existing post

	attemptTimes []time.Time
	nextID       int64

	attempts  []int64
	published map[int64]string
	errored   map[int64]string // post id -> tag
	igDeleted []int64
	igActive  []int64

	topicCutoff time.Time

	// afterGetByID, when set, runs after a GetByID read has been copied
	// out, letting a test mutate state between consecutive reads.
	afterGetByID func(id int64)
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{
		posts:     make(map[int64]*models.Post),
		hashes:    make(map[string]*repository.DuplicateRow),
		topics:    make(map[string]*repository.DuplicateRow),
		published: make(map[int64]string),
		errored:   make(map[int64]string),
		nextID:    100,
	}
}

func (f *fakePostRepo) Create(ctx context.Context, post *models.Post, sourceURLs []string) (int64, error) {
	f.nextID++
	post.ID = f.nextID
	post.CreatedAt = time.Now()
	post.SourceCount = len(sourceURLs)
	f.posts[post.ID] = post
	return post.ID, nil
}

func (f *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	p, ok := f.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	if f.afterGetByID != nil {
		f.afterGetByID(id)
	}
	return &cp, nil
}

func (f *fakePostRepo) GetByMediaID(ctx context.Context, mediaID string) (*models.Post, error) {
	for _, p := range f.posts {
		if p.IGMediaID == mediaID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePostRepo) List(ctx context.Context, limit int) ([]*models.Post, error) {
	var out []*models.Post
	for _, p := range f.posts {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePostRepo) ListSources(ctx context.Context, postIDs []int64) (map[int64][]string, error) {
	return map[int64][]string{}, nil
}

func (f *fakePostRepo) ListRetryable(ctx context.Context, limit int) ([]*models.Post, error) {
	var out []*models.Post
	for _, p := range f.posts {
		if p.Status.Retryable() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePostRepo) ListPendingForReconcile(ctx context.Context, limit int, maxAge time.Duration) ([]*models.Post, error) {
	var out []*models.Post
	for _, p := range f.posts {
		if p.Status.Retryable() && p.IGMediaID == "" && p.Caption != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePostRepo) ListForMetricsSync(ctx context.Context, limit int) ([]*models.Post, error) {
	var out []*models.Post
	for _, p := range f.posts {
		if p.Status.Published() && p.IGMediaID != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePostRepo) ListAttemptTimes(ctx context.Context, since time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, t := range f.attemptTimes {
		if !t.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakePostRepo) FindSourceDuplicate(ctx context.Context, sourceHash string) (*repository.DuplicateRow, error) {
	return f.hashes[sourceHash], nil
}

func (f *fakePostRepo) FindTopicDuplicate(ctx context.Context, topicHash string, cutoff time.Time) (*repository.DuplicateRow, error) {
	f.topicCutoff = cutoff
	row, ok := f.topics[topicHash]
	if !ok {
		return nil, nil
	}
	if row.PublishedAt != nil && row.PublishedAt.Before(cutoff) {
		return nil, nil
	}
	return row, nil
}

func (f *fakePostRepo) MarkPublishAttempt(ctx context.Context, id int64) error {
	f.attempts = append(f.attempts, id)
	if p, ok := f.posts[id]; ok {
		p.PublishAttempts++
		now := time.Now()
		p.LastPublishAttemptAt = &now
	}
	return nil
}

func (f *fakePostRepo) MarkPublished(ctx context.Context, id int64, mediaID string) error {
	for otherID, claimed := range f.published {
		if claimed == mediaID && otherID != id {
			return repository.ErrMediaIDClaimed
		}
	}
	f.published[id] = mediaID
	if p, ok := f.posts[id]; ok {
		p.IGMediaID = mediaID
		p.Status = models.PostStatusPublishedActive
		p.IGStatus = models.IGStatusActive
		now := time.Now()
		p.PublishedAt = &now
	}
	return nil
}

func (f *fakePostRepo) MarkPublishError(ctx context.Context, id int64, tag, code, message string) error {
	f.errored[id] = tag
	if p, ok := f.posts[id]; ok {
		p.Status = models.PostStatusPublishError
		p.LastErrorTag = tag
		p.LastErrorCode = code
		p.LastErrorMessage = message
	}
	return nil
}

func (f *fakePostRepo) MarkIGActive(ctx context.Context, id int64) error {
	f.igActive = append(f.igActive, id)
	if p, ok := f.posts[id]; ok {
		p.IGStatus = models.IGStatusActive
		if p.Status == models.PostStatusPublishedDeleted {
			p.Status = models.PostStatusPublishedActive
		}
	}
	return nil
}

func (f *fakePostRepo) MarkIGDeleted(ctx context.Context, id int64, reason string) error {
	f.igDeleted = append(f.igDeleted, id)
	if p, ok := f.posts[id]; ok {
		p.IGStatus = models.IGStatusDeleted
		if p.Status.Published() {
			p.Status = models.PostStatusPublishedDeleted
		}
	}
	return nil
}

func (f *fakePostRepo) addPublishedSource(url, topic string) *repository.DuplicateRow {
	row := &repository.DuplicateRow{PostID: 1, Topic: topic, IGMediaID: "555", SourceURL: url}
	f.hashes[hashing.SourceHash(url)] = row
	return row
}

// fakeGraph is an in-memory RemoteMediaAPI.
type fakeGraph struct {
	media    []meta.MediaItem
	liveness map[string]bool
	metrics  map[string]*meta.MediaMetrics
	mediaErr error
}

func (f *fakeGraph) RecentMedia(ctx context.Context, limit int) ([]meta.MediaItem, error) {
	return f.media, f.mediaErr
}

func (f *fakeGraph) MediaLiveness(ctx context.Context, mediaID string) (bool, string, error) {
	alive, ok := f.liveness[mediaID]
	if !ok {
		return false, "", fmt.Errorf("no liveness fixture for %s", mediaID)
	}
	if !alive {
		return false, "Object with ID does not exist", nil
	}
	return true, "", nil
}

func (f *fakeGraph) MediaMetrics(ctx context.Context, mediaID string) (*meta.MediaMetrics, error) {
	m, ok := f.metrics[mediaID]
	if !ok {
		return nil, fmt.Errorf("no metrics fixture for %s", mediaID)
	}
	return m, nil
}

// fakeGenerator returns canned documents.
type fakeGenerator struct {
	topicDoc    models.Document
	contentDoc  models.Document
	strategyDoc models.Document
	slidePaths  []string
	renderErr   error
}

func (f *fakeGenerator) Research(ctx context.Context, topic string) (models.Document, error) {
	if f.topicDoc != nil {
		return f.topicDoc, nil
	}
	return models.Document{"topic": topic}, nil
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, topicDoc models.Document, template *int) (models.Document, error) {
	if f.contentDoc != nil {
		return f.contentDoc, nil
	}
	return models.Document{"caption": "generated caption"}, nil
}

func (f *fakeGenerator) BuildStrategy(ctx context.Context, contentDoc models.Document) (models.Document, error) {
	if f.strategyDoc != nil {
		return f.strategyDoc, nil
	}
	return models.Document{"full_caption": "the final caption #go"}, nil
}

func (f *fakeGenerator) RenderSlides(ctx context.Context, contentDoc models.Document, template *int) ([]string, error) {
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	if f.slidePaths != nil {
		return f.slidePaths, nil
	}
	return []string{"/tmp/slide_1.png", "/tmp/slide_2.png"}, nil
}

// fakePublisher records publish calls.
type fakePublisher struct {
	mediaID     string
	err         error
	calls       int
	lastCaption string
}

func (f *fakePublisher) PublishCarousel(ctx context.Context, imageURLs []string, caption string) (string, error) {
	f.calls++
	f.lastCaption = caption
	if f.err != nil {
		return "", f.err
	}
	return f.mediaID, nil
}

// fakeImages resolves paths to URLs verbatim.
type fakeImages struct{}

func (fakeImages) ResolveAll(ctx context.Context, paths []string) ([]string, error) {
	urls := make([]string, len(paths))
	for i, p := range paths {
		urls[i] = "https://img.example.com" + p
	}
	return urls, nil
}
