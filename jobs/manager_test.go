package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/storytailor/storytailor/database"
	"github.com/storytailor/storytailor/models"
	"github.com/storytailor/storytailor/storage"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db    *gorm.DB
	store *storage.MemoryStore
	m     *Manager
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	store := storage.NewMemoryStore("http://minio/stories")
	c := &clock{t: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(db, store)
	m.now = c.now
	return &fixture{db: db, store: store, m: m, clock: c}
}

// illustratedStory creates a story with two chunks (1 and 2 images) and their assets.
func (f *fixture) illustratedStory(t *testing.T, userID uint) *models.Story {
	t.Helper()
	ctx := context.Background()
	story := &models.Story{UserID: userID, Title: "Fox", Script: "x", Status: models.StoryIllustrated}
	require.NoError(t, f.db.Create(story).Error)

	for ci, n := range []int{1, 2} {
		audioKey := storage.NarrationKey(story.ID, "r", ci)
		require.NoError(t, f.store.Put(ctx, audioKey, "audio/wav", []byte("wav")))
		require.NoError(t, f.db.Create(&models.NarrationChunk{
			StoryID: story.ID, Index: ci, Text: "t", AudioKey: audioKey, DurationMS: 6000, ImageCount: n,
		}).Error)
		for i := 0; i < n; i++ {
			key := storage.ImageKey(story.ID, "r", ci, i, ".png")
			require.NoError(t, f.store.Put(ctx, key, "image/png", []byte(fmt.Sprintf("img-%d-%d", ci, i))))
			step := int64(6000 / n)
			require.NoError(t, f.db.Create(&models.GeneratedImage{
				StoryID: story.ID, ChunkIndex: ci, Index: i, ImageKey: key,
				StartMS: int64(i) * step, EndMS: int64(i+1) * step,
			}).Error)
		}
	}
	return story
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(models.JobPending, models.JobProcessing))
	assert.True(t, canTransition(models.JobPending, models.JobCancelled))
	assert.True(t, canTransition(models.JobProcessing, models.JobCompleted))
	assert.False(t, canTransition(models.JobPending, models.JobCompleted))
	assert.False(t, canTransition(models.JobCompleted, models.JobProcessing))
	assert.False(t, canTransition(models.JobCancelled, models.JobPending))
	assert.False(t, canTransition(models.JobFailed, models.JobFailed))
}

func TestCreateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.illustratedStory(t, 1)

	_, err := f.m.Create(ctx, 2, story.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	bare := &models.Story{UserID: 1, Title: "empty"}
	require.NoError(t, f.db.Create(bare).Error)
	_, err = f.m.Create(ctx, 1, bare.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	job, err := f.m.Create(ctx, 1, story.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Len(t, job.ID, 36)

	_, err = f.m.Create(ctx, 1, story.ID)
	assert.ErrorIs(t, err, models.ErrJobActive)

	_, err = f.m.Cancel(ctx, 1, job.ID)
	require.NoError(t, err)
	_, err = f.m.Create(ctx, 1, story.ID)
	assert.NoError(t, err)
}

func TestConcurrentCreateAllowsOneActiveJob(t *testing.T) {
	f := newFixture(t)
	story := f.illustratedStory(t, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.m.Create(context.Background(), 1, story.ID); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.illustratedStory(t, 1)
	job, err := f.m.Create(ctx, 1, story.ID)
	require.NoError(t, err)

	got, err := f.m.Get(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.m.Get(ctx, 2, job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.m.Get(ctx, 1, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	list, err := f.m.ListForStory(ctx, 1, story.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	all, err := f.m.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTransitionsAndTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.illustratedStory(t, 1)
	job, err := f.m.Create(ctx, 1, story.ID)
	require.NoError(t, err)

	_, err = f.m.complete(ctx, job.ID, "k", "u")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	f.clock.advance(time.Second)
	running, err := f.m.start(ctx, job.ID, func() {})
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, running.Status)
	require.NotNil(t, running.StartedAt)
	f.m.release(job.ID)

	f.clock.advance(time.Second)
	done, err := f.m.complete(ctx, job.ID, "stories/1/videos/x.mp4", "http://minio/x.mp4")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.FinishedAt)
	assert.True(t, done.FinishedAt.After(*done.StartedAt))

	var s models.Story
	require.NoError(t, f.db.First(&s, story.ID).Error)
	assert.Equal(t, "http://minio/x.mp4", s.VideoURL)
	assert.Equal(t, models.StoryRendered, s.Status)

	_, err = f.m.Cancel(ctx, 1, job.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestUpdateProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.illustratedStory(t, 1)
	job, err := f.m.Create(ctx, 1, story.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.m.UpdateProgress(ctx, job.ID, 10), models.ErrInvalidTransition)

	_, err = f.m.start(ctx, job.ID, func() {})
	require.NoError(t, err)

	require.NoError(t, f.m.UpdateProgress(ctx, job.ID, 40))
	require.NoError(t, f.m.UpdateProgress(ctx, job.ID, 25))
	got, _ := f.m.Get(ctx, 1, job.ID)
	assert.Equal(t, 40, got.Progress)

	require.NoError(t, f.m.UpdateProgress(ctx, job.ID, 250))
	got, _ = f.m.Get(ctx, 1, job.ID)
	assert.Equal(t, 100, got.Progress)

	assert.ErrorIs(t, f.m.UpdateProgress(ctx, "missing", 10), models.ErrNotFound)
}

func TestCancelInvokesRunningCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.illustratedStory(t, 1)
	job, err := f.m.Create(ctx, 1, story.ID)
	require.NoError(t, err)

	called := false
	_, err = f.m.start(ctx, job.ID, func() { called = true })
	require.NoError(t, err)

	_, err = f.m.Cancel(ctx, 2, job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, called)

	got, err := f.m.Cancel(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, got.Status)
	assert.True(t, called)
}

func TestCancelRacingStartStopsRender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.illustratedStory(t, 1)

	for i := 0; i < 50; i++ {
		job, err := f.m.Create(ctx, 1, story.ID)
		require.NoError(t, err)

		var (
			called    atomic.Bool
			startErr  error
			cancelErr error
			wg        sync.WaitGroup
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, startErr = f.m.start(ctx, job.ID, func() { called.Store(true) })
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.m.Cancel(ctx, 1, job.ID)
		}()
		wg.Wait()

		require.NoError(t, cancelErr)
		if startErr == nil {
			assert.True(t, called.Load(), "round %d: claimed job was cancelled without stopping its render", i)
		} else {
			assert.ErrorIs(t, startErr, models.ErrInvalidTransition)
		}
		f.m.release(job.ID)
	}
}

func TestPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.illustratedStory(t, 1)

	old := models.VideoJob{ID: "old", StoryID: story.ID, UserID: 1, Status: models.JobCompleted,
		VideoKey: "stories/1/videos/old.mp4", VideoURL: "http://minio/old.mp4"}
	current := models.VideoJob{ID: "current", StoryID: story.ID, UserID: 1, Status: models.JobCompleted,
		VideoKey: "stories/1/videos/current.mp4", VideoURL: "http://minio/current.mp4"}
	stuck := models.VideoJob{ID: "stuck", StoryID: story.ID, UserID: 1, Status: models.JobProcessing}
	for _, j := range []*models.VideoJob{&old, &current, &stuck} {
		j.CreatedAt = f.clock.now()
		j.UpdatedAt = f.clock.now()
		require.NoError(t, f.db.Create(j).Error)
	}
	require.NoError(t, f.db.Model(&models.Story{}).Where("id = ?", story.ID).Update("video_url", current.VideoURL).Error)
	require.NoError(t, f.store.Put(ctx, old.VideoKey, "video/mp4", []byte("old")))
	require.NoError(t, f.store.Put(ctx, current.VideoKey, "video/mp4", []byte("cur")))

	n, err := f.m.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.advance(25 * time.Hour)
	n, err = f.m.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var remaining []models.VideoJob
	require.NoError(t, f.db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "stuck", remaining[0].ID)

	_, err = f.store.Get(ctx, old.VideoKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.store.Get(ctx, current.VideoKey)
	assert.NoError(t, err)
}

func TestPruneKeepsVideoWhenUsageUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := models.VideoJob{ID: "orphan", StoryID: 42, UserID: 1, Status: models.JobCompleted,
		VideoKey: "stories/42/videos/orphan.mp4", VideoURL: "http://minio/orphan.mp4",
		CreatedAt: f.clock.now(), UpdatedAt: f.clock.now()}
	require.NoError(t, f.db.Create(&job).Error)
	require.NoError(t, f.store.Put(ctx, job.VideoKey, "video/mp4", []byte("v")))

	// Without the stories table the in-use lookup fails.
	require.NoError(t, f.db.Migrator().DropTable(&models.Story{}))

	f.clock.advance(25 * time.Hour)
	n, err := f.m.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.store.Get(ctx, job.VideoKey)
	assert.NoError(t, err)
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	story := f.illustratedStory(t, 1)
	other := f.illustratedStory(t, 1)

	require.NoError(t, f.db.Create(&models.VideoJob{ID: "interrupted", StoryID: story.ID, UserID: 1, Status: models.JobProcessing}).Error)
	require.NoError(t, f.db.Create(&models.VideoJob{ID: "waiting", StoryID: other.ID, UserID: 1, Status: models.JobPending}).Error)

	require.NoError(t, f.m.Recover(ctx))
	require.NoError(t, f.m.Recover(ctx))

	got, err := f.m.Get(ctx, 1, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)

	assert.Equal(t, []string{"waiting"}, f.m.pending)
	id, ok := f.m.next(ctx)
	require.True(t, ok)
	assert.Equal(t, "waiting", id)
}

func TestNextBlocksUntilQueuedOrDone(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan string, 1)
	go func() {
		id, _ := f.m.next(ctx)
		got <- id
	}()

	f.m.mu.Lock()
	f.m.enqueueLocked("a")
	f.m.mu.Unlock()
	assert.Equal(t, "a", <-got)

	cancel()
	_, ok := f.m.next(ctx)
	assert.False(t, ok)
}
