// Package jobs tracks video render jobs in the database and runs them on a small
// worker pool.
//
// Every status change is a compare-and-swap UPDATE (WHERE status = <expected>)
// inside a transaction, so a job can only move along the allowed transitions even
// if two goroutines race on it. At most one job per story is active (pending or
// processing) at any time.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storytailor/storytailor/database"
	"github.com/storytailor/storytailor/models"
	"github.com/storytailor/storytailor/storage"
)

var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobPending:    {models.JobProcessing, models.JobCancelled, models.JobFailed},
	models.JobProcessing: {models.JobCompleted, models.JobFailed, models.JobCancelled},
}

func canTransition(from, to models.JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Manager struct {
	db    *gorm.DB
	store storage.ObjectStore
	now   func() time.Time

	mu      sync.Mutex
	pending []string
	notify  chan struct{}
	cancels map[string]context.CancelFunc
}

func NewManager(db *gorm.DB, store storage.ObjectStore) *Manager {
	return &Manager{
		db:      db,
		store:   store,
		now:     time.Now,
		notify:  make(chan struct{}, 1),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Create queues a render for a story owned by userID.
func (m *Manager) Create(ctx context.Context, userID, storyID uint) (*models.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := &models.VideoJob{
		ID:      uuid.NewString(),
		StoryID: storyID,
		UserID:  userID,
		Status:  models.JobPending,
	}
	err := database.Transaction(ctx, m.db, func(tx *gorm.DB) error {
		var story models.Story
		if err := tx.Where("id = ? AND user_id = ?", storyID, userID).First(&story).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return err
		}

		var images int64
		if err := tx.Model(&models.GeneratedImage{}).Where("story_id = ?", storyID).Count(&images).Error; err != nil {
			return err
		}
		if images == 0 {
			return fmt.Errorf("%w: story has no illustrations yet", models.ErrInvalidState)
		}

		var active int64
		if err := tx.Model(&models.VideoJob{}).
			Where("story_id = ? AND status IN ?", storyID, []models.JobStatus{models.JobPending, models.JobProcessing}).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return models.ErrJobActive
		}

		now := m.now()
		job.CreatedAt = now
		job.UpdatedAt = now
		return tx.Create(job).Error
	})
	if err != nil {
		return nil, err
	}

	m.enqueueLocked(job.ID)
	log.Printf("Video job %s queued for story %d", job.ID, storyID)
	return job, nil
}

func (m *Manager) find(ctx context.Context, id string) (*models.VideoJob, error) {
	var job models.VideoJob
	err := m.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Get returns a job owned by userID.
func (m *Manager) Get(ctx context.Context, userID uint, id string) (*models.VideoJob, error) {
	job, err := m.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, models.ErrNotFound
	}
	return job, nil
}

func (m *Manager) ListForStory(ctx context.Context, userID, storyID uint) ([]models.VideoJob, error) {
	var jobs []models.VideoJob
	err := m.db.WithContext(ctx).
		Where("story_id = ? AND user_id = ?", storyID, userID).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// List returns the most recent jobs across all users.
func (m *Manager) List(ctx context.Context, limit int) ([]models.VideoJob, error) {
	var jobs []models.VideoJob
	err := m.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// Cancel stops a pending or running job owned by userID.
func (m *Manager) Cancel(ctx context.Context, userID uint, id string) (*models.VideoJob, error) {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	job, err := m.transitionLocked(ctx, id, models.JobCancelled, nil, nil)
	if err == nil {
		if cancel, ok := m.cancels[id]; ok {
			cancel()
		}
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log.Printf("Video job %s cancelled", id)
	return job, nil
}

// transition moves a job to status to, applying fields and then extra inside the
// same transaction.
func (m *Manager) transition(ctx context.Context, id string, to models.JobStatus, fields map[string]any, extra func(tx *gorm.DB, job *models.VideoJob) error) (*models.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(ctx, id, to, fields, extra)
}

// transitionLocked is transition for callers that already hold m.mu.
func (m *Manager) transitionLocked(ctx context.Context, id string, to models.JobStatus, fields map[string]any, extra func(tx *gorm.DB, job *models.VideoJob) error) (*models.VideoJob, error) {
	var job models.VideoJob
	err := database.Transaction(ctx, m.db, func(tx *gorm.DB) error {
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return err
		}
		if !canTransition(job.Status, to) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, job.Status, to)
		}

		now := m.now()
		updates := map[string]any{"status": to, "updated_at": now}
		switch to {
		case models.JobProcessing:
			updates["started_at"] = now
		case models.JobCompleted, models.JobFailed, models.JobCancelled:
			updates["finished_at"] = now
		}
		for k, v := range fields {
			updates[k] = v
		}

		res := tx.Model(&models.VideoJob{}).Where("id = ? AND status = ?", id, job.Status).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s changed concurrently", models.ErrInvalidTransition, id)
		}
		if extra != nil {
			if err := extra(tx, &job); err != nil {
				return err
			}
		}
		return tx.First(&job, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateProgress records render progress. Values are clamped to [0, 100] and a value
// lower than the stored one is ignored.
func (m *Manager) UpdateProgress(ctx context.Context, id string, progress int) error {
	progress = max(0, min(progress, 100))

	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.db.WithContext(ctx).Model(&models.VideoJob{}).
		Where("id = ? AND status = ? AND progress < ?", id, models.JobProcessing, progress).
		Updates(map[string]any{"progress": progress, "updated_at": m.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	job, err := m.find(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobProcessing {
		return fmt.Errorf("%w: progress on %s job", models.ErrInvalidTransition, job.Status)
	}
	return nil
}

// Prune removes finished jobs last updated before maxAge ago. Active jobs are never
// touched. Videos of pruned jobs are deleted unless the story still points at them.
func (m *Manager) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := m.now().Add(-maxAge)

	var stale []models.VideoJob
	if err := m.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]models.JobStatus{models.JobCompleted, models.JobFailed, models.JobCancelled}, cutoff).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("find stale jobs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, j := range stale {
		ids[i] = j.ID
	}
	if err := m.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.VideoJob{}).Error; err != nil {
		return 0, fmt.Errorf("delete stale jobs: %w", err)
	}

	if m.store != nil {
		for _, j := range stale {
			if j.VideoKey == "" {
				continue
			}
			var inUse int64
			if err := m.db.WithContext(ctx).Model(&models.Story{}).
				Where("id = ? AND video_url = ?", j.StoryID, j.VideoURL).
				Count(&inUse).Error; err != nil {
				log.Printf("Warning: keeping video %s, could not check whether it is in use: %v", j.VideoKey, err)
				continue
			}
			if inUse > 0 {
				continue
			}
			if err := m.store.Delete(ctx, j.VideoKey); err != nil {
				log.Printf("Warning: failed to remove video %s: %v", j.VideoKey, err)
			}
		}
	}

	log.Printf("Pruned %d video jobs older than %s", len(stale), maxAge)
	return len(stale), nil
}

// Recover is run once at startup: jobs that were processing when the previous
// process died are failed, pending jobs are queued again in creation order.
func (m *Manager) Recover(ctx context.Context) error {
	res := m.db.WithContext(ctx).Model(&models.VideoJob{}).
		Where("status = ?", models.JobProcessing).
		Updates(map[string]any{
			"status":      models.JobFailed,
			"error":       "interrupted by restart",
			"finished_at": m.now(),
			"updated_at":  m.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("fail interrupted jobs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("Marked %d interrupted video jobs as failed", res.RowsAffected)
	}

	var pending []models.VideoJob
	if err := m.db.WithContext(ctx).
		Where("status = ?", models.JobPending).
		Order("created_at").
		Find(&pending).Error; err != nil {
		return fmt.Errorf("load pending jobs: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	queued := make(map[string]bool, len(m.pending))
	for _, id := range m.pending {
		queued[id] = true
	}
	for _, j := range pending {
		if !queued[j.ID] {
			m.enqueueLocked(j.ID)
		}
	}
	return nil
}

func (m *Manager) enqueueLocked(id string) {
	m.pending = append(m.pending, id)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// next blocks until a job id is queued or ctx is done.
func (m *Manager) next(ctx context.Context) (string, bool) {
	for {
		m.mu.Lock()
		if len(m.pending) > 0 {
			id := m.pending[0]
			m.pending = m.pending[1:]
			if len(m.pending) > 0 {
				select {
				case m.notify <- struct{}{}:
				default:
				}
			}
			m.mu.Unlock()
			return id, true
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return "", false
		}
	}
}

// start claims a pending job and registers cancel so Cancel can stop the render.
// Both happen under m.mu, so a Cancel either sees the job still pending or finds
// the cancel func.
func (m *Manager) start(ctx context.Context, id string, cancel context.CancelFunc) (*models.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.transitionLocked(ctx, id, models.JobProcessing, nil, nil)
	if err != nil {
		return nil, err
	}
	m.cancels[id] = cancel
	return job, nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.cancels, id)
	m.mu.Unlock()
}

// complete finishes a job and publishes its video on the story in one transaction.
func (m *Manager) complete(ctx context.Context, id, key, url string) (*models.VideoJob, error) {
	return m.transition(ctx, id, models.JobCompleted, map[string]any{
		"progress":  100,
		"video_key": key,
		"video_url": url,
		"error":     "",
	}, func(tx *gorm.DB, job *models.VideoJob) error {
		return tx.Model(&models.Story{}).Where("id = ?", job.StoryID).Updates(map[string]any{
			"video_url": url,
			"status":    models.StoryRendered,
		}).Error
	})
}

func (m *Manager) fail(ctx context.Context, id string, cause error) (*models.VideoJob, error) {
	return m.transition(ctx, id, models.JobFailed, map[string]any{"error": cause.Error()}, nil)
}
