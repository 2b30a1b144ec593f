// Package pipeline drives a story from the user's description through script,
// narration and illustrations. Each step replaces the output of the previous run
// and invalidates everything downstream of it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storytailor/storytailor/ai"
	"github.com/storytailor/storytailor/database"
	"github.com/storytailor/storytailor/models"
	"github.com/storytailor/storytailor/planner"
	"github.com/storytailor/storytailor/storage"
)

type Pipeline struct {
	db          *gorm.DB
	store       storage.ObjectStore
	writer      ai.ScriptWriter
	narrator    ai.Narrator
	illustrator ai.Illustrator

	// Concurrency bounds in-flight provider calls within one step.
	Concurrency   int
	MaxChunkChars int
	TempDir       string

	mu      sync.Mutex
	running map[uint]struct{}
}

func New(db *gorm.DB, store storage.ObjectStore, writer ai.ScriptWriter, narrator ai.Narrator, illustrator ai.Illustrator) *Pipeline {
	return &Pipeline{
		db:            db,
		store:         store,
		writer:        writer,
		narrator:      narrator,
		illustrator:   illustrator,
		Concurrency:   4,
		MaxChunkChars: planner.DefaultMaxChunkChars,
		running:       make(map[uint]struct{}),
	}
}

type StoryInput struct {
	Title    string `json:"title"`
	Prompt   string `json:"prompt"`
	AgeGroup string `json:"age_group"`
}

func (in StoryInput) Validate() error {
	if strings.TrimSpace(in.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", models.ErrInvalidInput)
	}
	return nil
}

// lock serialises pipeline steps per story. A second step on the same story fails
// fast with ErrBusy instead of queueing behind slow provider calls.
// Only stories with a step in flight are tracked.
func (p *Pipeline) lock(storyID uint) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.running[storyID]; busy {
		return nil, models.ErrBusy
	}
	p.running[storyID] = struct{}{}
	return func() {
		p.mu.Lock()
		delete(p.running, storyID)
		p.mu.Unlock()
	}, nil
}

func newRevision() string {
	return uuid.NewString()[:8]
}

func (p *Pipeline) CreateStory(ctx context.Context, userID uint, in StoryInput) (*models.Story, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled story"
	}
	story := &models.Story{
		UserID:   userID,
		Title:    title,
		Prompt:   strings.TrimSpace(in.Prompt),
		AgeGroup: strings.TrimSpace(in.AgeGroup),
		Status:   models.StoryDraft,
	}
	if err := p.db.WithContext(ctx).Create(story).Error; err != nil {
		return nil, fmt.Errorf("create story: %w", err)
	}
	return story, nil
}

// GetStory loads a story owned by userID with its chunks and images in playback order.
func (p *Pipeline) GetStory(ctx context.Context, userID, storyID uint) (*models.Story, error) {
	var story models.Story
	err := p.db.WithContext(ctx).
		Preload("Chunks", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("chunk_index, position") }).
		Where("id = ? AND user_id = ?", storyID, userID).
		First(&story).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load story %d: %w", storyID, err)
	}
	return &story, nil
}

func (p *Pipeline) ListStories(ctx context.Context, userID uint) ([]models.Story, error) {
	var stories []models.Story
	if err := p.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&stories).Error; err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return stories, nil
}

func (p *Pipeline) DeleteStory(ctx context.Context, userID, storyID uint) error {
	unlock, err := p.lock(storyID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := p.GetStory(ctx, userID, storyID); err != nil {
		return err
	}

	err = database.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		if err := ensureNoActiveJob(tx, storyID); err != nil {
			return err
		}
		if err := deleteDerived(tx, storyID); err != nil {
			return err
		}
		if err := tx.Where("story_id = ?", storyID).Delete(&models.VideoJob{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Story{}, storyID).Error
	})
	if err != nil {
		return fmt.Errorf("delete story %d: %w", storyID, err)
	}

	if err := p.store.DeletePrefix(ctx, storage.StoryPrefix(storyID)); err != nil {
		log.Printf("Warning: failed to remove objects for story %d: %v", storyID, err)
	}
	return nil
}

// GenerateScript asks the LLM for the story text and discards any narration or
// illustrations produced from a previous script.
func (p *Pipeline) GenerateScript(ctx context.Context, userID, storyID uint) (*models.Story, error) {
	unlock, err := p.lock(storyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	story, err := p.GetStory(ctx, userID, storyID)
	if err != nil {
		return nil, err
	}
	if err := ensureNoActiveJob(p.db.WithContext(ctx), storyID); err != nil {
		return nil, err
	}

	start := time.Now()
	script, err := p.writer.WriteScript(ctx, ai.ScriptRequest{
		Title:    story.Title,
		Prompt:   story.Prompt,
		AgeGroup: story.AgeGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	log.Printf("Story %d: script written in %.2f seconds (%d chars)", storyID, time.Since(start).Seconds(), len(script))

	oldKeys := assetKeys(story)
	err = database.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		if err := ensureNoActiveJob(tx, storyID); err != nil {
			return err
		}
		if err := deleteDerived(tx, storyID); err != nil {
			return err
		}
		return tx.Model(&models.Story{}).Where("id = ?", storyID).Updates(map[string]any{
			"script":    script,
			"status":    models.StoryScripted,
			"video_url": "",
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("save script: %w", err)
	}
	p.removeObjects(ctx, oldKeys)

	return p.GetStory(ctx, userID, storyID)
}

func ensureNoActiveJob(tx *gorm.DB, storyID uint) error {
	var n int64
	if err := tx.Model(&models.VideoJob{}).
		Where("story_id = ? AND status IN ?", storyID, []models.JobStatus{models.JobPending, models.JobProcessing}).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return models.ErrJobActive
	}
	return nil
}

// deleteDerived hard-deletes chunk and image rows. Soft deletes would keep the
// (story_id, index) unique key occupied.
func deleteDerived(tx *gorm.DB, storyID uint) error {
	if err := tx.Unscoped().Where("story_id = ?", storyID).Delete(&models.GeneratedImage{}).Error; err != nil {
		return err
	}
	return tx.Unscoped().Where("story_id = ?", storyID).Delete(&models.NarrationChunk{}).Error
}

func assetKeys(story *models.Story) []string {
	var keys []string
	for _, c := range story.Chunks {
		if c.AudioKey != "" {
			keys = append(keys, c.AudioKey)
		}
	}
	keys = append(keys, imageKeys(story)...)
	return keys
}

func imageKeys(story *models.Story) []string {
	var keys []string
	for _, img := range story.Images {
		if img.ImageKey != "" {
			keys = append(keys, img.ImageKey)
		}
	}
	return keys
}

// removeObjects deletes objects that are no longer referenced. Failures only leak
// storage, so they are logged rather than returned.
func (p *Pipeline) removeObjects(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := p.store.Delete(ctx, k); err != nil {
			log.Printf("Warning: failed to remove %s: %v", k, err)
		}
	}
}
