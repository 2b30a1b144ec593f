package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gorm.io/gorm"

	"github.com/storytailor/storytailor/media"
	"github.com/storytailor/storytailor/models"
	"github.com/storytailor/storytailor/storage"
)

const lockFileName = "storytailor-render.lock"

// ErrLocked is returned by Run when another process renders in the same work dir.
var ErrLocked = errors.New("render work dir is locked by another process")

// Worker renders queued jobs. One Worker per work dir; the flock enforces it.
type Worker struct {
	manager  *Manager
	db       *gorm.DB
	store    storage.ObjectStore
	renderer media.Renderer

	WorkDir       string
	Workers       int
	Retention     time.Duration
	PruneInterval time.Duration
}

func NewWorker(m *Manager, db *gorm.DB, store storage.ObjectStore, renderer media.Renderer, workDir string) *Worker {
	return &Worker{
		manager:       m,
		db:            db,
		store:         store,
		renderer:      renderer,
		WorkDir:       workDir,
		Workers:       2,
		Retention:     24 * time.Hour,
		PruneInterval: time.Hour,
	}
}

// Run holds the work dir lock, recovers jobs left over from a previous process,
// and processes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	lock := flock.New(filepath.Join(w.WorkDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire render lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Printf("Warning: failed to release render lock: %v", err)
		}
	}()

	if err := w.manager.Recover(ctx); err != nil {
		return err
	}

	log.Printf("Render worker started with %d workers in %s", w.Workers, w.WorkDir)

	var wg sync.WaitGroup
	for i := 0; i < max(1, w.Workers); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok := w.manager.next(ctx)
				if !ok {
					return
				}
				w.process(ctx, id)
			}
		}()
	}

	if w.PruneInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(w.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if _, err := w.manager.Prune(ctx, w.Retention); err != nil {
						log.Printf("Prune failed: %v", err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	wg.Wait()
	log.Println("Render worker stopped")
	return nil
}

func (w *Worker) process(ctx context.Context, id string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, err := w.manager.start(ctx, id, cancel)
	if err != nil {
		// Cancelled before a worker picked it up.
		log.Printf("Skipping video job %s: %v", id, err)
		return
	}
	defer w.manager.release(id)

	start := time.Now()
	log.Printf("Rendering video job %s for story %d", id, job.StoryID)

	key, err := w.render(jobCtx, job)
	if err == nil {
		url := w.store.URL(key)
		if _, err = w.manager.complete(context.WithoutCancel(ctx), id, key, url); err == nil {
			log.Printf("Video job %s completed in %.2f seconds", id, time.Since(start).Seconds())
			return
		}
		// Cancelled while uploading; the video is orphaned.
		if delErr := w.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			log.Printf("Warning: failed to remove %s: %v", key, delErr)
		}
	}

	if ctx.Err() != nil {
		err = fmt.Errorf("interrupted by shutdown: %w", err)
	}
	if _, ferr := w.manager.fail(context.WithoutCancel(ctx), id, err); ferr != nil {
		if errors.Is(ferr, models.ErrInvalidTransition) {
			log.Printf("Video job %s stopped: %v", id, err)
			return
		}
		log.Printf("Failed to record failure of video job %s: %v", id, ferr)
		return
	}
	log.Printf("Video job %s failed: %v", id, err)
}

// render downloads the story's assets, renders, and uploads the video. Progress:
// 0-20 download, 20-90 render, 90-100 upload.
func (w *Worker) render(ctx context.Context, job *models.VideoJob) (string, error) {
	var story models.Story
	if err := w.db.WithContext(ctx).
		Preload("Chunks", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("chunk_index, position") }).
		First(&story, job.StoryID).Error; err != nil {
		return "", fmt.Errorf("load story %d: %w", job.StoryID, err)
	}
	if len(story.Images) == 0 {
		return "", fmt.Errorf("%w: story has no illustrations", models.ErrInvalidState)
	}

	workDir := filepath.Join(w.WorkDir, "job_"+job.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", err
	}
	defer os.RemoveAll(workDir)

	byChunk := make(map[int][]models.GeneratedImage)
	for _, img := range story.Images {
		byChunk[img.ChunkIndex] = append(byChunk[img.ChunkIndex], img)
	}

	total := len(story.Chunks) + len(story.Images)
	fetched := 0
	report := func(p int) {
		if err := w.manager.UpdateProgress(ctx, job.ID, p); err != nil {
			log.Printf("Video job %s: progress update failed: %v", job.ID, err)
		}
	}

	in := media.RenderInput{Name: fmt.Sprintf("story_%d", story.ID), WorkDir: workDir}
	for _, chunk := range story.Chunks {
		images := byChunk[chunk.Index]
		if len(images) == 0 {
			continue
		}

		audio, err := w.store.Get(ctx, chunk.AudioKey)
		if err != nil {
			return "", fmt.Errorf("chunk %d audio: %w", chunk.Index, err)
		}
		audioPath := filepath.Join(workDir, fmt.Sprintf("narration_%03d.wav", chunk.Index))
		if err := os.WriteFile(audioPath, audio, 0o644); err != nil {
			return "", err
		}
		fetched++

		rc := media.RenderChunk{AudioPath: audioPath}
		for _, img := range images {
			data, err := w.store.Get(ctx, img.ImageKey)
			if err != nil {
				return "", fmt.Errorf("chunk %d image %d: %w", chunk.Index, img.Index, err)
			}
			rc.Images = append(rc.Images, media.RenderImage{
				Data:  data,
				Start: time.Duration(img.StartMS) * time.Millisecond,
				End:   time.Duration(img.EndMS) * time.Millisecond,
			})
			fetched++
		}
		in.Chunks = append(in.Chunks, rc)
		report(fetched * 20 / total)
	}

	out, err := w.renderer.Render(ctx, in, func(p int) {
		report(20 + p*70/100)
	})
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return "", fmt.Errorf("read rendered video: %w", err)
	}
	key := storage.VideoKey(story.ID, job.ID)
	if err := w.store.Put(ctx, key, "video/mp4", data); err != nil {
		return "", fmt.Errorf("upload video: %w", err)
	}
	report(95)
	return key, nil
}
