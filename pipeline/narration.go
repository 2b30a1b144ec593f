package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/storytailor/storytailor/ai"
	"github.com/storytailor/storytailor/database"
	"github.com/storytailor/storytailor/media"
	"github.com/storytailor/storytailor/models"
	"github.com/storytailor/storytailor/planner"
	"github.com/storytailor/storytailor/storage"
)

type narratedChunk struct {
	text     string
	key      string
	duration time.Duration
}

// GenerateNarration splits the script into chunks, synthesises each one, and stores
// the audio together with the chunk's measured duration and image count. Either every
// chunk is committed or none are.
func (p *Pipeline) GenerateNarration(ctx context.Context, userID, storyID uint, voice string) (*models.Story, error) {
	unlock, err := p.lock(storyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	story, err := p.GetStory(ctx, userID, storyID)
	if err != nil {
		return nil, err
	}
	if !story.HasScript() {
		return nil, fmt.Errorf("%w: story has no script yet", models.ErrInvalidState)
	}
	if err := ensureNoActiveJob(p.db.WithContext(ctx), storyID); err != nil {
		return nil, err
	}

	texts := planner.SplitScript(story.Script, p.MaxChunkChars)
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: script is empty", models.ErrInvalidState)
	}

	tmpDir, err := os.MkdirTemp(p.TempDir, fmt.Sprintf("narration_%d_", storyID))
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	rev := newRevision()
	start := time.Now()
	results := make([]narratedChunk, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Concurrency))
	for i, text := range texts {
		g.Go(func() error {
			speech, err := p.narrator.Narrate(gctx, text, voice)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			if speech == nil || len(speech.PCM) == 0 {
				return fmt.Errorf("chunk %d: %w", i, &ai.ProviderError{Provider: "narrator", Op: "narrate", Err: ai.ErrEmptyAudio})
			}

			path := filepath.Join(tmpDir, fmt.Sprintf("%03d.wav", i))
			if err := media.WriteWAV(path, speech.PCM, speech.Format); err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			d, err := media.WAVFileDuration(path)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			// Stored at millisecond resolution; the image count must agree with what is stored.
			d = d.Truncate(time.Millisecond)
			if d <= 0 {
				return fmt.Errorf("chunk %d: %w", i, &ai.ProviderError{Provider: "narrator", Op: "narrate", Err: ai.ErrEmptyAudio})
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			key := storage.NarrationKey(storyID, rev, i)
			if err := p.store.Put(gctx, key, "audio/wav", data); err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			results[i] = narratedChunk{text: text, key: key, duration: d}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.removeObjects(context.WithoutCancel(ctx), uploadedNarration(results))
		return nil, fmt.Errorf("narrate story %d: %w", storyID, err)
	}

	chunks := make([]models.NarrationChunk, len(results))
	var total time.Duration
	for i, r := range results {
		chunks[i] = models.NarrationChunk{
			StoryID:    storyID,
			Index:      i,
			Text:       r.text,
			AudioKey:   r.key,
			AudioURL:   p.store.URL(r.key),
			DurationMS: r.duration.Milliseconds(),
			ImageCount: planner.ImageCount(r.duration),
		}
		total += r.duration
	}

	oldKeys := assetKeys(story)
	err = database.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		if err := ensureNoActiveJob(tx, storyID); err != nil {
			return err
		}
		if err := deleteDerived(tx, storyID); err != nil {
			return err
		}
		if err := tx.Create(&chunks).Error; err != nil {
			return err
		}
		return tx.Model(&models.Story{}).Where("id = ?", storyID).Updates(map[string]any{
			"status":          models.StoryNarrated,
			"narration_voice": voice,
			"video_url":       "",
		}).Error
	})
	if err != nil {
		p.removeObjects(context.WithoutCancel(ctx), uploadedNarration(results))
		return nil, fmt.Errorf("save narration: %w", err)
	}
	p.removeObjects(ctx, oldKeys)

	log.Printf("Story %d: narrated %d chunks (%.1fs of audio) in %.2f seconds",
		storyID, len(chunks), total.Seconds(), time.Since(start).Seconds())
	return p.GetStory(ctx, userID, storyID)
}

func uploadedNarration(results []narratedChunk) []string {
	var keys []string
	for _, r := range results {
		if r.key != "" {
			keys = append(keys, r.key)
		}
	}
	return keys
}
