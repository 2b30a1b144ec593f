package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/storytailor/storytailor/ai"
	"github.com/storytailor/storytailor/database"
	"github.com/storytailor/storytailor/models"
	"github.com/storytailor/storytailor/planner"
	"github.com/storytailor/storytailor/storage"
)

const DefaultImageStyle = "soft watercolor children's book illustration, warm colors"

// NormalizePrompts makes the model's answer exactly count long: extra prompts are
// dropped and missing ones fall back to the narration text itself.
func NormalizePrompts(prompts []string, count int, fallback string) []string {
	out := make([]string, 0, count)
	for _, p := range prompts {
		if len(out) == count {
			break
		}
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	for len(out) < count {
		out = append(out, fallback)
	}
	return out
}

// GenerateImages asks for ImageCount prompts per narration chunk, illustrates each,
// and lays the pictures out over the chunk's narration with planner.Timeline.
func (p *Pipeline) GenerateImages(ctx context.Context, userID, storyID uint, style string) (*models.Story, error) {
	unlock, err := p.lock(storyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	story, err := p.GetStory(ctx, userID, storyID)
	if err != nil {
		return nil, err
	}
	if len(story.Chunks) == 0 {
		return nil, fmt.Errorf("%w: story has no narration yet", models.ErrInvalidState)
	}
	if err := ensureNoActiveJob(p.db.WithContext(ctx), storyID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(style) == "" {
		style = DefaultImageStyle
	}

	rev := newRevision()
	start := time.Now()

	var (
		mu       sync.Mutex
		images   []models.GeneratedImage
		uploaded []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Concurrency))

	for _, chunk := range story.Chunks {
		count := chunk.ImageCount
		if count <= 0 {
			count = planner.ImageCount(chunk.Duration())
		}

		g.Go(func() error {
			prompts, err := p.writer.ImagePrompts(gctx, ai.ImagePromptRequest{
				Script: story.Script,
				Chunk:  chunk.Text,
				Count:  count,
				Style:  style,
			})
			if err != nil {
				return fmt.Errorf("chunk %d prompts: %w", chunk.Index, err)
			}
			prompts = NormalizePrompts(prompts, count, chunk.Text)
			windows := planner.Timeline(chunk.Duration(), count)

			for i, prompt := range prompts {
				pic, err := p.illustrator.Illustrate(gctx, prompt+". Style: "+style)
				if err != nil {
					return fmt.Errorf("chunk %d image %d: %w", chunk.Index, i, err)
				}
				key := storage.ImageKey(storyID, rev, chunk.Index, i, pic.Ext())
				if err := p.store.Put(gctx, key, pic.MIMEType, pic.Data); err != nil {
					return fmt.Errorf("chunk %d image %d: %w", chunk.Index, i, err)
				}

				mu.Lock()
				uploaded = append(uploaded, key)
				images = append(images, models.GeneratedImage{
					StoryID:    storyID,
					ChunkIndex: chunk.Index,
					Index:      i,
					Prompt:     prompt,
					ImageKey:   key,
					ImageURL:   p.store.URL(key),
					StartMS:    windows[i].Start.Milliseconds(),
					EndMS:      windows[i].End.Milliseconds(),
				})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.removeObjects(context.WithoutCancel(ctx), uploaded)
		return nil, fmt.Errorf("illustrate story %d: %w", storyID, err)
	}

	oldKeys := imageKeys(story)
	err = database.Transaction(ctx, p.db, func(tx *gorm.DB) error {
		if err := ensureNoActiveJob(tx, storyID); err != nil {
			return err
		}
		if err := tx.Unscoped().Where("story_id = ?", storyID).Delete(&models.GeneratedImage{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&images).Error; err != nil {
			return err
		}
		return tx.Model(&models.Story{}).Where("id = ?", storyID).Updates(map[string]any{
			"status":      models.StoryIllustrated,
			"image_style": style,
			"video_url":   "",
		}).Error
	})
	if err != nil {
		p.removeObjects(context.WithoutCancel(ctx), uploaded)
		return nil, fmt.Errorf("save images: %w", err)
	}
	p.removeObjects(ctx, oldKeys)

	log.Printf("Story %d: generated %d images in %.2f seconds", storyID, len(images), time.Since(start).Seconds())
	return p.GetStory(ctx, userID, storyID)
}
