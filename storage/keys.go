package storage

import "fmt"

// Narration and image keys carry a revision so a regeneration never overwrites
// objects that committed rows still point at.

func StoryPrefix(storyID uint) string {
	return fmt.Sprintf("stories/%d/", storyID)
}

func NarrationKey(storyID uint, rev string, chunk int) string {
	return fmt.Sprintf("stories/%d/narration/%s/%03d.wav", storyID, rev, chunk)
}

func ImageKey(storyID uint, rev string, chunk, index int, ext string) string {
	return fmt.Sprintf("stories/%d/images/%s/%03d_%02d%s", storyID, rev, chunk, index, ext)
}

func VideoKey(storyID uint, jobID string) string {
	return fmt.Sprintf("stories/%d/videos/%s.mp4", storyID, jobID)
}
