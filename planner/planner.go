// Package planner turns a story script into narration chunks and decides how many
// illustrations each chunk gets and when each one is on screen.
package planner

import (
	"math"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultMaxChunkChars keeps a chunk short enough to narrate in well under a minute.
	DefaultMaxChunkChars = 600

	SecondsPerImage   = 5
	MinImagesPerChunk = 1
	MaxImagesPerChunk = 4
)

var (
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// SplitScript splits a script into narration chunks. Paragraphs (blank-line separated)
// become chunks; a paragraph longer than maxChars is split on sentence boundaries and
// packed greedily. A single sentence longer than maxChars is kept whole.
func SplitScript(script string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	chunks := []string{}
	for _, para := range paragraphSplit.Split(script, -1) {
		para = strings.TrimSpace(whitespace.ReplaceAllString(para, " "))
		if para == "" {
			continue
		}
		if len(para) <= maxChars {
			chunks = append(chunks, para)
			continue
		}

		var current strings.Builder
		for _, sentence := range splitSentences(para) {
			if current.Len() > 0 && current.Len()+1+len(sentence) > maxChars {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			if current.Len() > 0 {
				current.WriteByte(' ')
			}
			current.WriteString(sentence)
		}
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
		}
	}
	return chunks
}

// splitSentences breaks text after '.', '!' or '?' (plus any closing quotes) followed by a space.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			end := i + 1
			for end < len(text) && (text[end] == '"' || text[end] == '\'' || text[end] == ')') {
				end++
			}
			if end < len(text) && text[end] == ' ' {
				sentences = append(sentences, strings.TrimSpace(text[start:end]))
				start = end + 1
				i = end
			}
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// ImageCount returns how many illustrations a chunk of narration of length d gets.
func ImageCount(d time.Duration) int {
	if d <= 0 {
		return MinImagesPerChunk
	}
	n := int(math.Ceil(d.Seconds() / SecondsPerImage))
	return max(MinImagesPerChunk, min(n, MaxImagesPerChunk))
}

// TotalImageCount is the number of illustrations needed for the whole story.
func TotalImageCount(durations []time.Duration) int {
	total := 0
	for _, d := range durations {
		total += ImageCount(d)
	}
	return total
}

// Window is the span of a chunk's narration during which one image is shown.
type Window struct {
	Start time.Duration
	End   time.Duration
}

func (w Window) Duration() time.Duration {
	return w.End - w.Start
}

// Timeline splits [0, d) into n contiguous windows of equal length, at millisecond
// resolution. The last window absorbs the remainder.
func Timeline(d time.Duration, n int) []Window {
	if n <= 0 {
		n = 1
	}
	if d < 0 {
		d = 0
	}
	totalMS := d.Milliseconds()
	step := totalMS / int64(n)

	windows := make([]Window, n)
	for i := range windows {
		start := int64(i) * step
		end := start + step
		if i == n-1 {
			end = totalMS
		}
		windows[i] = Window{
			Start: time.Duration(start) * time.Millisecond,
			End:   time.Duration(end) * time.Millisecond,
		}
	}
	return windows
}
