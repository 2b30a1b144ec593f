package planner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitScriptParagraphs(t *testing.T) {
	script := "Once upon a time there was a fox.\n\nThe fox found a   shiny key.\n  \n\nThe end."
	chunks := SplitScript(script, 100)
	assert.Equal(t, []string{
		"Once upon a time there was a fox.",
		"The fox found a shiny key.",
		"The end.",
	}, chunks)
}

func TestSplitScriptEmpty(t *testing.T) {
	assert.Empty(t, SplitScript("", 100))
	assert.Empty(t, SplitScript(" \n\n\t ", 100))
}

func TestSplitScriptLongParagraph(t *testing.T) {
	para := `The owl hooted. "Who goes there?" asked the mouse! The moon was bright? Everyone slept.`
	chunks := SplitScript(para, 40)
	require.Len(t, chunks, 3)
	assert.Equal(t, `The owl hooted. "Who goes there?"`, chunks[0])
	assert.Equal(t, `asked the mouse! The moon was bright?`, chunks[1])
	assert.Equal(t, `Everyone slept.`, chunks[2])
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 40)
	}
}

func TestSplitScriptKeepsOverlongSentence(t *testing.T) {
	sentence := strings.Repeat("word ", 30) + "end."
	chunks := SplitScript(sentence, 20)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(sentence), chunks[0])
}

func TestSplitScriptDefaultLimit(t *testing.T) {
	chunks := SplitScript("Short.", 0)
	assert.Equal(t, []string{"Short."}, chunks)
}

func TestImageCount(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{-time.Second, 1},
		{0, 1},
		{time.Second, 1},
		{5 * time.Second, 1},
		{5*time.Second + time.Millisecond, 2},
		{12 * time.Second, 3},
		{20 * time.Second, 4},
		{2 * time.Minute, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ImageCount(tt.d), "duration %v", tt.d)
	}
}

func TestTotalImageCount(t *testing.T) {
	assert.Equal(t, 0, TotalImageCount(nil))
	assert.Equal(t, 1+3+4, TotalImageCount([]time.Duration{2 * time.Second, 11 * time.Second, time.Minute}))
}

func TestTimelineCoversDuration(t *testing.T) {
	windows := Timeline(10*time.Second+1*time.Millisecond, 3)
	require.Len(t, windows, 3)

	assert.Equal(t, time.Duration(0), windows[0].Start)
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].End, windows[i].Start)
	}
	assert.Equal(t, 10*time.Second+time.Millisecond, windows[2].End)
	assert.Equal(t, 3333*time.Millisecond, windows[0].Duration())
	assert.Equal(t, 3335*time.Millisecond, windows[2].Duration())
}

func TestTimelineDegenerate(t *testing.T) {
	windows := Timeline(4*time.Second, 0)
	require.Len(t, windows, 1)
	assert.Equal(t, Window{Start: 0, End: 4 * time.Second}, windows[0])

	windows = Timeline(-time.Second, 2)
	require.Len(t, windows, 2)
	assert.Equal(t, time.Duration(0), windows[1].End)
}
