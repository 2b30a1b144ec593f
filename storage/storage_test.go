package storage

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storytailor/storytailor/config"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "stories/7/", StoryPrefix(7))
	assert.Equal(t, "stories/7/narration/r1/003.wav", NarrationKey(7, "r1", 3))
	assert.Equal(t, "stories/7/images/r1/003_01.png", ImageKey(7, "r1", 3, 1, ".png"))
	assert.Equal(t, "stories/7/videos/abc.mp4", VideoKey(7, "abc"))
}

func TestPublicURLEscapesSegments(t *testing.T) {
	assert.Equal(t, "http://minio:9000/bucket/a%20b/c.png", publicURL("http://minio:9000/bucket", "a b/c.png"))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("http://local/")

	require.NoError(t, m.Put(ctx, "stories/1/a.wav", "audio/wav", []byte("a")))
	require.NoError(t, m.Put(ctx, "stories/1/b.png", "image/png", []byte("b")))
	require.NoError(t, m.Put(ctx, "stories/2/c.png", "image/png", []byte("c")))

	got, err := m.Get(ctx, "stories/1/a.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
	assert.Equal(t, "http://local/stories/1/a.wav", m.URL("stories/1/a.wav"))

	require.NoError(t, m.DeletePrefix(ctx, StoryPrefix(1)))
	_, err = m.Get(ctx, "stories/1/a.wav")
	assert.ErrorIs(t, err, ErrNotFound)

	keys := m.Keys("stories/")
	sort.Strings(keys)
	assert.Equal(t, []string{"stories/2/c.png"}, keys)

	require.NoError(t, m.Delete(ctx, "stories/2/c.png"))
	assert.Empty(t, m.Keys(""))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), &config.Config{S3Bucket: "b"})
	assert.Error(t, err)
}

func TestNewDerivesPublicURL(t *testing.T) {
	s, err := New(context.Background(), &config.Config{
		S3Endpoint:  "http://minio:9000/",
		S3Region:    "us-east-1",
		S3Bucket:    "stories",
		S3AccessKey: "minio",
		S3SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/stories/x.mp4", s.URL("x.mp4"))
}
