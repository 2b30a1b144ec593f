package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storytailor/storytailor/media"
)

func TestParsePromptList(t *testing.T) {
	prompts, err := ParsePromptList("```json\n[\"a fox in a hat\", \"  \", \"the fox sleeps\"]\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"a fox in a hat", "the fox sleeps"}, prompts)

	_, err = ParsePromptList("here are your prompts: 1. a fox")
	assert.Error(t, err)
}

func TestCleanScript(t *testing.T) {
	in := "# The Brave Fox\r\n\r\nOnce upon a **time** there was a fox.\n\n## Part two\nThe end."
	assert.Equal(t, "Once upon a time there was a fox.\n\nThe end.", CleanScript(in))
}

func TestPictureExt(t *testing.T) {
	assert.Equal(t, ".jpg", (&Picture{MIMEType: "image/jpeg"}).Ext())
	assert.Equal(t, ".webp", (&Picture{MIMEType: "image/webp"}).Ext())
	assert.Equal(t, ".png", (&Picture{MIMEType: "image/png"}).Ext())
	assert.Equal(t, ".png", (&Picture{}).Ext())
}

func TestProviderErrorUnwraps(t *testing.T) {
	base := errors.New("quota")
	err := &ProviderError{Provider: "gemini", Op: "narrate", Err: base}
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "gemini narrate: quota", err.Error())
}

func TestElevenLabsNarrate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "pcm_24000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))

		var body elevenLabsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Once upon a time.", body.Text)

		w.Write([]byte{1, 0, 2, 0, 3})
	}))
	defer srv.Close()

	n := NewElevenLabsNarrator("xi-key", "voice-1")
	n.BaseURL = srv.URL

	speech, err := n.Narrate(context.Background(), "Once upon a time.", "")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, speech.PCM)
	assert.Equal(t, media.DefaultPCM, speech.Format)
}

func TestElevenLabsNarrateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer srv.Close()

	n := NewElevenLabsNarrator("bad", "voice-1")
	n.BaseURL = srv.URL

	_, err := n.Narrate(context.Background(), "hello", "")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "elevenlabs", perr.Provider)
	assert.Contains(t, err.Error(), "401")
}

func TestElevenLabsNarrateEmptyText(t *testing.T) {
	n := NewElevenLabsNarrator("key", "voice")
	_, err := n.Narrate(context.Background(), "   ", "")
	assert.Error(t, err)
}
