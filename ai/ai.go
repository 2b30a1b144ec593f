// Package ai wraps the LLM, text-to-speech and text-to-image providers behind
// small interfaces so the story pipeline can be driven by fakes in tests.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/storytailor/storytailor/media"
)

type ScriptRequest struct {
	Title    string
	Prompt   string
	AgeGroup string
}

type ImagePromptRequest struct {
	Script string
	Chunk  string
	Count  int
	Style  string
}

// ScriptWriter is the LLM side of the pipeline.
type ScriptWriter interface {
	WriteScript(ctx context.Context, req ScriptRequest) (string, error)
	ImagePrompts(ctx context.Context, req ImagePromptRequest) ([]string, error)
}

// Speech is raw PCM audio together with its format.
type Speech struct {
	PCM    []byte
	Format media.PCMFormat
}

type Narrator interface {
	Narrate(ctx context.Context, text, voice string) (*Speech, error)
}

type Picture struct {
	Data     []byte
	MIMEType string
}

// Ext returns the file extension matching the picture's MIME type.
func (p *Picture) Ext() string {
	switch p.MIMEType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

type Illustrator interface {
	Illustrate(ctx context.Context, prompt string) (*Picture, error)
}

// ErrEmptyAudio is returned when a narrator answers without any playable audio.
var ErrEmptyAudio = errors.New("provider returned no audio")

// ProviderError tags a failure with the provider that produced it.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ParsePromptList decodes a JSON array of prompts, tolerating a markdown code fence
// around it, and drops blank entries.
func ParsePromptList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var prompts []string
	if err := json.Unmarshal([]byte(raw), &prompts); err != nil {
		return nil, fmt.Errorf("decode image prompts: %w", err)
	}
	out := prompts[:0]
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// CleanScript strips markdown headings and emphasis that models add despite instructions.
func CleanScript(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = strings.ReplaceAll(trimmed, "**", "")
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
