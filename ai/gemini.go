package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/storytailor/storytailor/media"
	"github.com/storytailor/storytailor/models"
)

const defaultVoice = "Kore"

// GeminiClient implements ScriptWriter, Narrator and Illustrator on the Gemini API.
type GeminiClient struct {
	client     *genai.Client
	textModel  string
	ttsModel   string
	imageModel string
	limiter    *rate.Limiter
}

type GeminiOptions struct {
	APIKey     string
	TextModel  string
	TTSModel   string
	ImageModel string
	// RequestsPerMinute bounds calls across all three models.
	RequestsPerMinute int
}

func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &GeminiClient{
		client:     client,
		textModel:  opts.TextModel,
		ttsModel:   opts.TTSModel,
		imageModel: opts.ImageModel,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60), 1),
	}, nil
}

func (g *GeminiClient) wrap(op string, err error) error {
	return &ProviderError{Provider: "gemini", Op: op, Err: err}
}

func (g *GeminiClient) WriteScript(ctx context.Context, req ScriptRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ageGroup := req.AgeGroup
	if ageGroup == "" {
		ageGroup = "children aged 4 to 8"
	}
	prompt := models.StoryScript.Render(map[string]string{
		"PROMPT":    req.Title + "\n" + req.Prompt,
		"AGE_GROUP": ageGroup,
	})

	resp, err := g.client.Models.GenerateContent(ctx, g.textModel, genai.Text(prompt), nil)
	if err != nil {
		return "", g.wrap("write script", err)
	}
	script := CleanScript(resp.Text())
	if script == "" {
		return "", g.wrap("write script", errors.New("empty response"))
	}
	return script, nil
}

func (g *GeminiClient) ImagePrompts(ctx context.Context, req ImagePromptRequest) ([]string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	prompt := models.ImagePrompts.Render(map[string]string{
		"SCRIPT": req.Script,
		"CHUNK":  req.Chunk,
		"COUNT":  strconv.Itoa(req.Count),
		"STYLE":  req.Style,
	})
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.textModel, genai.Text(prompt), cfg)
	if err != nil {
		return nil, g.wrap("image prompts", err)
	}
	prompts, err := ParsePromptList(resp.Text())
	if err != nil {
		return nil, g.wrap("image prompts", err)
	}
	return prompts, nil
}

func (g *GeminiClient) Narrate(ctx context.Context, text, voice string) (*Speech, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if voice == "" {
		voice = defaultVoice
	}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.ttsModel, genai.Text(text), cfg)
	if err != nil {
		return nil, g.wrap("narrate", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, g.wrap("narrate", errors.New("no audio data found"))
	}
	part := resp.Candidates[0].Content.Parts[0]
	if part.InlineData == nil || len(part.InlineData.Data) == 0 {
		return nil, g.wrap("narrate", errors.New("no inline data found"))
	}
	return &Speech{PCM: part.InlineData.Data, Format: media.DefaultPCM}, nil
}

func (g *GeminiClient) Illustrate(ctx context.Context, prompt string) (*Picture, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := g.client.Models.GenerateImages(ctx, g.imageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    "16:9",
	})
	if err != nil {
		return nil, g.wrap("illustrate", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, g.wrap("illustrate", errors.New("no image returned"))
	}
	img := resp.GeneratedImages[0].Image
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return &Picture{Data: img.ImageBytes, MIMEType: mime}, nil
}
