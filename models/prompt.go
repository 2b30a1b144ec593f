package models

import "strings"

type Prompt struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	Source string `json:"source"`
}

// Render substitutes {{KEY}} placeholders with the given values.
func (p Prompt) Render(vars map[string]string) string {
	out := p.Prompt
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

var StoryScript = Prompt{
	Name: "Story Script",
	Prompt: `You are a children's author writing a story that will be read aloud as narration over illustrations.

<request>
{{PROMPT}}
</request>

<audience>
{{AGE_GROUP}}
</audience>

Guidelines:
   - Write only the narration text. No headings, no stage directions, no markdown.
   - Use short paragraphs separated by a blank line. Each paragraph should describe one scene that could be shown as a picture.
   - Keep the vocabulary and themes appropriate for the audience.
   - Aim for 8 to 15 paragraphs and finish with a gentle, satisfying ending.`,
	Source: "StoryTailor",
}

var ImagePrompts = Prompt{
	Name: "Image Prompts",
	Prompt: `You are illustrating part of a children's story. The full story is:

<story>
{{SCRIPT}}
</story>

The part being narrated right now is:

<narration>
{{CHUNK}}
</narration>

Write exactly {{COUNT}} image generation prompts that illustrate this part, in the order the events happen.
Each prompt must describe one static scene: the characters, their appearance, the setting, and the mood.
Keep character descriptions consistent with the rest of the story.
Art style: {{STYLE}}.

Return a JSON array of strings and nothing else.`,
	Source: "StoryTailor",
}
