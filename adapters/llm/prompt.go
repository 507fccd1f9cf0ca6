package llm

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/kayna-aarda/AardaUnityPlugin/domain"
	"github.com/kayna-aarda/AardaUnityPlugin/domain/entities"
)

// characterReply is the JSON object the model is asked to produce
type characterReply struct {
	Response       string              `json:"response"`
	Emotion        domain.EmotionState `json:"emotion"`
	FlagsPlayer    []string            `json:"flags_player"`
	FlagsCharacter []string            `json:"flags_character"`
}

const replyInstructions = `Stay in character at all times. Answer with a single JSON object:
{"response": string, "emotion": {"joy_sadness": number, "trust_disgust": number,
"fear_anger": number, "surprise_anticipation": number}, "flags_player": [string],
"flags_character": [string]}.
Each emotion axis is between -1 and 1 and describes how this turn made you feel.
Flags are short snake_case facts learned about the player or yourself in this turn.`

// buildSystemPrompt describes the character, the mood and the reply format
func buildSystemPrompt(c entities.Character, mood, language string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s", c.Name)
	if c.Role != "" {
		fmt.Fprintf(&b, ", %s", c.Role)
	}
	b.WriteString(".\n")

	fields := []struct {
		label string
		value string
	}{
		{"Gender", c.Gender},
		{"Species", c.Species},
		{"Origin", c.Origin},
		{"Life period", c.LifePeriod},
		{"Description", c.CoreDescription},
		{"Motivation", c.Motivation},
		{"Flaws", c.Flaws},
		{"Backstory", c.Backstory},
		{"Hobbies", c.Hobbies},
		{"Traits", c.Traits},
		{"Appearance", c.Appearance},
		{"Speech", c.SpeechAdjectives},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
		}
	}

	for _, brick := range c.KnowledgeBricks {
		if brick.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "You know (%s): %s\n", brick.Title, brick.Content)
	}

	if mood != "" {
		fmt.Fprintf(&b, "Your current mood is %s.\n", mood)
	}
	if language != "" {
		fmt.Fprintf(&b, "Reply in the language with code %q.\n", language)
	}

	b.WriteString(replyInstructions)
	return b.String()
}

// parseReply decodes the model output. Text that is not the expected JSON
// object is used verbatim as the reply.
func parseReply(text string) characterReply {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var reply characterReply
	if err := sonic.ConfigStd.UnmarshalFromString(trimmed, &reply); err != nil || reply.Response == "" {
		return characterReply{Response: strings.TrimSpace(text)}
	}
	return reply
}
