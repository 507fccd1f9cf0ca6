package repositories

import "context"

// TextToSpeech streams synthesized audio for a text
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
