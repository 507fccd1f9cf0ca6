package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/kayna-aarda/AardaUnityPlugin/domain/repositories"
)

const (
	mockSampleRate    = 24000
	mockToneHz        = 440
	mockMillisPerWord = 60
	mockMaxMillis     = 3000
)

// MockTextToSpeech produces a sine tone as 16-bit little-endian PCM, one
// short beat per word, for running without a speech provider.
type MockTextToSpeech struct {
	chunkSize int
	logger    *zap.Logger
}

var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// NewMockTextToSpeech creates the mock. chunkSize <= 0 uses the default.
func NewMockTextToSpeech(chunkSize int, logger *zap.Logger) *MockTextToSpeech {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockTextToSpeech{chunkSize: chunkSize, logger: logger}
}

func (m *MockTextToSpeech) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	words := len(strings.Fields(text))
	if words == 0 {
		return nil, fmt.Errorf("text cannot be empty")
	}

	pcm := tone(words)
	m.logger.Debug("Generated mock speech", zap.Int("words", words), zap.Int("bytes", len(pcm)))

	audioChan := make(chan []byte, 10)
	go func() {
		defer close(audioChan)
		for len(pcm) > 0 {
			n := min(m.chunkSize, len(pcm))
			select {
			case audioChan <- pcm[:n]:
			case <-ctx.Done():
				return
			}
			pcm = pcm[n:]
		}
	}()
	return audioChan, nil
}

// tone returns mono PCM16 samples lasting words beats, capped at mockMaxMillis.
func tone(words int) []byte {
	millis := min(words*mockMillisPerWord, mockMaxMillis)
	samples := mockSampleRate * millis / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := math.Sin(2 * math.Pi * mockToneHz * float64(i) / mockSampleRate)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*8000)))
	}
	return pcm
}
