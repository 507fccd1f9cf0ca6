package tts

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap/zaptest"
)

func TestNewElevenLabsTTS(t *testing.T) {
	logger := zaptest.NewLogger(t)

	if _, err := NewElevenLabsTTS(ElevenLabsConfig{}, logger); err == nil {
		t.Error("Expected error when API key is not set")
	}

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key"}, logger)
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	if tts.apiKey != "test-api-key" {
		t.Errorf("Expected API key 'test-api-key', got '%s'", tts.apiKey)
	}
	if tts.voiceID != defaultVoiceID {
		t.Errorf("Expected default voice ID '%s', got '%s'", defaultVoiceID, tts.voiceID)
	}
	if tts.chunkSize != defaultChunkSize {
		t.Errorf("Expected default chunk size %d, got %d", defaultChunkSize, tts.chunkSize)
	}
}

func TestValidateElevenLabsConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  ElevenLabsConfig
		wantErr bool
	}{
		{name: "valid", config: ElevenLabsConfig{APIKey: "k", Stability: 0.3, Clarity: 1}},
		{name: "missing key", config: ElevenLabsConfig{}, wantErr: true},
		{name: "stability too high", config: ElevenLabsConfig{APIKey: "k", Stability: 1.5}, wantErr: true},
		{name: "negative clarity", config: ElevenLabsConfig{APIKey: "k", Clarity: -0.1}, wantErr: true},
		{name: "negative chunk size", config: ElevenLabsConfig{APIKey: "k", ChunkSize: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateElevenLabsConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateElevenLabsConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestElevenLabsTTS_WithVoice(t *testing.T) {
	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	if tts.WithVoice("") != tts {
		t.Error("Empty voice should return the same instance")
	}

	other := tts.WithVoice("new-voice-id")
	if other.voiceID != "new-voice-id" {
		t.Errorf("Expected voice ID 'new-voice-id', got '%s'", other.voiceID)
	}
	if tts.voiceID != defaultVoiceID {
		t.Errorf("Original voice should be unchanged, got '%s'", tts.voiceID)
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech(t *testing.T) {
	audio := bytes.Repeat([]byte{1, 2, 3, 4}, 100)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-1/stream" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "test-api-key" {
			t.Errorf("Expected api key header, got %q", r.Header.Get("xi-api-key"))
		}
		if r.Header.Get("Accept") != "audio/pcm" {
			t.Errorf("Expected audio/pcm accept header, got %q", r.Header.Get("Accept"))
		}

		body, _ := io.ReadAll(r.Body)
		var req synthesisRequest
		if err := sonic.Unmarshal(body, &req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Text != "Well met, traveller" {
			t.Errorf("Expected text 'Well met, traveller', got %q", req.Text)
		}

		w.Write(audio)
	}))
	defer srv.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{
		APIKey:     "test-api-key",
		APIBaseURL: srv.URL + "/",
		VoiceID:    "voice-1",
		ChunkSize:  128,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	chunks, err := tts.ConvertTextToSpeech(ctx, "Well met, traveller")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech failed: %v", err)
	}

	var got []byte
	count := 0
	for chunk := range chunks {
		if len(chunk) > 128 {
			t.Errorf("Chunk larger than chunk size: %d", len(chunk))
		}
		got = append(got, chunk...)
		count++
	}

	if !bytes.Equal(got, audio) {
		t.Errorf("Expected %d audio bytes, got %d", len(audio), len(got))
	}
	if count != 4 {
		t.Errorf("Expected 4 chunks, got %d", count)
	}
}

func TestElevenLabsTTS_ConvertTextToSpeechErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "bad", APIBaseURL: srv.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	if _, err := tts.ConvertTextToSpeech(context.Background(), "   "); err == nil {
		t.Error("Expected error for empty text")
	}

	_, err = tts.ConvertTextToSpeech(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected error for unauthorized response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Expected status in error, got %v", err)
	}
}

func TestMockTextToSpeech(t *testing.T) {
	mock := NewMockTextToSpeech(1000, zaptest.NewLogger(t))

	if _, err := mock.ConvertTextToSpeech(context.Background(), ""); err == nil {
		t.Error("Expected error for empty text")
	}

	chunks, err := mock.ConvertTextToSpeech(context.Background(), "one two three")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech failed: %v", err)
	}

	total := 0
	for chunk := range chunks {
		if len(chunk) > 1000 {
			t.Errorf("Chunk larger than chunk size: %d", len(chunk))
		}
		total += len(chunk)
	}

	// 3 words * 60ms at 24kHz, two bytes per sample
	if expected := 3 * 60 * 24 * 2; total != expected {
		t.Errorf("Expected %d bytes, got %d", expected, total)
	}
}
