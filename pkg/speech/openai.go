package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAISpeech implements Transcriber and Synthesizer over the OpenAI
// audio endpoints.
type OpenAISpeech struct {
	client          *openai.Client
	transcribeModel string
	speechModel     string
	voice           string
}

// NewOpenAISpeech builds a speech client. Empty model/voice arguments fall
// back to whisper-1 / tts-1 / alloy.
func NewOpenAISpeech(apiKey, transcribeModel, speechModel, voice string) *OpenAISpeech {
	if transcribeModel == "" {
		transcribeModel = "whisper-1"
	}
	if speechModel == "" {
		speechModel = "tts-1"
	}
	if voice == "" {
		voice = "alloy"
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAISpeech{
		client:          &client,
		transcribeModel: transcribeModel,
		speechModel:     speechModel,
		voice:           voice,
	}
}

// Transcribe implements Transcriber.
func (s *OpenAISpeech) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	resp, err := s.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(s.transcribeModel),
		File:  openai.File(bytes.NewReader(audio), "audio"+extensionFor(mimeType), mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return resp.Text, nil
}

// Synthesize implements Synthesizer. Output is MP3 bytes.
func (s *OpenAISpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model: openai.SpeechModel(s.speechModel),
		Input: text,
		Voice: openai.AudioSpeechNewParamsVoice(s.voice),
	})
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech read: %w", err)
	}
	return data, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	default:
		return ".ogg"
	}
}
