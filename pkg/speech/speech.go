// Package speech defines the STT/TTS contracts used by the voice pipeline:
// middlewares transcribe inbound voice notes, connectors synthesize spoken
// replies.
package speech

import "context"

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Synthesizer converts text to spoken audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
