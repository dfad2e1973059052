package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"aviary/pkg/api"
	"aviary/pkg/speech"
)

// STT transcribes inbound voice notes so the engine always works on text.
// On success it sets msg.Text and the IsSTT flag; on failure it sets the
// configured fallback text so the turn still proceeds on something.
type STT struct {
	transcriber speech.Transcriber
	fallback    string
	httpClient  *http.Client
	maxBytes    int64
}

// NewSTT builds the transcription stage. fallback becomes the message text
// when download or transcription fails; empty leaves the text untouched.
func NewSTT(t speech.Transcriber, fallback string) *STT {
	return &STT{
		transcriber: t,
		fallback:    fallback,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxBytes:    25 << 20,
	}
}

func (s *STT) Name() string { return "stt" }

// Process implements Middleware.
func (s *STT) Process(ctx context.Context, msg *api.Message) (bool, error) {
	if !msg.IsVoice() || msg.IsSTT {
		return true, nil
	}
	att := msg.FirstAttachment(api.AttachmentVoice)
	if att == nil || att.FileURL == "" {
		return true, nil
	}

	audio, err := s.download(ctx, att.FileURL)
	if err != nil {
		s.applyFallback(msg)
		return true, fmt.Errorf("download voice note: %w", err)
	}

	text, err := s.transcriber.Transcribe(ctx, audio, att.MimeType)
	if err != nil {
		s.applyFallback(msg)
		return true, fmt.Errorf("transcribe voice note: %w", err)
	}

	msg.Text = text
	msg.IsSTT = true
	return true, nil
}

func (s *STT) applyFallback(msg *api.Message) {
	if s.fallback != "" && msg.Text == "" {
		msg.Text = s.fallback
	}
}

func (s *STT) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
}
