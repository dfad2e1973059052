package api

import "time"

// AttachmentType discriminates the Attachment variant.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVoice    AttachmentType = "voice"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentVideo    AttachmentType = "video"
	AttachmentDocument AttachmentType = "document"
	AttachmentLocation AttachmentType = "location"
	AttachmentContact  AttachmentType = "contact"
	AttachmentLink     AttachmentType = "link"
	AttachmentCustom   AttachmentType = "custom"
)

// Attachment is a tagged variant carried alongside an incoming message.
// File variants set FileURL, locations set the coordinates, contacts set
// Name plus the raw platform structure in Raw.
type Attachment struct {
	Type        AttachmentType `json:"type"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	MimeType    string         `json:"mime_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	FileURL   string  `json:"file_url,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Name      string  `json:"name,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
	URL       string  `json:"url,omitempty"`
}

// Message is the normalized inbound user event every connector produces.
// It is immutable after creation except that middlewares may set Text
// (STT, geodecoding, contact decoding) and tag Metadata.
type Message struct {
	Lead        *Lead          `json:"lead"`
	Text        string         `json:"text,omitempty"`
	Date        int64          `json:"date"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	IsSTT       bool           `json:"is_stt,omitempty"`
	ID          string         `json:"id,omitempty"`
}

// NewMessage builds an inbound message stamped with the current time.
func NewMessage(lead *Lead, text string) *Message {
	return &Message{
		Lead:     lead,
		Text:     text,
		Date:     time.Now().Unix(),
		Metadata: map[string]any{},
	}
}

// IsVoice reports whether the message carries a voice recording that has
// not been transcribed yet.
func (m *Message) IsVoice() bool {
	for _, a := range m.Attachments {
		if a.Type == AttachmentVoice {
			return true
		}
	}
	return false
}

// FirstAttachment returns the first attachment of the given type, or nil.
func (m *Message) FirstAttachment(t AttachmentType) *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].Type == t {
			return &m.Attachments[i]
		}
	}
	return nil
}

// SessionID is shorthand for m.Lead.SessionID().
func (m *Message) SessionID() string {
	return m.Lead.SessionID()
}
