package api

import (
	"errors"
	"fmt"
	"strings"
)

// OutgoingType discriminates the OutgoingMessage variant.
type OutgoingType string

const (
	OutgoingText    OutgoingType = "text"
	OutgoingSelect  OutgoingType = "select"
	OutgoingLink    OutgoingType = "link"
	OutgoingButtons OutgoingType = "buttons"
	OutgoingImage   OutgoingType = "image"
	OutgoingVoice   OutgoingType = "voice"
)

// MaxButtons is the hard cap on short choices in a buttons message.
const MaxButtons = 3

// ErrTooManyButtons is returned when a buttons message exceeds MaxButtons.
var ErrTooManyButtons = errors.New("buttons message exceeds the limit of 3 choices")

// Link is a labeled URL rendered as an inline button where supported.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// OutgoingMessage is the platform-agnostic reply unit. Only the fields of
// the active variant are set; Partial marks intermediate streaming chunks.
type OutgoingMessage struct {
	Lead        *Lead          `json:"lead"`
	Type        OutgoingType   `json:"type"`
	Content     string         `json:"content,omitempty"`
	Options     []string       `json:"options,omitempty"`
	Links       []Link         `json:"links,omitempty"`
	Buttons     []string       `json:"buttons,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	Audio       []byte         `json:"-"`
	Partial     bool           `json:"is_partial"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// NewOutgoingText builds a plain text reply.
func NewOutgoingText(lead *Lead, content string) *OutgoingMessage {
	return &OutgoingMessage{Lead: lead, Type: OutgoingText, Content: content}
}

// NewOutgoingSelect builds a selection reply rendered as a keyboard or list
// where the platform supports it.
func NewOutgoingSelect(lead *Lead, content string, options []string) *OutgoingMessage {
	return &OutgoingMessage{Lead: lead, Type: OutgoingSelect, Content: content, Options: options}
}

// NewOutgoingLink builds a reply carrying inline URL buttons.
func NewOutgoingLink(lead *Lead, content string, links []Link) *OutgoingMessage {
	return &OutgoingMessage{Lead: lead, Type: OutgoingLink, Content: content, Links: links}
}

// NewOutgoingButtons builds a short-choice reply. Returns ErrTooManyButtons
// if more than MaxButtons choices are given.
func NewOutgoingButtons(lead *Lead, content string, buttons []string) (*OutgoingMessage, error) {
	if len(buttons) > MaxButtons {
		return nil, ErrTooManyButtons
	}
	return &OutgoingMessage{Lead: lead, Type: OutgoingButtons, Content: content, Buttons: buttons}, nil
}

// CapabilitySet enumerates the outgoing types a connector renders natively.
// Everything else must be degraded before delivery.
type CapabilitySet map[OutgoingType]bool

// Validate checks structural invariants of the message independent of any
// connector.
func (m *OutgoingMessage) Validate() error {
	if m.Lead == nil {
		return errors.New("outgoing message has no lead")
	}
	if m.Type == OutgoingButtons && len(m.Buttons) > MaxButtons {
		return ErrTooManyButtons
	}
	return nil
}

// DegradeFor returns a message the connector can deliver. Native types pass
// through unchanged; unsupported structured types degrade to a plain text
// rendering rather than failing.
func (m *OutgoingMessage) DegradeFor(caps CapabilitySet) *OutgoingMessage {
	if caps[m.Type] {
		return m
	}
	out := *m
	out.Type = OutgoingText
	out.Content = m.DegradedText()
	out.Options = nil
	out.Links = nil
	out.Buttons = nil
	return &out
}

// DegradedText renders the structured variants as plain text: selections as
// a numbered list, links as trailing URLs, everything else as the content.
func (m *OutgoingMessage) DegradedText() string {
	switch m.Type {
	case OutgoingSelect:
		var sb strings.Builder
		sb.WriteString(m.Content)
		for i, opt := range m.Options {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, opt)
		}
		return sb.String()
	case OutgoingButtons:
		var sb strings.Builder
		sb.WriteString(m.Content)
		for i, b := range m.Buttons {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, b)
		}
		return sb.String()
	case OutgoingLink:
		var sb strings.Builder
		sb.WriteString(m.Content)
		for _, l := range m.Links {
			fmt.Fprintf(&sb, "\n%s: %s", l.Text, l.URL)
		}
		return sb.String()
	default:
		return m.Content
	}
}
