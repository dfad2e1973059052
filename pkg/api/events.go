package api

// Core event names emitted by the gateway and middlewares. Assistants may
// register handlers for any of these plus middleware-defined names.
const (
	EventStart           = "start"
	EventMessage         = "message"
	EventImage           = "image"
	EventAudio           = "audio"
	EventEnd             = "end"
	EventInsights        = "insights"
	EventNewConversation = "new_conversation"
	EventLogin           = "login"
	EventLogout          = "logout"
	EventMessageFlagged  = "on_message_flagged"
	EventInvitationOK    = "invitation_accepted"
	EventRejectedCode    = "rejected_code"
	EventAdminLogin      = "admin_login"
	EventAdminLogout     = "admin_logout"
	EventCallback        = "callback"
)

// EventResponse is what an event handler may return. A nil response means
// the handler has nothing to say and the turn continues normally.
type EventResponse struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	Audio string `json:"audio,omitempty"`
	Video string `json:"video,omitempty"`

	// DisableAIResponse terminates the turn after the event; no LLM call
	// is made.
	DisableAIResponse bool `json:"disable_ai_response,omitempty"`

	// Blend asks the assistant to rephrase Text in conversational context
	// before delivery.
	Blend bool `json:"blend,omitempty"`

	// IsPrivate suppresses mirroring of the response to observers.
	IsPrivate bool `json:"is_private,omitempty"`
}
