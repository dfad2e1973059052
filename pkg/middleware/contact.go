package middleware

import (
	"context"
	"fmt"

	"aviary/pkg/api"
)

// Contact renders shared contact cards as text so the engine can use them.
type Contact struct{}

// NewContact builds the contact-decoding stage.
func NewContact() *Contact { return &Contact{} }

func (c *Contact) Name() string { return "contact" }

// Process implements Middleware.
func (c *Contact) Process(ctx context.Context, msg *api.Message) (bool, error) {
	att := msg.FirstAttachment(api.AttachmentContact)
	if att == nil || msg.Text != "" {
		return true, nil
	}

	name := att.Name
	if name == "" {
		name = "unknown"
	}
	phone, _ := att.Raw["phone_number"].(string)
	if phone != "" {
		msg.Text = fmt.Sprintf("User shared a contact: %s (%s)", name, phone)
	} else {
		msg.Text = fmt.Sprintf("User shared a contact: %s", name)
	}
	return true, nil
}
