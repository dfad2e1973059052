package middleware

import (
	"context"
	"fmt"

	"aviary/pkg/api"
)

// Geocoder resolves coordinates to a human-readable address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// Geodecode turns location attachments into text the model can reason
// about. The resolved address also lands in the attachment metadata.
type Geodecode struct {
	geocoder Geocoder
}

// NewGeodecode builds the location-decoding stage.
func NewGeodecode(g Geocoder) *Geodecode {
	return &Geodecode{geocoder: g}
}

func (g *Geodecode) Name() string { return "geodecode" }

// Process implements Middleware.
func (g *Geodecode) Process(ctx context.Context, msg *api.Message) (bool, error) {
	att := msg.FirstAttachment(api.AttachmentLocation)
	if att == nil {
		return true, nil
	}

	address, err := g.geocoder.ReverseGeocode(ctx, att.Latitude, att.Longitude)
	if err != nil {
		if msg.Text == "" {
			msg.Text = fmt.Sprintf("User shared a location: %f, %f", att.Latitude, att.Longitude)
		}
		return true, fmt.Errorf("reverse geocode: %w", err)
	}

	if att.Metadata == nil {
		att.Metadata = map[string]any{}
	}
	att.Metadata["address"] = address
	if msg.Text == "" {
		msg.Text = fmt.Sprintf("User shared a location: %s", address)
	}
	return true, nil
}
