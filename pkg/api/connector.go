package api

import (
	"context"

	"github.com/gorilla/mux"
)

// MessageSink receives normalized inbound messages from connectors. The
// gateway implements it; the sink is injected into each connector after
// construction to break the connector/gateway cycle.
type MessageSink interface {
	OnMessage(ctx context.Context, msg *Message)
}

// Connector is a platform adapter. It parses platform webhooks (or runs a
// long-poll loop) into normalized Messages, and renders OutgoingMessages
// onto the platform.
//
// An outgoing message must be degraded against Capabilities before Send;
// connectors may assume Send only receives types they support natively or
// plain text.
type Connector interface {
	// Name is the stable connector identifier used in session ids and
	// route prefixes (e.g. "telegram").
	Name() string

	// MountRoutes registers the connector's webhook routes on the given
	// subrouter. Connectors without an HTTP surface may no-op.
	MountRoutes(r *mux.Router)

	// Start begins any background ingestion (long-polling, socket accept).
	Start(ctx context.Context) error

	// Stop tears down background ingestion.
	Stop() error

	// Send delivers one outgoing message to the peer identified by its lead.
	Send(ctx context.Context, msg *OutgoingMessage) error

	// Capabilities reports which outgoing types render natively.
	Capabilities() CapabilitySet

	// SetSink injects the inbound message sink.
	SetSink(sink MessageSink)

	// Pause makes the connector drop inbound traffic until Resume.
	Pause()
	Resume()
}

// Deliver validates, degrades, and sends a message through the connector.
// This is the only sanctioned path for outbound traffic: unsupported
// capabilities degrade, they never fail silently.
func Deliver(ctx context.Context, c Connector, msg *OutgoingMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.Send(ctx, msg.DegradeFor(c.Capabilities()))
}
