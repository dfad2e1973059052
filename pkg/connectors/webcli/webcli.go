// Package webcli is the browser/CLI connector: a websocket endpoint that
// speaks JSON frames. Inbound frames carry user text; outbound frames are
// the outgoing message rendered as-is, so web clients can draw selections
// and links natively.
package webcli

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"aviary/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway fronts this; origin policy is the deployment's problem.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is what clients send.
type inboundFrame struct {
	Text string `json:"text"`
}

// outboundFrame is what clients receive.
type outboundFrame struct {
	Type    string     `json:"type"`
	Content string     `json:"content,omitempty"`
	Options []string   `json:"options,omitempty"`
	Links   []api.Link `json:"links,omitempty"`
	Buttons []string   `json:"buttons,omitempty"`
	Image   string     `json:"image,omitempty"`
	Partial bool       `json:"is_partial"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func (c *client) write(frame outboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// Connector is the websocket platform adapter.
type Connector struct {
	sink   api.MessageSink
	paused atomic.Bool

	mu      sync.RWMutex
	clients map[string]*client
}

// New builds the connector.
func New() *Connector {
	return &Connector{clients: map[string]*client{}}
}

// Name implements api.Connector.
func (c *Connector) Name() string { return "web" }

// Start implements api.Connector. Ingestion is socket-driven.
func (c *Connector) Start(ctx context.Context) error { return nil }

// Stop closes every open socket.
func (c *Connector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cl := range c.clients {
		_ = cl.conn.Close()
		delete(c.clients, id)
	}
	return nil
}

// SetSink implements api.Connector.
func (c *Connector) SetSink(sink api.MessageSink) { c.sink = sink }

// Pause implements api.Connector.
func (c *Connector) Pause() { c.paused.Store(true) }

// Resume implements api.Connector.
func (c *Connector) Resume() { c.paused.Store(false) }

// Capabilities implements api.Connector. The JSON frame carries every
// variant, so nothing degrades.
func (c *Connector) Capabilities() api.CapabilitySet {
	return api.CapabilitySet{
		api.OutgoingText:    true,
		api.OutgoingSelect:  true,
		api.OutgoingLink:    true,
		api.OutgoingButtons: true,
		api.OutgoingImage:   true,
	}
}

// MountRoutes implements api.Connector.
func (c *Connector) MountRoutes(r *mux.Router) {
	r.HandleFunc("/ws", c.handleWS).Methods(http.MethodGet)
}

func (c *Connector) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "error", err)
		return
	}

	// Clients may pin their peer id to resume a session across reconnects.
	peerID := req.URL.Query().Get("peer")
	if peerID == "" {
		peerID = uuid.NewString()
	}

	cl := &client{conn: conn}
	c.mu.Lock()
	if old, ok := c.clients[peerID]; ok {
		_ = old.conn.Close()
	}
	c.clients[peerID] = cl
	c.mu.Unlock()

	slog.Info("Web client connected", "peer", peerID)
	go c.readLoop(peerID, cl)
}

func (c *Connector) readLoop(peerID string, cl *client) {
	defer func() {
		c.mu.Lock()
		if c.clients[peerID] == cl {
			delete(c.clients, peerID)
		}
		c.mu.Unlock()
		_ = cl.conn.Close()
		slog.Info("Web client disconnected", "peer", peerID)
	}()

	for {
		var frame inboundFrame
		if err := cl.conn.ReadJSON(&frame); err != nil {
			return
		}
		if c.paused.Load() || frame.Text == "" {
			continue
		}
		lead := api.NewLead("web", api.Peer{ID: peerID})
		c.sink.OnMessage(context.Background(), api.NewMessage(lead, frame.Text))
	}
}

// Send implements api.Connector.
func (c *Connector) Send(ctx context.Context, msg *api.OutgoingMessage) error {
	c.mu.RLock()
	cl, ok := c.clients[msg.Lead.Peer.ID]
	c.mu.RUnlock()
	if !ok {
		// The peer went away; replies to dead sockets just drop.
		slog.Debug("No web client for peer", "peer", msg.Lead.Peer.ID)
		return nil
	}
	return cl.write(outboundFrame{
		Type:    string(msg.Type),
		Content: msg.Content,
		Options: msg.Options,
		Links:   msg.Links,
		Buttons: msg.Buttons,
		Image:   msg.ImageURL,
		Partial: msg.Partial,
	})
}
