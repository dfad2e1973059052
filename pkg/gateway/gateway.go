// Package gateway ties the system together: connectors feed normalized
// messages into per-session queues, each queue's worker runs the inbound
// pipeline (middlewares, commands, events, the turn engine) and delivers
// the streamed reply back through the originating connector.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"aviary/pkg/api"
	"aviary/pkg/assistant"
	"aviary/pkg/callbacks"
	"aviary/pkg/config"
	"aviary/pkg/enhancer"
	"aviary/pkg/middleware"
)

// StreamMode controls how the engine's chunk stream maps onto platform
// messages.
type StreamMode string

const (
	// StreamDirect forwards raw chunks as partial messages.
	StreamDirect StreamMode = "direct"
	// StreamSentence delivers one message per completed sentence.
	StreamSentence StreamMode = "sentence"
	// StreamFull buffers the whole reply into a single message.
	StreamFull StreamMode = "full"
)

// mailboxIdleTimeout is how long an empty session queue lingers before its
// worker exits and the queue is torn down.
const mailboxIdleTimeout = 2 * time.Minute

type inbound struct {
	msg       *api.Message
	connector api.Connector
}

type mailbox struct {
	ch chan inbound
}

// Manager is the gateway. Construct with New, wire connectors with
// AddConnector, then Start.
type Manager struct {
	agent      assistant.Agent
	chain      *middleware.Chain
	enhance    enhancer.Enhancer
	settings   *config.Settings
	callbacks  *callbacks.Provider
	connectors map[string]api.Connector
	order      []string

	// afterTurn runs async once a turn's reply is fully delivered
	// (insights extraction hooks in here).
	afterTurn func(sessionID string)

	mu     sync.Mutex
	boxes  map[string]*mailbox
	closed bool
	wg     sync.WaitGroup

	// sleep is swapped out by pacing tests.
	sleep func(time.Duration)
}

// New builds a gateway around one agent.
func New(agent assistant.Agent, chain *middleware.Chain, enh enhancer.Enhancer, settings *config.Settings) *Manager {
	if chain == nil {
		chain = middleware.NewChain()
	}
	if enh == nil {
		enh = enhancer.New()
	}
	return &Manager{
		agent:      agent,
		chain:      chain,
		enhance:    enh,
		settings:   settings,
		connectors: map[string]api.Connector{},
		boxes:      map[string]*mailbox{},
		sleep:      time.Sleep,
	}
}

// AddConnector registers a connector and injects the gateway as its sink.
func (g *Manager) AddConnector(c api.Connector) {
	g.connectors[c.Name()] = c
	g.order = append(g.order, c.Name())
	c.SetSink(g)
}

// Connector returns a registered connector by name.
func (g *Manager) Connector(name string) (api.Connector, bool) {
	c, ok := g.connectors[name]
	return c, ok
}

// SetCallbacks attaches the callback-link provider to the HTTP surface.
func (g *Manager) SetCallbacks(p *callbacks.Provider) { g.callbacks = p }

// SetAfterTurn installs the post-turn hook, called asynchronously with the
// session id after each completed engine turn.
func (g *Manager) SetAfterTurn(fn func(sessionID string)) { g.afterTurn = fn }

// Start launches every connector.
func (g *Manager) Start(ctx context.Context) error {
	for _, name := range g.order {
		if err := g.connectors[name].Start(ctx); err != nil {
			return fmt.Errorf("start connector %s: %w", name, err)
		}
		slog.Info("Connector started", "connector", name)
	}
	return nil
}

// Stop stops connectors, refuses new messages, and waits for in-flight
// turns to finish.
func (g *Manager) Stop() {
	for _, name := range g.order {
		if err := g.connectors[name].Stop(); err != nil {
			slog.Warn("Connector stop failed", "connector", name, "error", err)
		}
	}
	g.mu.Lock()
	g.closed = true
	for _, box := range g.boxes {
		close(box.ch)
	}
	g.boxes = map[string]*mailbox{}
	g.mu.Unlock()
	g.wg.Wait()
}

// OnMessage implements api.MessageSink. Messages for one session are
// processed strictly in arrival order; sessions run concurrently.
func (g *Manager) OnMessage(ctx context.Context, msg *api.Message) {
	if msg == nil || msg.Lead == nil {
		return
	}
	connector, ok := g.connectors[msg.Lead.ConnectorName]
	if !ok {
		slog.Error("Message from unknown connector", "connector", msg.Lead.ConnectorName)
		return
	}

	sessionID := msg.SessionID()

	// Enqueue and worker teardown both run under mu: a worker only
	// removes its mailbox while holding the lock and rechecking that the
	// queue is empty, so no message can land in a dying queue.
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	box, ok := g.boxes[sessionID]
	if !ok {
		capacity := g.settings.SessionQueueCap
		if capacity <= 0 {
			capacity = 256
		}
		box = &mailbox{ch: make(chan inbound, capacity)}
		g.boxes[sessionID] = box
		g.wg.Add(1)
		go g.worker(sessionID, box)
	}

	select {
	case box.ch <- inbound{msg: msg, connector: connector}:
	default:
		slog.Warn("Session queue full, dropping message", "session", sessionID)
	}
}

func (g *Manager) worker(sessionID string, box *mailbox) {
	defer g.wg.Done()
	idle := time.NewTimer(mailboxIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case in, ok := <-box.ch:
			if !ok {
				return
			}
			g.process(in)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(mailboxIdleTimeout)
		case <-idle.C:
			g.mu.Lock()
			if len(box.ch) == 0 {
				delete(g.boxes, sessionID)
				g.mu.Unlock()
				return
			}
			g.mu.Unlock()
			idle.Reset(mailboxIdleTimeout)
		}
	}
}

// process runs the full inbound pipeline for one message.
func (g *Manager) process(in inbound) {
	ctx := context.Background()
	msg := in.msg
	sessionID := msg.SessionID()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Turn panicked", "session", sessionID, "panic", r)
		}
	}()

	if !g.chain.Run(ctx, msg) {
		return
	}

	handled, err := g.agent.HandleCommand(ctx, msg, in.connector)
	if err != nil {
		slog.Error("Command handling failed", "session", sessionID, "error", err)
	}
	if handled {
		return
	}

	resp, err := g.agent.Trigger(ctx, eventFor(msg), &assistant.EventContext{
		SessionID: sessionID,
		Lead:      msg.Lead,
		Message:   msg,
		Connector: in.connector,
	})
	if err != nil {
		slog.Error("Event handling failed", "session", sessionID, "error", err)
	}
	if resp != nil {
		delivered := g.deliverEventResponse(ctx, in, resp)
		if resp.DisableAIResponse {
			// The handler answered in place of the model; the exchange
			// still belongs in history so the next turn sees it.
			g.agent.RecordExchange(ctx, sessionID, msg.Text, delivered)
			return
		}
	}

	deliver := func(out *api.OutgoingMessage) error {
		return api.Deliver(ctx, in.connector, out)
	}
	if err := g.runEngine(ctx, msg, deliver); err != nil {
		slog.Error("Turn failed", "session", sessionID, "error", err)
		return
	}

	if endResp, err := g.agent.Trigger(ctx, api.EventEnd, &assistant.EventContext{
		SessionID: sessionID,
		Lead:      msg.Lead,
		Message:   msg,
		Connector: in.connector,
	}); err != nil {
		slog.Error("End event failed", "session", sessionID, "error", err)
	} else if endResp != nil {
		g.deliverEventResponse(ctx, in, endResp)
	}

	go func() {
		bg := context.Background()
		if _, err := g.agent.Trigger(bg, api.EventInsights, &assistant.EventContext{
			SessionID: sessionID,
			Lead:      msg.Lead,
		}); err != nil {
			slog.Error("Insights event failed", "session", sessionID, "error", err)
		}
		if g.afterTurn != nil {
			g.afterTurn(sessionID)
		}
	}()
}

// CaptureResponse runs the same pipeline as a live turn but collects the
// reply text instead of delivering it. Used by HTTP clients that want a
// synchronous answer.
func (g *Manager) CaptureResponse(ctx context.Context, msg *api.Message) (string, error) {
	if !g.chain.Run(ctx, msg) {
		return "", nil
	}
	var sb strings.Builder
	err := g.runEngine(ctx, msg, func(out *api.OutgoingMessage) error {
		if out.Partial {
			return nil
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(out.DegradedText())
		return nil
	})
	return sb.String(), err
}

// runEngine streams one turn through the configured stream mode into the
// deliver sink.
func (g *Manager) runEngine(ctx context.Context, msg *api.Message, deliver func(*api.OutgoingMessage) error) error {
	ch, err := g.agent.NewMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("start turn: %w", err)
	}

	mode := StreamMode(g.settings.StreamMode)
	switch mode {
	case StreamDirect:
		return g.streamDirect(msg.Lead, ch, deliver)
	case StreamFull:
		return g.streamFull(msg.Lead, ch, deliver)
	default:
		return g.streamSentences(msg.Lead, ch, deliver)
	}
}

func (g *Manager) streamDirect(lead *api.Lead, ch <-chan assistant.ReplyChunk, deliver func(*api.OutgoingMessage) error) error {
	for chunk := range ch {
		if chunk.Partial && chunk.Content == "" {
			continue
		}
		out := api.NewOutgoingText(lead, chunk.Content)
		out.Partial = chunk.Partial
		if err := deliver(out); err != nil {
			return err
		}
	}
	return nil
}

func (g *Manager) streamFull(lead *api.Lead, ch <-chan assistant.ReplyChunk, deliver func(*api.OutgoingMessage) error) error {
	var sb strings.Builder
	for chunk := range ch {
		sb.WriteString(chunk.Content)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil
	}
	return deliver(g.enhance.Enhance(lead, text))
}

func (g *Manager) streamSentences(lead *api.Lead, ch <-chan assistant.ReplyChunk, deliver func(*api.OutgoingMessage) error) error {
	splitter := NewSentenceSplitter()
	send := func(piece string) error {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			return nil
		}
		if err := deliver(g.enhance.Enhance(lead, piece)); err != nil {
			return err
		}
		g.pace(piece)
		return nil
	}

	for chunk := range ch {
		for _, sentence := range splitter.Feed(chunk.Content) {
			if err := send(sentence); err != nil {
				return err
			}
		}
	}
	return send(splitter.Flush())
}

// pace sleeps len(piece)/ratio seconds after a delivery, simulating a
// human typing rhythm. Ratio is characters per second; 0 disables pacing.
func (g *Manager) pace(piece string) {
	ratio := g.settings.DeliveryRateRatio
	if ratio <= 0 {
		return
	}
	g.sleep(time.Duration(float64(len(piece)) / ratio * float64(time.Second)))
}

// deliverEventResponse sends a handler's response and returns the text that
// actually went out (post-blend).
func (g *Manager) deliverEventResponse(ctx context.Context, in inbound, resp *api.EventResponse) string {
	lead := in.msg.Lead
	text := ""
	if resp.Text != "" {
		text = resp.Text
		if resp.Blend {
			blended, err := g.agent.Blend(ctx, in.msg.SessionID(), text)
			if err == nil {
				text = blended
			}
		}
		if err := api.Deliver(ctx, in.connector, g.enhance.Enhance(lead, text)); err != nil {
			slog.Error("Failed to deliver event response", "session", in.msg.SessionID(), "error", err)
		}
	}
	if resp.Image != "" {
		out := &api.OutgoingMessage{Lead: lead, Type: api.OutgoingImage, ImageURL: resp.Image}
		if err := api.Deliver(ctx, in.connector, out); err != nil {
			slog.Error("Failed to deliver event image", "session", in.msg.SessionID(), "error", err)
		}
	}
	return text
}

// eventFor maps an inbound message to the event its handlers listen on.
func eventFor(msg *api.Message) string {
	if msg.FirstAttachment(api.AttachmentImage) != nil {
		return api.EventImage
	}
	if msg.IsVoice() || msg.FirstAttachment(api.AttachmentAudio) != nil {
		return api.EventAudio
	}
	return api.EventMessage
}
