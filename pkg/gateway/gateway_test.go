package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"aviary/pkg/api"
	"aviary/pkg/assistant"
	"aviary/pkg/config"
	"aviary/pkg/enhancer"
	"aviary/pkg/middleware"
)

// fakeAgent replies with scripted chunks and records the order of texts it
// was asked about.
type fakeAgent struct {
	mu       sync.Mutex
	seen     []string
	chunks   []assistant.ReplyChunk
	delay    time.Duration
	event    *api.EventResponse
	recorded [][2]string
	events   []string
}

func (f *fakeAgent) Name() string { return "fake" }

func (f *fakeAgent) NewMessage(ctx context.Context, msg *api.Message) (<-chan assistant.ReplyChunk, error) {
	f.mu.Lock()
	f.seen = append(f.seen, msg.Text)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	ch := make(chan assistant.ReplyChunk, len(f.chunks)+1)
	for _, c := range f.chunks {
		ch <- c
	}
	ch <- assistant.ReplyChunk{Partial: false}
	close(ch)
	return ch, nil
}

func (f *fakeAgent) HandleCommand(ctx context.Context, msg *api.Message, connector api.Connector) (bool, error) {
	return false, nil
}

func (f *fakeAgent) Trigger(ctx context.Context, event string, ev *assistant.EventContext) (*api.EventResponse, error) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return f.event, nil
}

func (f *fakeAgent) Blend(ctx context.Context, sessionID, text string) (string, error) {
	return text, nil
}

func (f *fakeAgent) RecordExchange(ctx context.Context, sessionID, userText, replyText string) {
	f.mu.Lock()
	f.recorded = append(f.recorded, [2]string{userText, replyText})
	f.mu.Unlock()
}

func (f *fakeAgent) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func (f *fakeAgent) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// fakeConnector records sends and can feed messages into the sink.
type fakeConnector struct {
	mu   sync.Mutex
	name string
	sink api.MessageSink
	sent []*api.OutgoingMessage
}

func (f *fakeConnector) Name() string {
	if f.name == "" {
		return "test"
	}
	return f.name
}
func (f *fakeConnector) MountRoutes(r *mux.Router)         {}
func (f *fakeConnector) Start(ctx context.Context) error   { return nil }
func (f *fakeConnector) Stop() error                       { return nil }
func (f *fakeConnector) SetSink(sink api.MessageSink)      { f.sink = sink }
func (f *fakeConnector) Pause()                            {}
func (f *fakeConnector) Resume()                           {}
func (f *fakeConnector) Capabilities() api.CapabilitySet {
	return api.CapabilitySet{api.OutgoingText: true}
}
func (f *fakeConnector) Send(ctx context.Context, msg *api.OutgoingMessage) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}
func (f *fakeConnector) sentMessages() []*api.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*api.OutgoingMessage(nil), f.sent...)
}

func chunksOf(texts ...string) []assistant.ReplyChunk {
	var out []assistant.ReplyChunk
	for _, t := range texts {
		out = append(out, assistant.ReplyChunk{Content: t, Partial: true})
	}
	return out
}

func inboundText(connector, peer, text string) *api.Message {
	return api.NewMessage(api.NewLead(connector, api.Peer{ID: peer}), text)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func newTestGateway(agent assistant.Agent) (*Manager, *fakeConnector) {
	cfg := config.Default()
	cfg.StreamMode = string(StreamSentence)
	g := New(agent, middleware.NewChain(), enhancer.New(), cfg)
	conn := &fakeConnector{}
	g.AddConnector(conn)
	return g, conn
}

func TestSameSessionProcessedInOrder(t *testing.T) {
	agent := &fakeAgent{chunks: chunksOf("ok."), delay: 10 * time.Millisecond}
	g, conn := newTestGateway(agent)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		g.OnMessage(ctx, inboundText(conn.Name(), "7", text))
	}
	waitFor(t, func() bool { return len(agent.order()) == 3 })

	require.Equal(t, []string{"one", "two", "three"}, agent.order())
	g.Stop()
}

func TestDistinctSessionsRunIndependently(t *testing.T) {
	agent := &fakeAgent{chunks: chunksOf("reply.")}
	g, conn := newTestGateway(agent)
	ctx := context.Background()

	g.OnMessage(ctx, inboundText(conn.Name(), "a", "hi"))
	g.OnMessage(ctx, inboundText(conn.Name(), "b", "hi"))
	waitFor(t, func() bool { return len(conn.sentMessages()) == 2 })
	g.Stop()
}

func TestSentenceModeDeliversPerSentence(t *testing.T) {
	agent := &fakeAgent{chunks: chunksOf("Hello world. How", " are you?")}
	g, conn := newTestGateway(agent)

	g.OnMessage(context.Background(), inboundText(conn.Name(), "1", "hey"))
	waitFor(t, func() bool { return len(conn.sentMessages()) == 2 })

	sent := conn.sentMessages()
	require.Equal(t, "Hello world.", sent[0].Content)
	require.Equal(t, "How are you?", sent[1].Content)
	g.Stop()
}

func TestFullModeDeliversOnce(t *testing.T) {
	agent := &fakeAgent{chunks: chunksOf("Hello world. How", " are you?")}
	g, conn := newTestGateway(agent)
	g.settings.StreamMode = string(StreamFull)

	g.OnMessage(context.Background(), inboundText(conn.Name(), "1", "hey"))
	waitFor(t, func() bool { return len(conn.sentMessages()) == 1 })

	require.Equal(t, "Hello world. How are you?", conn.sentMessages()[0].Content)
	g.Stop()
}

func TestPacingSleepsProportionally(t *testing.T) {
	agent := &fakeAgent{chunks: chunksOf("Hi there. Bye.")}
	g, conn := newTestGateway(agent)
	g.settings.DeliveryRateRatio = 25

	var mu sync.Mutex
	var slept []time.Duration
	g.sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}

	g.OnMessage(context.Background(), inboundText(conn.Name(), "1", "hey"))
	waitFor(t, func() bool { return len(conn.sentMessages()) == 2 })
	g.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, slept, 2)
	require.Equal(t, time.Duration(float64(len("Hi there."))/25*float64(time.Second)), slept[0])
	require.Equal(t, time.Duration(float64(len("Bye."))/25*float64(time.Second)), slept[1])
}

func TestVetoingMiddlewareStopsTurn(t *testing.T) {
	agent := &fakeAgent{chunks: chunksOf("never.")}
	cfg := config.Default()
	chain := middleware.NewChain(vetoStage{})
	g := New(agent, chain, enhancer.New(), cfg)
	conn := &fakeConnector{}
	g.AddConnector(conn)

	g.OnMessage(context.Background(), inboundText(conn.Name(), "1", "blocked"))
	time.Sleep(50 * time.Millisecond)
	g.Stop()

	require.Empty(t, agent.order())
	require.Empty(t, conn.sentMessages())
}

type vetoStage struct{}

func (vetoStage) Name() string { return "veto" }
func (vetoStage) Process(ctx context.Context, msg *api.Message) (bool, error) {
	return false, nil
}

func TestEventResponseEndsTurnAndRecordsExchange(t *testing.T) {
	agent := &fakeAgent{
		chunks: chunksOf("never."),
		event:  &api.EventResponse{Text: "pong", DisableAIResponse: true},
	}
	g, conn := newTestGateway(agent)

	g.OnMessage(context.Background(), inboundText(conn.Name(), "1", "ping"))
	waitFor(t, func() bool { return len(conn.sentMessages()) == 1 })
	g.Stop()

	require.Equal(t, "pong", conn.sentMessages()[0].Content)
	// No engine turn ran, but the exchange landed in history.
	require.Empty(t, agent.order())
	require.Equal(t, [][2]string{{"ping", "pong"}}, agent.recorded)
}

func TestTurnFiresLifecycleEvents(t *testing.T) {
	agent := &fakeAgent{chunks: chunksOf("done.")}
	g, conn := newTestGateway(agent)

	g.OnMessage(context.Background(), inboundText(conn.Name(), "1", "hello"))
	waitFor(t, func() bool { return len(agent.eventNames()) == 3 })
	g.Stop()

	require.Equal(t, []string{api.EventMessage, api.EventEnd, api.EventInsights}, agent.eventNames())
}

func TestCaptureResponseCollectsText(t *testing.T) {
	agent := &fakeAgent{chunks: chunksOf("Hello world. Bye.")}
	g, _ := newTestGateway(agent)

	text, err := g.CaptureResponse(context.Background(), inboundText("test", "9", "hi"))
	require.NoError(t, err)
	require.Equal(t, "Hello world.\nBye.", text)
	g.Stop()
}
