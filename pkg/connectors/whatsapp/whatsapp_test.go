package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"aviary/pkg/api"
)

type captureSink struct {
	msgs []*api.Message
}

func (c *captureSink) OnMessage(ctx context.Context, msg *api.Message) {
	c.msgs = append(c.msgs, msg)
}

func newTestConnector(appSecret string) (*Connector, *captureSink, *mux.Router) {
	c := New(Config{Token: "tok", VerifyToken: "verify-me", PhoneID: "123", AppSecret: appSecret})
	sink := &captureSink{}
	c.SetSink(sink)
	r := mux.NewRouter()
	c.MountRoutes(r.PathPrefix("/whatsapp").Subrouter())
	return c, sink, r
}

func TestWebhookVerification(t *testing.T) {
	_, _, r := newTestConnector("")

	req := httptest.NewRequest(http.MethodGet, "/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "12345", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

const textEvent = `{
	"entry": [{
		"changes": [{
			"value": {
				"contacts": [{"wa_id": "491700000", "profile": {"name": "Ada"}}],
				"messages": [{
					"from": "491700000",
					"id": "wamid.1",
					"type": "text",
					"text": {"body": "hello there"}
				}]
			}
		}]
	}]
}`

func TestWebhookParsesTextMessage(t *testing.T) {
	_, sink, r := newTestConnector("")

	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", bytes.NewBufferString(textEvent))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.msgs, 1)
	msg := sink.msgs[0]
	require.Equal(t, "hello there", msg.Text)
	require.Equal(t, "whatsapp:491700000", msg.SessionID())
	require.Equal(t, "Ada", msg.Lead.Peer.Name)
}

func TestWebhookParsesLocation(t *testing.T) {
	_, sink, r := newTestConnector("")
	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"491700000","id":"wamid.2","type":"location","location":{"latitude":52.5,"longitude":13.4}}]}}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Len(t, sink.msgs, 1)
	att := sink.msgs[0].FirstAttachment(api.AttachmentLocation)
	require.NotNil(t, att)
	require.InDelta(t, 52.5, att.Latitude, 0.001)
}

func TestWebhookResolvesVoiceMediaURL(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/media-1", req.URL.Path)
		require.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url": "https://lookaside.test/audio.ogg", "mime_type": "audio/ogg"}`))
	}))
	defer graph.Close()

	c, sink, r := newTestConnector("")
	c.graphURL = graph.URL

	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"491700000","id":"wamid.3","type":"voice","voice":{"id":"media-1","mime_type":"audio/ogg"}}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Len(t, sink.msgs, 1)
	att := sink.msgs[0].FirstAttachment(api.AttachmentVoice)
	require.NotNil(t, att)
	require.Equal(t, "https://lookaside.test/audio.ogg", att.FileURL)
	require.Equal(t, "media-1", att.Metadata["media_id"])
	require.True(t, sink.msgs[0].IsVoice())
}

func TestWebhookSignatureEnforced(t *testing.T) {
	_, sink, r := newTestConnector("app-secret")

	// Missing signature is rejected.
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", bytes.NewBufferString(textEvent))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Empty(t, sink.msgs)

	// A valid signature is accepted.
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(textEvent))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req = httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", bytes.NewBufferString(textEvent))
	req.Header.Set("X-Hub-Signature-256", sig)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.msgs, 1)
}

func TestPausedConnectorDropsInbound(t *testing.T) {
	c, sink, r := newTestConnector("")
	c.Pause()

	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", bytes.NewBufferString(textEvent))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, sink.msgs)

	c.Resume()
	req = httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", bytes.NewBufferString(textEvent))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Len(t, sink.msgs, 1)
}
