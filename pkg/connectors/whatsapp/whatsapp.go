// Package whatsapp adapts the WhatsApp Cloud API as a connector: webhook
// ingestion with signature verification, Graph API sends, interactive
// lists for selections.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"aviary/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const graphBase = "https://graph.facebook.com/v19.0"

// listRowLimit is the Cloud API cap on interactive list rows.
const listRowLimit = 10

// Config holds the Cloud API credentials.
type Config struct {
	Token       string // Bearer token for the Graph API
	VerifyToken string // Webhook subscription verification token
	PhoneID     string // Sending phone number id
	AppSecret   string // Used to verify X-Hub-Signature-256; empty disables
}

// Connector is the WhatsApp platform adapter.
type Connector struct {
	cfg        Config
	sink       api.MessageSink
	paused     atomic.Bool
	httpClient *http.Client
	graphURL   string
}

// New builds the connector.
func New(cfg Config) *Connector {
	return &Connector{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		graphURL:   graphBase,
	}
}

// Name implements api.Connector.
func (c *Connector) Name() string { return "whatsapp" }

// Start implements api.Connector. Ingestion is webhook-driven.
func (c *Connector) Start(ctx context.Context) error { return nil }

// Stop implements api.Connector.
func (c *Connector) Stop() error { return nil }

// SetSink implements api.Connector.
func (c *Connector) SetSink(sink api.MessageSink) { c.sink = sink }

// Pause implements api.Connector.
func (c *Connector) Pause() { c.paused.Store(true) }

// Resume implements api.Connector.
func (c *Connector) Resume() { c.paused.Store(false) }

// Capabilities implements api.Connector. Links degrade to text; the Cloud
// API has no inline URL buttons on free-form messages.
func (c *Connector) Capabilities() api.CapabilitySet {
	return api.CapabilitySet{
		api.OutgoingText:    true,
		api.OutgoingSelect:  true,
		api.OutgoingButtons: true,
		api.OutgoingImage:   true,
	}
}

// MountRoutes implements api.Connector.
func (c *Connector) MountRoutes(r *mux.Router) {
	r.HandleFunc("/webhook", c.handleVerify).Methods(http.MethodGet)
	r.HandleFunc("/webhook", c.handleWebhook).Methods(http.MethodPost)
}

// handleVerify answers the Cloud API subscription handshake.
func (c *Connector) handleVerify(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == c.cfg.VerifyToken {
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

// webhookPayload mirrors the slice of the Cloud API event we consume.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
	} `json:"audio"`
	Voice *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
	} `json:"voice"`
	Image *struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	} `json:"image"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Contacts []struct {
		Name struct {
			FormattedName string `json:"formatted_name"`
		} `json:"name"`
		Phones []struct {
			Phone string `json:"phone"`
		} `json:"phones"`
	} `json:"contacts"`
	Interactive *struct {
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
}

func (c *Connector) handleWebhook(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	if !c.verifySignature(req.Header.Get("X-Hub-Signature-256"), body) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	// Ack immediately; Meta retries on non-200.
	w.WriteHeader(http.StatusOK)

	if c.paused.Load() {
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("Unparseable whatsapp webhook", "error", err)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			name := ""
			if len(change.Value.Contacts) > 0 {
				name = change.Value.Contacts[0].Profile.Name
			}
			for i := range change.Value.Messages {
				if msg := c.normalize(req.Context(), &change.Value.Messages[i], name); msg != nil {
					c.sink.OnMessage(req.Context(), msg)
				}
			}
		}
	}
}

// verifySignature checks the webhook HMAC. With no app secret configured
// the check is skipped.
func (c *Connector) verifySignature(header string, body []byte) bool {
	if c.cfg.AppSecret == "" {
		return true
	}
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header[len(prefix):]))
}

func (c *Connector) normalize(ctx context.Context, in *inboundMessage, profileName string) *api.Message {
	lead := api.NewLead("whatsapp", api.Peer{
		ID:    in.From,
		Name:  profileName,
		Phone: in.From,
	})

	msg := api.NewMessage(lead, "")
	msg.ID = in.ID

	switch in.Type {
	case "text":
		if in.Text != nil {
			msg.Text = in.Text.Body
		}
	case "interactive":
		if in.Interactive != nil {
			if in.Interactive.ListReply != nil {
				msg.Text = in.Interactive.ListReply.Title
			} else if in.Interactive.ButtonReply != nil {
				msg.Text = in.Interactive.ButtonReply.Title
			}
		}
	case "audio", "voice":
		media := in.Audio
		if in.Voice != nil {
			media = in.Voice
		}
		if media != nil {
			msg.Attachments = append(msg.Attachments, api.Attachment{
				Type:     api.AttachmentVoice,
				MimeType: media.MimeType,
				FileURL:  c.mediaURL(ctx, media.ID),
				Metadata: map[string]any{"media_id": media.ID},
			})
		}
	case "image":
		if in.Image != nil {
			msg.Text = in.Image.Caption
			msg.Attachments = append(msg.Attachments, api.Attachment{
				Type:     api.AttachmentImage,
				FileURL:  c.mediaURL(ctx, in.Image.ID),
				Metadata: map[string]any{"media_id": in.Image.ID},
			})
		}
	case "location":
		if in.Location != nil {
			msg.Attachments = append(msg.Attachments, api.Attachment{
				Type:      api.AttachmentLocation,
				Latitude:  in.Location.Latitude,
				Longitude: in.Location.Longitude,
			})
		}
	case "contacts":
		for _, contact := range in.Contacts {
			att := api.Attachment{
				Type: api.AttachmentContact,
				Name: contact.Name.FormattedName,
				Raw:  map[string]any{},
			}
			if len(contact.Phones) > 0 {
				att.Raw["phone_number"] = contact.Phones[0].Phone
			}
			msg.Attachments = append(msg.Attachments, att)
		}
	default:
		slog.Debug("Ignoring unsupported whatsapp message type", "type", in.Type)
		return nil
	}

	return msg
}

// mediaURL exchanges a media id for its short-lived download URL so
// downstream stages can fetch the bytes. Resolution failures leave the
// attachment with just the media id.
func (c *Connector) mediaURL(ctx context.Context, mediaID string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphURL+"/"+mediaID, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("Failed to resolve whatsapp media", "media_id", mediaID, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("Failed to resolve whatsapp media", "media_id", mediaID, "status", resp.StatusCode)
		return ""
	}

	var meta struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		slog.Warn("Unparseable whatsapp media lookup", "media_id", mediaID, "error", err)
		return ""
	}
	return meta.URL
}

// Send implements api.Connector.
func (c *Connector) Send(ctx context.Context, msg *api.OutgoingMessage) error {
	to := msg.Lead.Peer.ID

	switch msg.Type {
	case api.OutgoingSelect:
		return c.sendList(ctx, to, msg)
	case api.OutgoingButtons:
		return c.sendReplyButtons(ctx, to, msg)
	case api.OutgoingImage:
		return c.post(ctx, map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "image",
			"image":             map[string]any{"link": msg.ImageURL, "caption": msg.Content},
		})
	default:
		return c.post(ctx, map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]any{"body": msg.Content},
		})
	}
}

// sendList renders a selection as an interactive list. Beyond the platform
// row cap the message degrades to numbered text.
func (c *Connector) sendList(ctx context.Context, to string, msg *api.OutgoingMessage) error {
	if len(msg.Options) > listRowLimit {
		return c.post(ctx, map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]any{"body": msg.DegradedText()},
		})
	}

	rows := make([]map[string]any, 0, len(msg.Options))
	for i, opt := range msg.Options {
		rows = append(rows, map[string]any{
			"id":    fmt.Sprintf("opt_%d", i+1),
			"title": truncate(opt, 24),
		})
	}
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "list",
			"body": map[string]any{"text": msg.Content},
			"action": map[string]any{
				"button":   "Choose",
				"sections": []map[string]any{{"rows": rows}},
			},
		},
	})
}

func (c *Connector) sendReplyButtons(ctx context.Context, to string, msg *api.OutgoingMessage) error {
	buttons := make([]map[string]any, 0, len(msg.Buttons))
	for i, b := range msg.Buttons {
		buttons = append(buttons, map[string]any{
			"type":  "reply",
			"reply": map[string]any{"id": fmt.Sprintf("btn_%d", i+1), "title": truncate(b, 20)},
		})
	}
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": msg.Content},
			"action": map[string]any{"buttons": buttons},
		},
	})
}

func (c *Connector) post(ctx context.Context, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/messages", c.graphURL, c.cfg.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp send status %d: %s", resp.StatusCode, data)
	}
	return nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
