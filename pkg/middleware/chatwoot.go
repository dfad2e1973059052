package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"aviary/pkg/api"
)

// Chatwoot mirrors inbound messages into a Chatwoot inbox so human agents
// can watch conversations live. Mirroring is best-effort: failures are
// logged by the chain and the message always proceeds.
type Chatwoot struct {
	baseURL   string
	accountID string
	inboxID   string
	token     string
	client    *http.Client

	mu      sync.Mutex
	convIDs map[string]int
}

// NewChatwoot builds the mirror stage against a Chatwoot installation.
func NewChatwoot(baseURL, accountID, inboxID, token string) *Chatwoot {
	return &Chatwoot{
		baseURL:   baseURL,
		accountID: accountID,
		inboxID:   inboxID,
		token:     token,
		client:    &http.Client{Timeout: 10 * time.Second},
		convIDs:   map[string]int{},
	}
}

func (c *Chatwoot) Name() string { return "chatwoot" }

// Process implements Middleware.
func (c *Chatwoot) Process(ctx context.Context, msg *api.Message) (bool, error) {
	if msg.Text == "" {
		return true, nil
	}
	convID, err := c.conversationFor(ctx, msg)
	if err != nil {
		return true, fmt.Errorf("chatwoot conversation: %w", err)
	}
	if err := c.postMessage(ctx, convID, msg.Text, "incoming"); err != nil {
		return true, fmt.Errorf("chatwoot mirror: %w", err)
	}
	return true, nil
}

// MirrorOutgoing posts an assistant reply into the same conversation.
func (c *Chatwoot) MirrorOutgoing(ctx context.Context, sessionID, text string) error {
	c.mu.Lock()
	convID, ok := c.convIDs[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.postMessage(ctx, convID, text, "outgoing")
}

func (c *Chatwoot) conversationFor(ctx context.Context, msg *api.Message) (int, error) {
	sessionID := msg.SessionID()

	c.mu.Lock()
	if id, ok := c.convIDs[sessionID]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	body := map[string]any{
		"source_id": sessionID,
		"inbox_id":  c.inboxID,
	}
	var created struct {
		ID int `json:"id"`
	}
	url := fmt.Sprintf("%s/api/v1/accounts/%s/conversations", c.baseURL, c.accountID)
	if err := c.post(ctx, url, body, &created); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.convIDs[sessionID] = created.ID
	c.mu.Unlock()
	return created.ID, nil
}

func (c *Chatwoot) postMessage(ctx context.Context, convID int, text, direction string) error {
	url := fmt.Sprintf("%s/api/v1/accounts/%s/conversations/%d/messages", c.baseURL, c.accountID, convID)
	return c.post(ctx, url, map[string]any{
		"content":      text,
		"message_type": direction,
	}, nil)
}

func (c *Chatwoot) post(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_access_token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chatwoot status %d: %s", resp.StatusCode, data)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
