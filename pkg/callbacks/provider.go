// Package callbacks issues signed, encrypted HTTP callback links bound to
// a lead. A link encodes which handler runs and for whom; hitting it fires
// the handler without any session cookie or login. Tokens are
// HMAC-authenticated and AES-GCM encrypted, so they can travel through
// emails and chat messages without exposing lead data.
package callbacks

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"aviary/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const macSize = sha256.Size

// ErrInvalidToken covers every verification failure. Callers must not
// distinguish causes; the HTTP surface answers a uniform 401.
var ErrInvalidToken = errors.New("callbacks: invalid token")

// Handler runs when a valid callback link is hit. Values merge the
// request's query parameters, form fields, and JSON body keys. A non-empty
// return becomes the HTTP response body; a {"status":"ok"} document is
// answered otherwise.
type Handler func(ctx context.Context, lead *api.Lead, values map[string]string) (string, error)

type payload struct {
	Lead      *api.Lead `json:"lead"`
	Handler   string    `json:"handler"`
	ID        string    `json:"id"`
	Exp       int64     `json:"exp"`
	Redirect  string    `json:"redirect,omitempty"`
	SingleUse bool      `json:"single_use,omitempty"`
}

// Provider creates and serves callback links.
type Provider struct {
	signingKey []byte
	aead       cipher.AEAD
	endpoint   string
	baseURL    string

	mu       sync.Mutex
	handlers map[string]Handler
	issued   map[string]bool

	now func() time.Time
}

// New builds a provider. baseURL is the externally reachable origin the
// links point at; endpoint is the path segment they mount under (e.g.
// "callback"). The encryption key may be any length; it is stretched to
// an AES-256 key.
func New(signingKey, encryptionKey, baseURL, endpoint string) (*Provider, error) {
	if len(signingKey) == 0 || len(encryptionKey) == 0 {
		return nil, errors.New("callbacks: signing and encryption keys are required")
	}
	aesKey := sha256.Sum256([]byte(encryptionKey))
	block, err := aes.NewCipher(aesKey[:])
	if err != nil {
		return nil, fmt.Errorf("callbacks: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("callbacks: gcm init: %w", err)
	}
	return &Provider{
		signingKey: []byte(signingKey),
		aead:       aead,
		endpoint:   endpoint,
		baseURL:    baseURL,
		handlers:   map[string]Handler{},
		issued:     map[string]bool{},
		now:        time.Now,
	}, nil
}

// RegisterHandler binds a named handler callable from links.
func (p *Provider) RegisterHandler(name string, h Handler) {
	p.mu.Lock()
	p.handlers[name] = h
	p.mu.Unlock()
}

// CreateCallback issues a link for lead that runs the named handler when
// hit. ttl bounds the link's life; redirectURL, when set, is where the
// browser lands after the handler runs; singleUse links die on first use.
func (p *Provider) CreateCallback(lead *api.Lead, handler string, ttl time.Duration, redirectURL string, singleUse bool) (string, error) {
	p.mu.Lock()
	_, known := p.handlers[handler]
	p.mu.Unlock()
	if !known {
		return "", fmt.Errorf("callbacks: no handler named %q", handler)
	}

	pl := payload{
		Lead:      lead,
		Handler:   handler,
		ID:        uuid.NewString(),
		Exp:       p.now().Add(ttl).Unix(),
		Redirect:  redirectURL,
		SingleUse: singleUse,
	}
	token, err := p.encode(pl)
	if err != nil {
		return "", err
	}

	if singleUse {
		p.mu.Lock()
		p.issued[pl.ID] = true
		p.mu.Unlock()
	}
	return fmt.Sprintf("%s/%s/%s", p.baseURL, p.endpoint, token), nil
}

func (p *Provider) encode(pl payload) (string, error) {
	plain, err := json.Marshal(pl)
	if err != nil {
		return "", fmt.Errorf("callbacks: marshal payload: %w", err)
	}
	mac := hmac.New(sha256.New, p.signingKey)
	mac.Write(plain)
	blob := append(plain, mac.Sum(nil)...)

	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("callbacks: nonce: %w", err)
	}
	sealed := p.aead.Seal(nonce, nonce, blob, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// decode reverses encode and verifies the MAC and expiry. Every failure
// maps to ErrInvalidToken.
func (p *Provider) decode(token string) (*payload, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(sealed) <= p.aead.NonceSize() {
		return nil, ErrInvalidToken
	}
	nonce, ciphertext := sealed[:p.aead.NonceSize()], sealed[p.aead.NonceSize():]
	blob, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil || len(blob) <= macSize {
		return nil, ErrInvalidToken
	}

	plain, sum := blob[:len(blob)-macSize], blob[len(blob)-macSize:]
	mac := hmac.New(sha256.New, p.signingKey)
	mac.Write(plain)
	if !hmac.Equal(sum, mac.Sum(nil)) {
		return nil, ErrInvalidToken
	}

	var pl payload
	if err := json.Unmarshal(plain, &pl); err != nil {
		return nil, ErrInvalidToken
	}
	if pl.Exp < p.now().Unix() {
		return nil, ErrInvalidToken
	}
	return &pl, nil
}

// consume enforces single use. Returns false when the link is already
// spent.
func (p *Provider) consume(pl *payload) bool {
	if !pl.SingleUse {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.issued[pl.ID] {
		return false
	}
	delete(p.issued, pl.ID)
	return true
}

// MountRoutes registers the callback endpoint on the router.
func (p *Provider) MountRoutes(r *mux.Router) {
	r.HandleFunc("/"+p.endpoint+"/{token}", p.serve).Methods(http.MethodGet, http.MethodPost)
}

func (p *Provider) serve(w http.ResponseWriter, req *http.Request) {
	pl, err := p.decode(mux.Vars(req)["token"])
	if err != nil {
		unauthorized(w)
		return
	}
	if !p.consume(pl) {
		unauthorized(w)
		return
	}

	p.mu.Lock()
	handler, ok := p.handlers[pl.Handler]
	p.mu.Unlock()
	if !ok {
		unauthorized(w)
		return
	}

	values := requestValues(req)

	body, err := invoke(req.Context(), handler, pl.Lead, values)
	if err != nil {
		// Handler failures look exactly like bad tokens from outside.
		slog.Error("Callback handler failed", "handler", pl.Handler, "error", err)
		unauthorized(w)
		return
	}

	if pl.Redirect != "" {
		http.Redirect(w, req, pl.Redirect, http.StatusFound)
		return
	}
	if body != "" {
		_, _ = w.Write([]byte(body))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requestValues flattens query parameters, form fields, and a JSON object
// body into one string map. JSON keys win on collision.
func requestValues(req *http.Request) map[string]string {
	values := map[string]string{}
	isJSON := strings.HasPrefix(req.Header.Get("Content-Type"), "application/json")

	if err := req.ParseForm(); err == nil {
		for k := range req.Form {
			values[k] = req.Form.Get(k)
		}
	}
	if req.Method == http.MethodPost && isJSON {
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err == nil {
			for k, v := range body {
				values[k] = fmt.Sprint(v)
			}
		}
	}
	return values
}

// invoke shields the server from handler panics; they surface as errors
// and get the same uniform refusal as everything else.
func invoke(ctx context.Context, h Handler, lead *api.Lead, values map[string]string) (body string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callbacks: handler panic: %v", r)
		}
	}()
	return h(ctx, lead, values)
}

// unauthorized answers the uniform failure response. Tampered, expired,
// consumed, and unknown tokens are indistinguishable from outside.
func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "unauthorized"})
}
